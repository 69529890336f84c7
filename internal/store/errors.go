package store

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrEmptyMetaKey  = errors.New("metadata key must not be empty")
	ErrWrongTaxonomy = errors.New("term does not belong to taxonomy")
)
