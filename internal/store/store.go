package store

import (
	"context"

	"github.com/hyperengineering/spinsync/internal/types"
)

// RecordStore persists local records and their metadata.
type RecordStore interface {
	CreateRecord(ctx context.Context, fields types.RecordFields) (string, error)
	UpdateRecord(ctx context.Context, id string, fields types.RecordFields) error
	GetRecord(ctx context.Context, id string) (*types.Record, error)
	DeleteRecords(ctx context.Context, ids []string) (int64, error)
	RecordIDs(ctx context.Context, kind types.Kind) ([]string, error)
	ChildIDs(ctx context.Context, parentID string, kind types.Kind) ([]string, error)
	FindByMeta(ctx context.Context, key types.LookupKey) (string, bool, error)

	GetMeta(ctx context.Context, id, key string) (string, error)
	SetMeta(ctx context.Context, id, key, value string) error
	SetMetadata(ctx context.Context, id string, md types.Metadata) error
	AllMeta(ctx context.Context, id string) (types.Metadata, error)
}

// TaxonomyStore manages term labels attached to records.
type TaxonomyStore interface {
	SetRecordTerms(ctx context.Context, recordID, taxonomy string, names []string) error
	ListTerms(ctx context.Context, taxonomy string) ([]types.Term, error)
	DeleteTerm(ctx context.Context, id, taxonomy string) error
}

// AttachmentIndex tracks which asset file belongs to which record.
type AttachmentIndex interface {
	CreateAttachment(ctx context.Context, ownerID, path, sourceURL string) (string, error)
	GetAttachment(ctx context.Context, id string) (*types.Attachment, error)
	UpdateAttachmentPath(ctx context.Context, id, path, sourceURL string) error
	AttachmentsFor(ctx context.Context, ownerIDs []string) ([]types.Attachment, error)
	GetMeta(ctx context.Context, id, key string) (string, error)
	SetMeta(ctx context.Context, id, key, value string) error
}

// OptionStore persists scope state visible to every process sharing the database.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error
	DeleteOption(ctx context.Context, name string) error
	AcquireFlag(ctx context.Context, name string) (bool, error)
	ReleaseFlag(ctx context.Context, name string) error
}

// Store is the full catalog store.
type Store interface {
	RecordStore
	TaxonomyStore
	AttachmentIndex
	OptionStore
	Ping(ctx context.Context) error
	Close() error
}
