// Package validation checks remote payloads and request parameters before
// they reach the store.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/spinsync/internal/types"
)

const (
	// MaxTitleLength bounds artist and offer names.
	MaxTitleLength = 500
	// MaxTagLength bounds a single offer tag.
	MaxTagLength = 200
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// Errors is a set of field failures usable as an error.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors Errors
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// Err returns the accumulated failures, or nil when there are none.
func (c *Collector) Err() error {
	if len(c.errors) == 0 {
		return nil
	}
	return c.errors
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateText rejects invalid UTF-8, NUL bytes and values longer than max runes.
func ValidateText(field, value string, max int) *ValidationError {
	switch {
	case !utf8.ValidString(value):
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	case strings.ContainsRune(value, 0):
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	case max > 0 && utf8.RuneCountInString(value) > max:
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", max)}
	}
	return nil
}

// ValidatePositiveID rejects remote ids that are zero or negative.
func ValidatePositiveID(field string, id int64) *ValidationError {
	if id <= 0 {
		return &ValidationError{Field: field, Message: "must be a positive id"}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID.
// ULIDs are 26 characters of Crockford Base32 (no I, L, O or U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{Field: field, Message: "must be a valid ULID (26 characters)"}
	}
	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range strings.ToUpper(value) {
		if !strings.ContainsRune(crockfordBase32, r) {
			return &ValidationError{Field: field, Message: "must be a valid ULID (invalid character)"}
		}
	}
	return nil
}

// ValidateArtist checks an artist from the remote listing.
func ValidateArtist(a types.RemoteArtist) error {
	var c Collector
	c.Add(ValidatePositiveID("id", a.ID))
	c.Add(ValidateText("name", a.Name, MaxTitleLength))
	c.Add(ValidateText("description", a.Description, 0))
	return c.Err()
}

// ValidateOffer checks an offer from the store API.
func ValidateOffer(o types.RemoteOffer) error {
	var c Collector
	c.Add(ValidatePositiveID("id", o.ID))
	c.Add(ValidateText("name", o.Name, MaxTitleLength))
	c.Add(ValidateText("description", o.Description, 0))
	if o.Price < 0 {
		c.Add(&ValidationError{Field: "price", Message: "must not be negative"})
	}
	for i, tag := range o.Tags {
		c.Add(ValidateText(fmt.Sprintf("tags[%d]", i), tag, MaxTagLength))
	}
	return c.Err()
}
