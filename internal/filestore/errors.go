// Package filestore implements the content-addressed file storage layer.
package filestore

import (
	"errors"
	"fmt"

	"github.com/cardvault/filestore/internal/filestore/backend"
)

var (
	// ErrNotFound indicates the key exists in neither the registry nor
	// the backend.
	ErrNotFound = errors.New("file not found")

	// ErrCorrupt indicates the stored bytes exist but cannot be decoded.
	// Logged at Error severity: this is data corruption, not caller error.
	ErrCorrupt = backend.ErrCorrupt

	// ErrNotSupported indicates the active backend lacks the capability.
	ErrNotSupported = errors.New("operation not supported for this storage type")

	// ErrWrongBackend indicates the record was stored on a backend other
	// than the active one; retrieval needs the original configuration.
	ErrWrongBackend = errors.New("file stored on inactive backend")
)

// ValidationError rejects an upload before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
