package store

import "errors"

// StorageError represents a domain error from chunk store operations.
//
// These are business logic errors (content not found, invalid rename, etc.)
// as opposed to infrastructure errors (disk failure), which are wrapped and
// surface with ErrIO.
type StorageError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// ContentID is the content item related to the error (if applicable)
	ContentID string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.ContentID != "" {
		return e.Message + ": " + e.ContentID
	}
	return e.Message
}

// ErrorCode represents the category of a chunk store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested content or chunk doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty file name, negative chunk index
	ErrInvalidArgument

	// ErrIncomplete indicates a chunk is missing from a content item that
	// was expected to be complete
	ErrIncomplete

	// ErrCorrupt indicates a stored chunk could not be read back intact.
	// The parent content is flagged but not auto-deleted.
	ErrCorrupt

	// ErrIO indicates an I/O error from the storage backend
	ErrIO
)

// NewNotFoundError creates a StorageError for missing content or chunks.
func NewNotFoundError(contentID, what string) *StorageError {
	return &StorageError{
		Code:      ErrNotFound,
		Message:   what + " not found",
		ContentID: contentID,
	}
}

// NewInvalidArgumentError creates a StorageError for bad parameters.
func NewInvalidArgumentError(contentID, msg string) *StorageError {
	return &StorageError{
		Code:      ErrInvalidArgument,
		Message:   msg,
		ContentID: contentID,
	}
}

// IsNotFound reports whether err is a StorageError with ErrNotFound.
func IsNotFound(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Code == ErrNotFound
}
