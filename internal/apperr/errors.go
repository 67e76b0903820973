// Package apperr defines the error values shared across packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrShuttingDown  = errors.New("shutting down")
)

// Error categories. Concrete errors wrap one of these so callers can apply
// the pipeline's failure policy with errors.Is.
var (
	ErrAcquisition = errors.New("acquisition failed")
	ErrExtraction  = errors.New("extraction failed")
	ErrIndex       = errors.New("index failed")
	ErrStore       = errors.New("store failed")
)

var (
	ErrMissingSource     = fmt.Errorf("%w: item has no url", ErrAcquisition)
	ErrUnsupportedScheme = fmt.Errorf("%w: unsupported file schema", ErrAcquisition)
	ErrInvalidQuery      = fmt.Errorf("%w: invalid query", ErrIndex)
)

// NotFoundError reports a missing entity together with the id that was
// looked up.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound returns a *NotFoundError for the given entity kind and id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
