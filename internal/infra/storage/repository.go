package storage

import (
	"context"
	"errors"

	"github.com/vietddude/streamcollector/internal/core/domain"
)

var (
	// ErrControlStoreUnavailable wraps every backend failure. The supervisor
	// logs it and retries; it is never fatal.
	ErrControlStoreUnavailable = errors.New("control store unavailable")

	// ErrFlagsNotFound is returned when the control document does not exist
	ErrFlagsNotFound = errors.New("control flags not found")
)

// ControlStore is the shared flag document the supervisor polls. Operators
// may mutate it concurrently, so callers must not cache reads.
type ControlStore interface {
	// Get reads the lifecycle flags of a control document
	Get(ctx context.Context, key string) (domain.ControlFlags, error)

	// Set writes a single field of a control document, creating it if needed
	Set(ctx context.Context, key, field, value string) error

	// AppendToList appends an entry to a list field
	AppendToList(ctx context.Context, key, field, entry string) error

	// List returns the entries of a list field in insertion order
	List(ctx context.Context, key, field string) ([]string, error)

	// ClearList removes every entry of a list field
	ClearList(ctx context.Context, key, field string) error
}

// FieldReader is implemented by stores that can return every scalar field of
// a control document, used by the status command.
type FieldReader interface {
	Fields(ctx context.Context, key string) (map[string]string, error)
}

// Unavailable wraps err as ErrControlStoreUnavailable, keeping the cause.
func Unavailable(op string, err error) error {
	return &unavailableError{op: op, err: err}
}

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return "control store unavailable: " + e.op + ": " + e.err.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrControlStoreUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.err
}
