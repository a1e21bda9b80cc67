package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the record store when no memory has the given id
var ErrNotFound = errors.New("memory not found")

// EmbeddingError reports a model backend failure. The embedding layer never
// retries; policy for that belongs to the caller.
type EmbeddingError struct {
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("embedding failed: %s", e.Reason)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsEmbeddingError reports whether err is (or wraps) an EmbeddingError
func IsEmbeddingError(err error) bool {
	var target *EmbeddingError
	return errors.As(err, &target)
}

// DimensionError reports a vector whose length differs from the store's
// configured dimension. It is raised before any mutation happens.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// IsDimensionMismatch reports whether err is (or wraps) a DimensionError
func IsDimensionMismatch(err error) bool {
	var target *DimensionError
	return errors.As(err, &target)
}

// StoreError wraps a failure from the storage backends, tagged with the
// operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is (or wraps) a StoreError
func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
