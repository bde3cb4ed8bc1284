package chunkset

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the chunkset package.
var (
	// ErrDatasetNotFound is returned when opening a url for read and no
	// dataset metadata exists there.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrNotDatasetToOverwrite is returned when a write-mode create targets
	// a nonempty location that is not a dataset.
	ErrNotDatasetToOverwrite = errors.New("location is not a dataset and cannot be overwritten")

	// ErrNotDatasetToAppend is returned when an append-mode open targets
	// a nonempty location that is not a dataset.
	ErrNotDatasetToAppend = errors.New("location is not a dataset and cannot be appended to")

	// ErrInvalidSelector is returned for malformed path/range selectors.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrKeyNotFound is returned when a group prefix matches no field path.
	ErrKeyNotFound = errors.New("key not found in dataset")

	// ErrUnsupportedValue is returned when a schema node is not recognized
	// by a bridging adapter's type mapping.
	ErrUnsupportedValue = errors.New("unsupported schema value")

	// ErrReadOnly is returned for writes through a read-mode dataset.
	ErrReadOnly = errors.New("dataset is read-only")

	// ErrClosed is returned when operations are attempted on a closed backend.
	ErrClosed = errors.New("backend is closed")

	// ErrDuplicateFieldPath is returned when schema flattening produces two
	// equal field paths. This is a schema construction defect.
	ErrDuplicateFieldPath = errors.New("duplicate field path in schema")
)

// SelectorErrorType categorizes selector resolution errors.
type SelectorErrorType int

const (
	// SelectorErrorTypeUnknown is an unclassified selector error.
	SelectorErrorTypeUnknown SelectorErrorType = iota
	// SelectorErrorTypeMultiRange indicates multiple range terms where at
	// most one is allowed.
	SelectorErrorTypeMultiRange
	// SelectorErrorTypeNoPath indicates a write without a field path.
	SelectorErrorTypeNoPath
	// SelectorErrorTypeBounds indicates a range outside the addressed dimension.
	SelectorErrorTypeBounds
	// SelectorErrorTypeMissing indicates a prefix that matches no field.
	SelectorErrorTypeMissing
	// SelectorErrorTypeEmpty indicates a selector with no terms at all.
	SelectorErrorTypeEmpty
)

// SelectorError provides detailed information about selector failures.
type SelectorError struct {
	Type    SelectorErrorType
	Message string
	Path    string
}

func (e *SelectorError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s [%s]", e.Message, e.Path)
	}
	return e.Message
}

// Is implements error matching for SelectorError.
func (e *SelectorError) Is(target error) bool {
	if e.Type == SelectorErrorTypeMissing {
		return target == ErrKeyNotFound
	}
	return target == ErrInvalidSelector
}

// newSelectorError creates a new SelectorError.
func newSelectorError(errType SelectorErrorType, message, path string) *SelectorError {
	return &SelectorError{
		Type:    errType,
		Message: message,
		Path:    path,
	}
}

// FieldError provides detailed information about a failure tied to one
// field store (construction, read, write or commit).
type FieldError struct {
	Path  string
	Op    string
	Cause error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s: %v", e.Path, e.Op, e.Cause)
}

func (e *FieldError) Unwrap() error {
	return e.Cause
}

// newFieldError creates a new FieldError.
func newFieldError(path, op string, cause error) *FieldError {
	return &FieldError{Path: path, Op: op, Cause: cause}
}
