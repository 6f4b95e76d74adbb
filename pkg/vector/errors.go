package vector

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Callers branch on kinds via errors.Is with
// the matching sentinel below.
type Kind string

const (
	// KindDimensionMismatch: input vector length differs from the
	// collection dimension.
	KindDimensionMismatch Kind = "DIMENSION_MISMATCH"
	// KindInvalidVector: empty or otherwise malformed input vector.
	KindInvalidVector Kind = "INVALID_VECTOR"
	// KindNotFound: unknown or tombstoned VectorID.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidConfig: out-of-range construction parameters.
	KindInvalidConfig Kind = "INVALID_CONFIG"
	// KindNonEmptyCollection: dimension change attempted on a
	// populated collection.
	KindNonEmptyCollection Kind = "NON_EMPTY_COLLECTION"
	// KindUnsupported: a filter shape the engine does not implement.
	KindUnsupported Kind = "UNSUPPORTED"
	// KindCorruptStream: magic/version/checksum/invariant failure
	// while decoding a persisted collection.
	KindCorruptStream Kind = "CORRUPT_STREAM"
	// KindIo: underlying reader or writer failure during
	// serialization.
	KindIo Kind = "IO"
)

// Error codes follow the pattern ERR_XXX_NAME: 1XX configuration,
// 2XX stream/IO, 4XX validation.
var errorCodes = map[Kind]string{
	KindInvalidConfig:      "ERR_101_INVALID_CONFIG",
	KindIo:                 "ERR_201_IO",
	KindCorruptStream:      "ERR_205_CORRUPT_STREAM",
	KindDimensionMismatch:  "ERR_401_DIMENSION_MISMATCH",
	KindInvalidVector:      "ERR_402_INVALID_VECTOR",
	KindNonEmptyCollection: "ERR_403_NON_EMPTY_COLLECTION",
	KindNotFound:           "ERR_404_NOT_FOUND",
	KindUnsupported:        "ERR_405_UNSUPPORTED",
}

// Error is the structured error type surfaced at the collection
// boundary. Internal helpers return the same type; nothing is
// swallowed on the way out.
type Error struct {
	// Code is the stable machine-readable code, e.g. ERR_404_NOT_FOUND.
	Code string
	// Kind is the error class callers match on.
	Kind Kind
	// Message is the human-readable description.
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error-chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so
// errors.Is(err, vector.ErrNotFound) works across wrapping.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinel values for errors.Is matching, one per kind.
var (
	ErrDimensionMismatch  = &Error{Kind: KindDimensionMismatch, Code: errorCodes[KindDimensionMismatch]}
	ErrInvalidVector      = &Error{Kind: KindInvalidVector, Code: errorCodes[KindInvalidVector]}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: errorCodes[KindNotFound]}
	ErrInvalidConfig      = &Error{Kind: KindInvalidConfig, Code: errorCodes[KindInvalidConfig]}
	ErrNonEmptyCollection = &Error{Kind: KindNonEmptyCollection, Code: errorCodes[KindNonEmptyCollection]}
	ErrUnsupported        = &Error{Kind: KindUnsupported, Code: errorCodes[KindUnsupported]}
	ErrCorruptStream      = &Error{Kind: KindCorruptStream, Code: errorCodes[KindCorruptStream]}
	ErrIo                 = &Error{Kind: KindIo, Code: errorCodes[KindIo]}
)

// newErrorf builds a new Error of the given kind.
func newErrorf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Code:    errorCodes[kind],
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapError attaches a cause to a new Error of the given kind.
func wrapError(kind Kind, err error, message string) *Error {
	return &Error{
		Code:    errorCodes[kind],
		Kind:    kind,
		Message: message,
		Cause:   err,
	}
}

// KindOf extracts the Kind from an error chain. Returns the empty
// string when no *Error is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
