package zipstruct

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat matches any *FormatError.
	ErrFormat = errors.New("zip: malformed archive")
	// ErrUnsupported matches any *UnsupportedError.
	ErrUnsupported = errors.New("zip: unsupported archive")
)

// FormatError reports a structure that is missing or malformed at a known
// position in the source. An empty Detail means the signature was missing.
type FormatError struct {
	Structure string
	Offset    int64
	Detail    string
	Err       error
}

func (e *FormatError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = "signature not found"
	}
	msg := fmt.Sprintf("zip: %s at offset %d: %s", e.Structure, e.Offset, detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedError reports a valid archive feature or magnitude the rebuilder
// refuses to handle.
type UnsupportedError struct {
	Reason string
	Value  uint64
	Limit  uint64
}

func (e *UnsupportedError) Error() string {
	if e.Limit == 0 && e.Value == 0 {
		return "zip: unsupported: " + e.Reason
	}
	return fmt.Sprintf("zip: unsupported: %s (value %d exceeds limit %d)", e.Reason, e.Value, e.Limit)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// NewFormatError returns a format error for structure at offset.
func NewFormatError(structure string, offset int64) *FormatError {
	return &FormatError{Structure: structure, Offset: offset}
}

// NewUnsupported returns an unsupported error without a numeric limit.
func NewUnsupported(reason string) *UnsupportedError {
	return &UnsupportedError{Reason: reason}
}
