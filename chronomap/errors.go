package chronomap

import (
	"errors"
	"fmt"

	"github.com/sachin-handiekar/chronomap/internal/sizing"
)

// Kind classifies why Create failed.
type Kind int

const (
	InvalidConfig Kind = iota
	ConflictingConfig
	MissingSize
	TooManyEntries
	TooManyChunks
	BadSample
	AlreadyFrozen
)

func (k Kind) String() string {
	switch k {
	case InvalidConfig:
		return "InvalidConfig"
	case ConflictingConfig:
		return "ConflictingConfig"
	case MissingSize:
		return "MissingSize"
	case TooManyEntries:
		return "TooManyEntries"
	case TooManyChunks:
		return "TooManyChunks"
	case BadSample:
		return "BadSample"
	case AlreadyFrozen:
		return "AlreadyFrozen"
	default:
		return "Unknown"
	}
}

// Error is a structured, synchronous failure from a Builder's mutators or
// Create. Msg always carries a human-readable rendering of the offending
// values; Field, Got, and Want additionally expose them structured, where
// a single offending field/value/constraint naturally applies.
type Error struct {
	Kind  Kind
	Msg   string
	Field string
	Got   any
	Want  any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether target is a sentinel for the same Kind, so callers can
// errors.Is(err, chronomap.ErrConflictingConfig) instead of unwrapping to
// read Kind directly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels, one per Kind, for errors.Is. They carry no Msg/Field/Got/Want
// of their own — match them for classification, then read the structured
// fields off the concrete *Error returned by the failing call.
var (
	ErrInvalidConfig     = &Error{Kind: InvalidConfig}
	ErrConflictingConfig = &Error{Kind: ConflictingConfig}
	ErrMissingSize       = &Error{Kind: MissingSize}
	ErrTooManyEntries    = &Error{Kind: TooManyEntries}
	ErrTooManyChunks     = &Error{Kind: TooManyChunks}
	ErrBadSample         = &Error{Kind: BadSample}
	ErrAlreadyFrozen     = &Error{Kind: AlreadyFrozen}
)

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// newFieldError is newError plus the structured Field/Got/Want a caller can
// read back off the concrete *Error without reparsing Msg.
func newFieldError(k Kind, field string, got, want any, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Field: field, Got: got, Want: want}
}

// fromSizingError converts an internal/sizing.Error into the public Error
// type, preserving Kind, message, and structured fields.
func fromSizingError(err error) error {
	if err == nil {
		return nil
	}
	var se *sizing.Error
	if errors.As(err, &se) {
		return &Error{Kind: Kind(se.Kind), Msg: se.Msg, Field: se.Field, Got: se.Got, Want: se.Want}
	}
	return err
}
