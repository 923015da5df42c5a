package forms

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for this package.
var (
	ErrInvalidSchema      = errors.New("invalid form schema")
	ErrUnsupportedVersion = errors.New("unsupported form schema version")
	ErrUnknownFieldType   = errors.New("unknown field type")
	ErrInvalidMetadata    = errors.New("invalid metadata")
)

// Machine-readable field error codes.
const (
	CodeRequired        = "required"
	CodeExpectedString  = "expected_string"
	CodeExpectedNumber  = "expected_number"
	CodeExpectedInteger = "expected_integer"
	CodeExpectedBoolean = "expected_boolean"
	CodeTooLong         = "too_long"
	CodeTooShort        = "too_short"
	CodePatternMismatch = "pattern_mismatch"
	CodeTooSmall        = "too_small"
	CodeTooBig          = "too_big"
	CodeInvalidSelect   = "invalid_selection"
	CodeInvalidDate     = "invalid_date"
	CodeDateTooEarly    = "date_too_early"
	CodeDateTooLate     = "date_too_late"
	CodeInvalidEmail    = "invalid_email"
	CodeUnrecognizedKey = "unrecognized_key"
)

// CatchAll is the error key for violations that belong to no single field.
const CatchAll = "_"

// SchemaError lists every structural problem found in a schema document.
// It matches ErrInvalidSchema and any more specific cause via errors.Is.
type SchemaError struct {
	Problems []string
	causes   []error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidSchema.Error(), strings.Join(e.Problems, "; "))
}

func (e *SchemaError) Unwrap() []error {
	return append([]error{ErrInvalidSchema}, e.causes...)
}

func (e *SchemaError) add(cause error, format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
	if cause != nil {
		e.causes = append(e.causes, cause)
	}
}

func (e *SchemaError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ValidationError carries per-field error codes for rejected metadata.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d field(s) rejected", ErrInvalidMetadata.Error(), len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidMetadata }
