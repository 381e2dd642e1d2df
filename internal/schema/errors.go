package schema

import (
	"errors"
	"fmt"
)

// ValidationError reports a field value that violates its declared
// type or shape. It is raised on the write path, before anything
// reaches the database; the mutation carrying the bad value fails and
// nothing else does.
type ValidationError struct {
	Table  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s.%s: %s", e.Table, e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
