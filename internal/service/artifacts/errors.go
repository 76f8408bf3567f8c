package artifacts

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound reports that no artifact matched the identifier.
	ErrNotFound = errors.New("artifact not found")
	// ErrNotFoundOrUnauthorized collapses "no such artifact" and "caller is
	// not the owner" into one failure so non-owners cannot probe existence.
	ErrNotFoundOrUnauthorized = errors.New("artifact not found or unauthorized")
	// ErrAlreadyLiked reports a duplicate like from the same user.
	ErrAlreadyLiked = errors.New("artifact already liked")
	// ErrUpdateFailed reports that the record vanished between the ownership
	// check and the update.
	ErrUpdateFailed = errors.New("artifact update failed")
	// ErrDeleteFailed reports that the record vanished between the ownership
	// check and the delete.
	ErrDeleteFailed = errors.New("artifact delete failed")
)

// ValidationError reports malformed or missing input. MissingFields carries
// every absent required field when the failure came from create validation.
type ValidationError struct {
	Message       string
	MissingFields []string
}

func (e *ValidationError) Error() string {
	if len(e.MissingFields) > 0 {
		return "Missing required fields: " + strings.Join(e.MissingFields, ", ")
	}
	return e.Message
}

func newValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// AsValidation unwraps err into a ValidationError when it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
