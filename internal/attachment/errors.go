package attachment

import "errors"

var (
	ErrNotFound     = errors.New("attachment not found")
	ErrForbidden    = errors.New("attachment belongs to another user")
	ErrIdeaNotFound = errors.New("idea not found or access denied")
)

// ValidationError carries a message safe to show the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
