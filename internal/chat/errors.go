package chat

import "errors"

// Errors surfaced to clients as a unicast error event. Callers wrap them with
// detail using fmt.Errorf("%w: ...").
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrUserNotFound           = errors.New("user not found")
	ErrValidation             = errors.New("invalid message")
	ErrAuthorizationDenied    = errors.New("not authorized")
	ErrNotFound               = errors.New("message not found")
)

// Errors that never reach a client verbatim.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrEngineStopped    = errors.New("chat engine stopped")
)

// InternalErrorMessage is the text sent for failures outside the taxonomy.
const InternalErrorMessage = "internal server error"

// PublicMessage returns the text a client should see for err, and whether
// err belongs to the client facing taxonomy. For any other error it returns
// InternalErrorMessage and false; the caller is expected to log it.
func PublicMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrAuthenticationRequired),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrAuthorizationDenied),
		errors.Is(err, ErrNotFound):
		return err.Error(), true
	default:
		return InternalErrorMessage, false
	}
}
