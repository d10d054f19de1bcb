package auth

import "errors"

// Error is a domain failure whose Message is safe to show to users.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidCredentials = &Error{Code: "invalid_credentials", Message: "Invalid credentials"}
	ErrEmailTaken         = &Error{Code: "email_taken", Message: "Email already registered"}
	ErrInvalidToken       = &Error{Code: "invalid_token", Message: "Invalid token"}
	ErrKeyNotFound        = &Error{Code: "key_not_found", Message: "API key not found"}
	ErrForbidden          = &Error{Code: "forbidden", Message: "Forbidden"}
	ErrInvalidInput       = &Error{Code: "invalid_input", Message: "Invalid request"}
)

func invalidInput(msg string) *Error {
	return &Error{Code: ErrInvalidInput.Code, Message: msg}
}

// AsError extracts the domain error from err, if there is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
