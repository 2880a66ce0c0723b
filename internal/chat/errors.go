package chat

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
)

// Error carries a client-facing message and classifies under one of the
// sentinels above via errors.Is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

func invalid(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

func notFound(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }
