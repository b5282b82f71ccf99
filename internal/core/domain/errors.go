package domain

import (
	"errors"
	"fmt"
)

// Store sentinels. ErrDuplicateUser is returned by UserRepository.Create when a
// username or email uniqueness constraint rejects the write.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
)

// ErrorKind classifies failures so transports can decide how to surface them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindAuth        ErrorKind = "auth"
	KindPersistence ErrorKind = "persistence"
	KindDelivery    ErrorKind = "delivery"
	KindDecode      ErrorKind = "decode"
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func ValidationError(msg string) error { return newError(KindValidation, msg, nil) }
func ConflictError(msg string) error   { return newError(KindConflict, msg, nil) }
func AuthError(msg string) error       { return newError(KindAuth, msg, nil) }

func PersistenceError(msg string, cause error) error {
	return newError(KindPersistence, msg, cause)
}

func DeliveryError(msg string, cause error) error {
	return newError(KindDelivery, msg, cause)
}

func DecodeError(msg string, cause error) error {
	return newError(KindDecode, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MessageOf returns the caller-facing message of the first *Error in err's
// chain. Errors outside the taxonomy yield their Error() text.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
