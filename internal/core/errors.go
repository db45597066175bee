package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInvalidMessage    = "invalid_message"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeAlreadyRegistered = "already_registered"
	ErrCodeNotFriends        = "not_friends"
	ErrCodePersistenceFailed = "persistence_failed"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
	ErrNotFriends        = errors.New("not friends")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrMessageTooLong    = errors.New("message content is too long")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrOutboxFull        = errors.New("outbound queue full")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ProtocolError reports an inbound frame that could not be decoded or dispatched.
// The frame is dropped; the connection stays open.
type ProtocolError struct {
	Code string
	Err  error
}

// NewProtocolError builds a ProtocolError with the given wire code.
func NewProtocolError(code string, err error) *ProtocolError {
	return &ProtocolError{Code: code, Err: err}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %v", e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DeliveryError reports that an event could not be queued on one connection.
type DeliveryError struct {
	ConnID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ConnID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrorFor maps an error returned by the core into a wire-visible CoreError.
func ErrorFor(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return coreError(pe.Code, pe.Err.Error())
	}

	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		return coreError(ErrCodeAlreadyRegistered, err.Error())
	case errors.Is(err, ErrNotRegistered):
		return coreError(ErrCodeUnauthorized, err.Error())
	case errors.Is(err, ErrNotFriends):
		return coreError(ErrCodeNotFriends, err.Error())
	case errors.Is(err, ErrPersistenceFailed):
		return coreError(ErrCodePersistenceFailed, "message delivered live but not stored; it may be missing from history")
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		return coreError(ErrCodeBadRequest, err.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
