package channel

import (
	"errors"
	"fmt"

	"hydronotify/internal/model"
)

// Code classifies a send failure.
type Code string

const (
	// CodeValidation: malformed target, nothing was attempted.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeConfig: the channel is not configured on this deployment.
	CodeConfig Code = "CONFIG_ERROR"
	// CodeTransport: the provider call failed, was rejected or timed out.
	CodeTransport Code = "TRANSPORT_ERROR"
)

var (
	ErrInvalidTarget = errors.New("invalid target address")
	ErrEmptyMessage  = errors.New("empty message")
	ErrNotConfigured = errors.New("channel not configured")
)

// Error is returned by Sender implementations.
type Error struct {
	Channel model.Channel
	Code    Code
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Channel, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Channel, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(ch model.Channel, code Code, err error) *Error {
	return &Error{Channel: ch, Code: code, Err: err}
}

// CodeOf classifies any error. Untyped errors, including context deadlines,
// are transport failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	if errors.Is(err, ErrNotConfigured) {
		return CodeConfig
	}
	if errors.Is(err, ErrInvalidTarget) || errors.Is(err, ErrEmptyMessage) {
		return CodeValidation
	}
	return CodeTransport
}

// Outcome maps err onto the attempt outcome recorded by the dispatcher.
func Outcome(err error) model.Outcome {
	switch CodeOf(err) {
	case "":
		return model.OutcomeSuccess
	case CodeValidation:
		return model.OutcomeValidationError
	case CodeConfig:
		return model.OutcomeConfigError
	default:
		return model.OutcomeTransportError
	}
}
