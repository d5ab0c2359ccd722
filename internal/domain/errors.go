package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the counterpart could not be reached or the pipe broke.
	ErrConnection = errors.New("connection error")
	// ErrNotReady means an encrypted command was attempted without a session key.
	ErrNotReady = errors.New("channel not ready: handshake required")
	// ErrTimeout means no response arrived before the request deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")
	// ErrHandshakeCancelled means the user declined pairing.
	ErrHandshakeCancelled = errors.New("handshake cancelled by user")
	// ErrDuplicateMessageID is a programming error: an id is already pending.
	ErrDuplicateMessageID = errors.New("duplicate message id")
)

// ProtocolError reports a version mismatch, malformed envelope, or a
// decrypt/parse failure for one message. It never changes channel state.
type ProtocolError struct {
	MessageID MessageID
	Reason    string
	Err       error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.MessageID != "" {
		msg += fmt.Sprintf(" (message %s)", e.MessageID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProtocol) true for any ProtocolError.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ResponseError is an {"error": code} payload returned by the counterpart.
type ResponseError struct {
	Command string
	Code    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: counterpart returned error %q", e.Command, e.Code)
}
