// Package envelope builds and decodes the JSON envelopes exchanged with the
// counterpart and pins the wire version.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"nativemsg/internal/domain"
)

// Version is the wire format both ends must agree on out of band.
const Version = 1

// Kind classifies an inbound envelope by the fields it carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnencryptedRequest
	KindEncryptedRequest
	KindUnencryptedResponse
	KindEncryptedResponse
)

func (k Kind) String() string {
	switch k {
	case KindUnencryptedRequest:
		return "unencrypted-request"
	case KindEncryptedRequest:
		return "encrypted-request"
	case KindUnencryptedResponse:
		return "unencrypted-response"
	case KindEncryptedResponse:
		return "encrypted-response"
	default:
		return "unknown"
	}
}

// NewMessageID returns a fresh UUIDv4 correlation id.
func NewMessageID() domain.MessageID { return uuid.NewString() }

// Builder stamps outbound envelopes with an id and the pinned version.
type Builder struct {
	Version int
	NewID   func() domain.MessageID
}

// NewBuilder returns a Builder for version v (Version when v <= 0).
func NewBuilder(v int) Builder {
	if v <= 0 {
		v = Version
	}
	return Builder{Version: v, NewID: NewMessageID}
}

func (b Builder) common() domain.MessageCommon {
	id := b.NewID
	if id == nil {
		id = NewMessageID
	}
	return domain.MessageCommon{MessageID: id(), Version: b.Version}
}

// Unencrypted builds a plain request. payload may be nil.
func (b Builder) Unencrypted(command string, payload any) (domain.UnencryptedMessage, error) {
	msg := domain.UnencryptedMessage{MessageCommon: b.common(), Command: command}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return domain.UnencryptedMessage{}, fmt.Errorf("envelope: encode payload: %w", err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Encrypted builds an encrypted request around an EncString.
func (b Builder) Encrypted(encryptedCommand string) domain.EncryptedMessage {
	return domain.EncryptedMessage{MessageCommon: b.common(), EncryptedCommand: encryptedCommand}
}

// Inbound is the union of every envelope shape.
type Inbound struct {
	MessageID        domain.MessageID `json:"messageId"`
	Version          int              `json:"version"`
	Command          string           `json:"command,omitempty"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
	EncryptedCommand string           `json:"encryptedCommand,omitempty"`
	EncryptedPayload string           `json:"encryptedPayload,omitempty"`
}

// Kind reports which envelope shape in carries.
func (in Inbound) Kind() Kind {
	switch {
	case in.EncryptedPayload != "":
		return KindEncryptedResponse
	case in.EncryptedCommand != "":
		return KindEncryptedRequest
	case in.Command != "":
		return KindUnencryptedRequest
	case len(in.Payload) > 0:
		return KindUnencryptedResponse
	default:
		return KindUnknown
	}
}

// Decode parses one inbound frame. Malformed JSON or a missing messageId is a
// protocol error.
func Decode(frame []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, &domain.ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if in.MessageID == "" {
		return Inbound{}, &domain.ProtocolError{Reason: "missing messageId"}
	}
	return in, nil
}

// CheckVersion rejects envelopes whose version differs from want.
func CheckVersion(in Inbound, want int) error {
	if in.Version != want {
		return &domain.ProtocolError{
			MessageID: in.MessageID,
			Reason:    fmt.Sprintf("version mismatch: got %d, want %d", in.Version, want),
		}
	}
	return nil
}

// Encode marshals any envelope for the transport.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
