package domain

import "encoding/json"

// MessageID correlates a response with the request that caused it.
type MessageID = string

// MessageCommon is present on every envelope exchanged with the counterpart.
type MessageCommon struct {
	MessageID MessageID `json:"messageId"`
	Version   int       `json:"version"`
}

// UnencryptedMessage is only used for the handshake, before a session key exists.
type UnencryptedMessage struct {
	MessageCommon
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncryptedMessage carries an EncString of a JSON DecryptedCommandData.
type EncryptedMessage struct {
	MessageCommon
	EncryptedCommand string `json:"encryptedCommand"`
}

// EncryptedMessageResponse carries an EncString of the JSON response payload.
type EncryptedMessageResponse struct {
	MessageCommon
	EncryptedPayload string `json:"encryptedPayload"`
}

// UnencryptedMessageResponse answers an UnencryptedMessage.
type UnencryptedMessageResponse struct {
	MessageCommon
	Payload json.RawMessage `json:"payload"`
}

// DecryptedCommandData is the plaintext sealed inside encryptedCommand.
type DecryptedCommandData struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakeStatus is the counterpart's answer to a pairing request.
type HandshakeStatus string

const (
	HandshakeSuccess   HandshakeStatus = "success"
	HandshakeCancelled HandshakeStatus = "cancelled"
)

// HandshakeRequest is the payload of the bw-handshake command.
type HandshakeRequest struct {
	PublicKey string `json:"publicKey"` // base64 SPKI DER
}

// HandshakePayload is the payload of the handshake response. SharedKey is the
// base64 session key wrapped for our public key and is set iff Status is success.
type HandshakePayload struct {
	Status    HandshakeStatus `json:"status"`
	SharedKey string          `json:"sharedKey,omitempty"`
}

// ErrorPayload is how the counterpart reports a failed command.
type ErrorPayload struct {
	Error string `json:"error"`
}
