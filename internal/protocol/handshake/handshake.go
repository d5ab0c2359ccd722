package handshake

import (
	"encoding/json"
	"fmt"

	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/envelope"
)

// Wrapper wraps a session key for a public key. crypto.Provider satisfies it.
type Wrapper interface {
	AsymmetricWrap(key domain.SessionKey, publicKey []byte) ([]byte, error)
}

// Request builds the bw-handshake envelope for kp.
func Request(b envelope.Builder, kp domain.KeyPair) (domain.UnencryptedMessage, error) {
	if len(kp.Public) == 0 {
		return domain.UnencryptedMessage{}, fmt.Errorf("handshake: empty public key")
	}
	return b.Unencrypted(domain.CommandHandshake, domain.HandshakeRequest{
		PublicKey: crypto.B64(kp.Public),
	})
}

// ParseResponse validates the handshake response envelope.
func ParseResponse(in envelope.Inbound) (domain.HandshakePayload, error) {
	if in.Kind() != envelope.KindUnencryptedResponse {
		return domain.HandshakePayload{}, &domain.ProtocolError{
			MessageID: in.MessageID,
			Reason:    "handshake answered with " + in.Kind().String(),
		}
	}
	var p domain.HandshakePayload
	if err := json.Unmarshal(in.Payload, &p); err != nil {
		return domain.HandshakePayload{}, &domain.ProtocolError{MessageID: in.MessageID, Reason: "handshake payload", Err: err}
	}
	switch p.Status {
	case domain.HandshakeSuccess:
		if p.SharedKey == "" {
			return domain.HandshakePayload{}, &domain.ProtocolError{MessageID: in.MessageID, Reason: "success without sharedKey"}
		}
	case domain.HandshakeCancelled:
		p.SharedKey = ""
	default:
		return domain.HandshakePayload{}, &domain.ProtocolError{
			MessageID: in.MessageID,
			Reason:    fmt.Sprintf("unknown handshake status %q", p.Status),
		}
	}
	return p, nil
}

// SessionKey unwraps the shared key of a successful handshake.
func SessionKey(id domain.MessageID, p domain.HandshakePayload, kp domain.KeyPair, enc domain.EncryptionProvider) (domain.SessionKey, error) {
	wrapped, err := crypto.FromB64(p.SharedKey)
	if err != nil {
		return nil, &domain.ProtocolError{MessageID: id, Reason: "sharedKey is not base64", Err: err}
	}
	key, err := enc.AsymmetricUnwrap(wrapped, kp.Private)
	if err != nil {
		return nil, &domain.ProtocolError{MessageID: id, Reason: "unwrap sharedKey", Err: err}
	}
	return key, nil
}

// PublicKey extracts the initiator's public key from a bw-handshake request.
func PublicKey(in envelope.Inbound) ([]byte, error) {
	if in.Command != domain.CommandHandshake {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "not a handshake: " + in.Command}
	}
	var req domain.HandshakeRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "handshake request payload", Err: err}
	}
	pub, err := crypto.FromB64(req.PublicKey)
	if err != nil || len(pub) == 0 {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "publicKey is not base64", Err: err}
	}
	return pub, nil
}

// Accept mints a session key and wraps it for publicKey.
func Accept(publicKey []byte, w Wrapper) (domain.HandshakePayload, domain.SessionKey, error) {
	key, err := crypto.GenerateSessionKey()
	if err != nil {
		return domain.HandshakePayload{}, nil, err
	}
	wrapped, err := w.AsymmetricWrap(key, publicKey)
	if err != nil {
		crypto.Wipe(key)
		return domain.HandshakePayload{}, nil, err
	}
	return domain.HandshakePayload{Status: domain.HandshakeSuccess, SharedKey: crypto.B64(wrapped)}, key, nil
}

// Decline is the payload for a refused pairing.
func Decline() domain.HandshakePayload {
	return domain.HandshakePayload{Status: domain.HandshakeCancelled}
}
