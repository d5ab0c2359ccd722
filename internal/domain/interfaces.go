package domain

import "context"

// Receiver gets every inbound frame from a Transport.
type Receiver interface {
	// Receive is called from the transport's read loop, one frame at a time.
	Receive(frame []byte)
	// Closed reports that the current connection failed. It is not called
	// after a deliberate Disconnect.
	Closed(err error)
}

// Transport is a bidirectional framed message pipe to the counterpart process.
// It has no protocol knowledge.
type Transport interface {
	// Connect opens the pipe. It is a no-op when already connected, and
	// concurrent callers share a single in-flight attempt.
	Connect(ctx context.Context, r Receiver) error
	// Send writes exactly one frame. Writes never interleave.
	Send(ctx context.Context, frame []byte) error
	// Disconnect releases the pipe; safe when not connected.
	Disconnect() error
}

// EncryptionProvider supplies the primitives the channel needs over an opaque
// key type.
type EncryptionProvider interface {
	AsymmetricUnwrap(wrapped []byte, privateKey []byte) (SessionKey, error)
	SymmetricEncrypt(plaintext []byte, key SessionKey) (string, error)
	SymmetricDecryptToText(ciphertext string, key SessionKey) ([]byte, error)
}

// KeyPairStore persists the local handshake key pair.
type KeyPairStore interface {
	SaveKeyPair(passphrase string, kp KeyPair) error
	LoadKeyPair(passphrase string) (KeyPair, error)
}
