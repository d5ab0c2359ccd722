package domain

// SessionKey is symmetric key material shared after a handshake. It lives in
// memory for one connection and is replaced wholesale, never mutated.
type SessionKey []byte

// KeyPair is the local RSA key pair used to receive the wrapped session key.
type KeyPair struct {
	Public  []byte `json:"public"`  // SPKI DER
	Private []byte `json:"private"` // PKCS#8 DER
}
