package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- OAEP label hash fixed by the counterpart
	"crypto/x509"
	"errors"
	"fmt"

	"nativemsg/internal/domain"
)

// KeyPairBits is the modulus size used for handshake key pairs.
const KeyPairBits = 2048

var errNotRSA = errors.New("crypto: key is not RSA")

// GenerateKeyPair returns a fresh RSA key pair encoded as SPKI / PKCS#8 DER.
func GenerateKeyPair(bits int) (domain.KeyPair, error) {
	if bits <= 0 {
		bits = KeyPairBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return domain.KeyPair{}, err
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return domain.KeyPair{}, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return domain.KeyPair{}, err
	}
	return domain.KeyPair{Public: pub, Private: der}, nil
}

// WrapKey encrypts key for the holder of publicKey (SPKI DER) with RSA-OAEP/SHA-1.
func WrapKey(key []byte, publicKey []byte) ([]byte, error) {
	parsed, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errNotRSA
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
}

// UnwrapKey reverses WrapKey with privateKey (PKCS#8 DER).
func UnwrapKey(wrapped []byte, privateKey []byte) ([]byte, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errNotRSA
	}
	return rsa.DecryptOAEP(sha1.New(), nil, priv, wrapped, nil)
}
