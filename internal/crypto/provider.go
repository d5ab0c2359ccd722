package crypto

import (
	"crypto/rand"

	"nativemsg/internal/domain"
)

// SessionKeyBytes is the size of keys minted by GenerateSessionKey.
const SessionKeyBytes = aesKeyBytes + macKeyBytes

// Provider implements domain.EncryptionProvider with RSA-OAEP and EncString.
type Provider struct{}

// NewProvider returns a Provider.
func NewProvider() *Provider { return &Provider{} }

// AsymmetricUnwrap recovers the session key wrapped for our key pair.
func (p *Provider) AsymmetricUnwrap(wrapped []byte, privateKey []byte) (domain.SessionKey, error) {
	raw, err := UnwrapKey(wrapped, privateKey)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := splitKey(raw); err != nil {
		Wipe(raw)
		return nil, err
	}
	return domain.SessionKey(raw), nil
}

// AsymmetricWrap is the counterpart's half of AsymmetricUnwrap.
func (p *Provider) AsymmetricWrap(key domain.SessionKey, publicKey []byte) ([]byte, error) {
	return WrapKey(key, publicKey)
}

// SymmetricEncrypt returns the EncString wire form of plaintext.
func (p *Provider) SymmetricEncrypt(plaintext []byte, key domain.SessionKey) (string, error) {
	e, err := EncryptToEncString(plaintext, key)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}

// SymmetricDecryptToText parses and decrypts an EncString.
func (p *Provider) SymmetricDecryptToText(ciphertext string, key domain.SessionKey) ([]byte, error) {
	e, err := ParseEncString(ciphertext)
	if err != nil {
		return nil, err
	}
	return DecryptEncString(e, key)
}

// GenerateSessionKey mints a fresh 64-byte enc+mac key.
func GenerateSessionKey() (domain.SessionKey, error) {
	k := make([]byte, SessionKeyBytes)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return domain.SessionKey(k), nil
}

var _ domain.EncryptionProvider = (*Provider)(nil)
