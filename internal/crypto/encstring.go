package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EncryptionType tags an EncString.
type EncryptionType int

const (
	AesCbc256B64           EncryptionType = 0
	AesCbc256HmacSha256B64 EncryptionType = 2
)

const (
	aesKeyBytes = 32
	macKeyBytes = 32
)

var (
	ErrInvalidKey       = errors.New("crypto: invalid symmetric key length")
	ErrInvalidEncString = errors.New("crypto: malformed EncString")
	ErrKeyTypeMismatch  = errors.New("crypto: EncString type does not match key")
	ErrMACMismatch      = errors.New("crypto: MAC verification failed")
	ErrBadPadding       = errors.New("crypto: invalid padding")
)

// EncString is a parsed "<type>.<iv>|<data>[|<mac>]" ciphertext.
type EncString struct {
	Type EncryptionType
	IV   []byte
	Data []byte
	MAC  []byte
}

// String renders the wire form.
func (e EncString) String() string {
	parts := []string{B64(e.IV), B64(e.Data)}
	if e.Type == AesCbc256HmacSha256B64 {
		parts = append(parts, B64(e.MAC))
	}
	return strconv.Itoa(int(e.Type)) + "." + strings.Join(parts, "|")
}

// ParseEncString parses the wire form.
func ParseEncString(s string) (EncString, error) {
	head, body, ok := strings.Cut(s, ".")
	if !ok {
		return EncString{}, ErrInvalidEncString
	}
	t, err := strconv.Atoi(head)
	if err != nil {
		return EncString{}, ErrInvalidEncString
	}
	parts := strings.Split(body, "|")

	var want int
	switch EncryptionType(t) {
	case AesCbc256B64:
		want = 2
	case AesCbc256HmacSha256B64:
		want = 3
	default:
		return EncString{}, fmt.Errorf("%w: unsupported type %d", ErrInvalidEncString, t)
	}
	if len(parts) != want {
		return EncString{}, ErrInvalidEncString
	}

	out := EncString{Type: EncryptionType(t)}
	if out.IV, err = FromB64(parts[0]); err != nil || len(out.IV) != aes.BlockSize {
		return EncString{}, ErrInvalidEncString
	}
	if out.Data, err = FromB64(parts[1]); err != nil || len(out.Data) == 0 || len(out.Data)%aes.BlockSize != 0 {
		return EncString{}, ErrInvalidEncString
	}
	if want == 3 {
		if out.MAC, err = FromB64(parts[2]); err != nil || len(out.MAC) != sha256.Size {
			return EncString{}, ErrInvalidEncString
		}
	}
	return out, nil
}

// splitKey returns the AES and MAC halves of key and the EncString type it implies.
func splitKey(key []byte) (encKey, macKey []byte, t EncryptionType, err error) {
	switch len(key) {
	case aesKeyBytes:
		return key, nil, AesCbc256B64, nil
	case aesKeyBytes + macKeyBytes:
		return key[:aesKeyBytes], key[aesKeyBytes:], AesCbc256HmacSha256B64, nil
	default:
		return nil, nil, 0, ErrInvalidKey
	}
}

// EncryptToEncString encrypts plaintext under key.
func EncryptToEncString(plaintext, key []byte) (EncString, error) {
	encKey, macKey, t, err := splitKey(key)
	if err != nil {
		return EncString{}, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return EncString{}, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return EncString{}, err
	}
	data := pkcs7Pad(plaintext, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, data)

	out := EncString{Type: t, IV: iv, Data: data}
	if t == AesCbc256HmacSha256B64 {
		out.MAC = computeMAC(macKey, iv, data)
	}
	return out, nil
}

// DecryptEncString authenticates and decrypts e under key.
func DecryptEncString(e EncString, key []byte) ([]byte, error) {
	encKey, macKey, t, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	if e.Type != t {
		return nil, ErrKeyTypeMismatch
	}
	if t == AesCbc256HmacSha256B64 {
		if !hmac.Equal(e.MAC, computeMAC(macKey, e.IV, e.Data)) {
			return nil, ErrMACMismatch
		}
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	if len(e.IV) != aes.BlockSize || len(e.Data) == 0 || len(e.Data)%aes.BlockSize != 0 {
		return nil, ErrInvalidEncString
	}
	out := make([]byte, len(e.Data))
	cipher.NewCBCDecrypter(block, e.IV).CryptBlocks(out, e.Data)
	return pkcs7Unpad(out, aes.BlockSize)
}

func computeMAC(macKey, iv, data []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(data)
	return h.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
