package app

import (
	"context"
	"errors"
	"fmt"

	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
	"nativemsg/internal/store"
)

// KeyPair loads the stored key pair. When none exists and create is set, a
// fresh pair is generated and saved.
func (w *Wire) KeyPair(passphrase string, create bool) (domain.KeyPair, error) {
	kp, err := w.Keys.LoadKeyPair(passphrase)
	if err == nil || !create || !errors.Is(err, store.ErrNoKeyPair) {
		return kp, err
	}
	return w.GenerateKeyPair(passphrase)
}

// GenerateKeyPair creates and stores a new pair, replacing any existing one.
func (w *Wire) GenerateKeyPair(passphrase string) (domain.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair(crypto.KeyPairBits)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	if err := w.Keys.SaveKeyPair(passphrase, kp); err != nil {
		return domain.KeyPair{}, fmt.Errorf("save key pair: %w", err)
	}
	w.Log.WithField("fingerprint", crypto.Fingerprint(kp.Public)).Info("generated key pair")
	return kp, nil
}

// Pair connects and runs the handshake with the stored key pair.
func (w *Wire) Pair(ctx context.Context, passphrase string) (domain.HandshakePayload, error) {
	kp, err := w.KeyPair(passphrase, true)
	if err != nil {
		return domain.HandshakePayload{}, err
	}
	return w.Channel.Handshake(ctx, kp)
}
