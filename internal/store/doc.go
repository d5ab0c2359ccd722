// Package store keeps the local handshake key pair on disk.
//
// The pair is serialised as JSON and sealed with a passphrase-derived key
// (scrypt, ChaCha20-Poly1305). Writes go through a temp file and a rename so
// a crash never leaves a half-written key file. Session keys are never
// persisted.
package store
