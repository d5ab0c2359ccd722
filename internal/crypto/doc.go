// Package crypto exposes the primitives behind the native-messaging channel.
//
// Contents
//
//   - RSA-2048 key pair generation and RSA-OAEP (SHA-1) session key wrapping
//     (GenerateKeyPair, WrapKey, UnwrapKey)
//   - EncString symmetric encryption: AES-256-CBC with an optional
//     HMAC-SHA256 over iv||data (EncryptToEncString, DecryptEncString)
//   - Provider, the domain.EncryptionProvider used by the channel
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # EncString
//
// Ciphertexts travel as "<type>.<b64 iv>|<b64 data>[|<b64 mac>]". Type 2 is
// used for 64-byte keys (32 bytes AES key followed by 32 bytes MAC key);
// type 0 is the legacy MAC-less form produced for 32-byte keys.
//
// # Notes
//
// The channel treats SessionKey as opaque; only this package interprets its
// length. Decryption verifies the MAC in constant time before touching the
// padding.
package crypto
