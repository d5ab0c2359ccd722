// Package handshake implements the pairing exchange that gives the browser
// side and the desktop side a shared session key.
//
// # Flows
//
// Initiator (browser side):
//  1. Generate or load an RSA key pair.
//  2. Send bw-handshake unencrypted with the base64 SPKI public key.
//  3. On "success", unwrap sharedKey (RSA-OAEP/SHA-1) with the private key;
//     the result is the session key.
//  4. On "cancelled", no key exists; the user declined pairing.
//
// Responder (desktop side):
//  1. Decode the public key from the request.
//  2. Ask the user (Approver) whether to pair.
//  3. Mint a 64-byte session key and wrap it for the public key.
//
// # Errors
//
// Every malformed request or response is a *domain.ProtocolError carrying the
// message id. A cancelled handshake is not an error at this layer; callers
// decide how to surface it.
package handshake
