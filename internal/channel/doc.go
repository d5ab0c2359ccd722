// Package channel implements the secure native-messaging channel between the
// browser side and the desktop app.
//
// # States
//
//	Disconnected -> Connecting -> AwaitingHandshake -> Ready
//	                   |
//	                   +-> Failed
//
// The first command connects the transport. Only the unencrypted handshake is
// accepted in AwaitingHandshake; a successful handshake stores the session key
// and moves to Ready, a cancelled one clears it and returns to Disconnected.
// Disconnect, or a transport failure, clears the key and fails every
// in-flight request with domain.ErrConnection.
//
// # Requests
//
// Each request gets a fresh message id registered in a correlation.Table, so
// any number of encrypted commands can be in flight and their responses may
// arrive in any order. A request that gets no answer within the request
// timeout fails with domain.ErrTimeout and its entry is removed.
//
// # Errors
//
// Decryption and parse failures are *domain.ProtocolError and only affect the
// request they belong to; the channel stays Ready. A cancelled pairing is
// domain.ErrHandshakeCancelled, distinct from domain.ErrConnection.
package channel
