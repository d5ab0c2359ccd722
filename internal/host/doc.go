// Package host is the desktop side of the native-messaging channel.
//
// A Server reads framed envelopes from one connection at a time per
// ServeConn call, pairs through the handshake (asking an Approver), and then
// decrypts commands, dispatches them to a Vault and encrypts the answers.
// Requests on a connection are handled concurrently, so responses may be
// written in a different order than the requests arrived.
//
// Errors are reported to the client as {"error": code} payloads. Before a
// session key exists, or when the command cannot be opened, the payload is
// unencrypted; otherwise it is encrypted like any other answer.
//
//	cannot-decrypt       no session key yet, or the ciphertext did not open
//	unknown-command      the command name is not supported
//	invalid-payload      the command payload does not decode
//	unsupported-version  the envelope version differs from ours
//
// Vault failures (locked, unknown-user) travel the same way.
//
// MemoryVault is an in-memory Vault for development and tests; the real vault
// lives in the desktop application.
package host
