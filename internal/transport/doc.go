// Package transport provides domain.Transport implementations: a framed
// byte-stream pipe to the counterpart process.
//
// Stream owns the connection lifecycle (connect-once gate, dial retry with
// backoff, serialized writes, one read loop per connection) and is generic
// over a Dialer. NewSocket dials a unix domain socket; NewPipe connects to an
// in-process counterpart over net.Pipe.
//
// Framing is delegated to internal/protocol/framing.
package transport
