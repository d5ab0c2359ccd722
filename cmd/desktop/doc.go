// Package main runs a development stand-in for the desktop application side
// of the native-messaging channel. It listens on a unix socket and serves each
// connection with host.Server backed by an in-memory vault.
//
// Pairing requests print the requesting key's fingerprint. With --approve the
// request is accepted automatically; otherwise the operator answers y/N on
// stdin.
//
// All state is held in memory and lost on process exit. The socket file is
// removed on startup and shutdown.
package main
