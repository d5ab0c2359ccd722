// Package app wires application dependencies for the CLI.
//
// It loads Config from TOML, builds the key store, transport and channel,
// and exposes them via the Wire struct for commands to use.
package app
