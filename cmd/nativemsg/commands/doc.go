// Package commands defines the nativemsg CLI and wires dependencies for subcommands.
//
// Commands
//
//   - keygen             Create or rotate the local RSA key pair
//   - fingerprint        Print the key pair fingerprint
//   - handshake          Pair with the desktop app
//   - status             Show account lock status
//   - retrieve <uri>     List logins matching a URI
//   - create             Add a login
//   - update             Replace a login
//   - generate-password  Ask the desktop app for a new password
//
// # Implementation
//
// The root command loads config.toml from the home directory (or --config),
// applies flag overrides and builds an app.Wire before any subcommand runs.
// Session keys live only in memory, so every command that talks to the
// desktop app pairs first.
package commands
