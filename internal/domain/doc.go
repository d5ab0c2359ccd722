// Package domain defines the wire envelopes, command variants, collaborator
// interfaces and error taxonomy shared by the native-messaging channel.
// It contains plain types and contracts only.
package domain
