package domain

import (
	"encoding/json"
	"fmt"
)

// Command names understood by the desktop counterpart.
const (
	CommandHandshake           = "bw-handshake"
	CommandStatus              = "bw-status"
	CommandCredentialRetrieval = "bw-credential-retrieval"
	CommandCredentialCreate    = "bw-credential-create"
	CommandCredentialUpdate    = "bw-credential-update"
	CommandGeneratePassword    = "bw-generate-password"
)

// Command is one variant of the encrypted command set. The variant value is
// its own payload.
type Command interface {
	CommandName() string
}

// StatusCommand asks for the lock status of every account.
type StatusCommand struct{}

// CredentialRetrievalCommand looks up logins matching a URI.
type CredentialRetrievalCommand struct {
	URI string `json:"uri"`
}

// CredentialCreateCommand adds a login.
type CredentialCreateCommand struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Password string `json:"password"`
	Name     string `json:"name"`
	URI      string `json:"uri"`
}

// CredentialUpdateCommand replaces an existing login.
type CredentialUpdateCommand struct {
	CredentialID string `json:"credentialId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	URI          string `json:"uri"`
}

// GeneratePasswordCommand asks the vault to generate a password for a user.
type GeneratePasswordCommand struct {
	UserID string `json:"userId"`
}

// UnknownCommand keeps commands this build does not know about.
type UnknownCommand struct {
	Name    string
	Payload json.RawMessage
}

func (StatusCommand) CommandName() string              { return CommandStatus }
func (CredentialRetrievalCommand) CommandName() string { return CommandCredentialRetrieval }
func (CredentialCreateCommand) CommandName() string    { return CommandCredentialCreate }
func (CredentialUpdateCommand) CommandName() string    { return CommandCredentialUpdate }
func (GeneratePasswordCommand) CommandName() string    { return CommandGeneratePassword }
func (c UnknownCommand) CommandName() string           { return c.Name }

// EncodeCommand turns a variant into the plaintext command data.
func EncodeCommand(c Command) (DecryptedCommandData, error) {
	out := DecryptedCommandData{Command: c.CommandName()}
	switch v := c.(type) {
	case StatusCommand:
		return out, nil
	case UnknownCommand:
		out.Payload = v.Payload
		return out, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return DecryptedCommandData{}, err
	}
	out.Payload = b
	return out, nil
}

// DecodeCommand selects the variant named by d.Command.
func DecodeCommand(d DecryptedCommandData) (Command, error) {
	switch d.Command {
	case CommandStatus:
		return StatusCommand{}, nil
	case CommandCredentialRetrieval:
		v := CredentialRetrievalCommand{}
		if err := json.Unmarshal(orEmpty(d.Payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Command, err)
		}
		return v, nil
	case CommandCredentialCreate:
		v := CredentialCreateCommand{}
		if err := json.Unmarshal(orEmpty(d.Payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Command, err)
		}
		return v, nil
	case CommandCredentialUpdate:
		v := CredentialUpdateCommand{}
		if err := json.Unmarshal(orEmpty(d.Payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Command, err)
		}
		return v, nil
	case CommandGeneratePassword:
		v := GeneratePasswordCommand{}
		if err := json.Unmarshal(orEmpty(d.Payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Command, err)
		}
		return v, nil
	}
	return UnknownCommand{Name: d.Command, Payload: d.Payload}, nil
}

func orEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return json.RawMessage("{}")
	}
	return b
}

// AccountStatus is one entry of the bw-status response.
type AccountStatus struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"` // "locked" or "unlocked"
	Active bool   `json:"active"`
}

// Credential is one entry of the bw-credential-retrieval response.
type Credential struct {
	CredentialID string `json:"credentialId"`
	Name         string `json:"name"`
	UserName     string `json:"userName"`
	Password     string `json:"password"`
	UserID       string `json:"userId"`
}

// OperationResult answers create and update.
type OperationResult struct {
	Status string `json:"status"` // "success" or "failure"
}

// GeneratedPassword answers bw-generate-password.
type GeneratedPassword struct {
	Password string `json:"password"`
}
