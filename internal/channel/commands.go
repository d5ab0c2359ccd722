package channel

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/domain"
)

// Execute sends a command variant and decodes the response into out (which
// may be nil). An {"error": code} response is returned as *domain.ResponseError.
func (c *Channel) Execute(ctx context.Context, cmd domain.Command, out any) error {
	data, err := domain.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	raw, id, err := c.sendEncrypted(ctx, data.Command, data.Payload)
	if err != nil {
		return err
	}
	var ep domain.ErrorPayload
	if json.Unmarshal(raw, &ep) == nil && ep.Error != "" {
		return &domain.ResponseError{Command: data.Command, Code: ep.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		perr := &domain.ProtocolError{MessageID: id, Reason: "decode " + data.Command + " response", Err: err}
		c.log.WithFields(logrus.Fields{"message_id": id, "command": data.Command}).WithError(err).Warn("cannot decode response")
		return perr
	}
	return nil
}

// Status returns the lock status of every account in the desktop app.
func (c *Channel) Status(ctx context.Context) ([]domain.AccountStatus, error) {
	var out []domain.AccountStatus
	err := c.Execute(ctx, domain.StatusCommand{}, &out)
	return out, err
}

// RetrieveCredentials returns the logins matching uri.
func (c *Channel) RetrieveCredentials(ctx context.Context, uri string) ([]domain.Credential, error) {
	var out []domain.Credential
	err := c.Execute(ctx, domain.CredentialRetrievalCommand{URI: uri}, &out)
	return out, err
}

func (c *Channel) CreateCredential(ctx context.Context, cmd domain.CredentialCreateCommand) (domain.OperationResult, error) {
	var out domain.OperationResult
	err := c.Execute(ctx, cmd, &out)
	return out, err
}

func (c *Channel) UpdateCredential(ctx context.Context, cmd domain.CredentialUpdateCommand) (domain.OperationResult, error) {
	var out domain.OperationResult
	err := c.Execute(ctx, cmd, &out)
	return out, err
}

// GeneratePassword asks the desktop app to generate a password for userID.
func (c *Channel) GeneratePassword(ctx context.Context, userID string) (string, error) {
	var out domain.GeneratedPassword
	err := c.Execute(ctx, domain.GeneratePasswordCommand{UserID: userID}, &out)
	return out.Password, err
}
