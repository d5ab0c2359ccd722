package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nativemsg/internal/channel"
	"nativemsg/internal/domain"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account lock status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				st, err := ch.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func retrieveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <uri>",
		Short: "List logins matching a URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				creds, err := ch.RetrieveCredentials(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(creds)
			})
		},
	}
}

type credentialFlags struct {
	userID, userName, password, name, uri string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user-id", "", "account id")
	cmd.Flags().StringVar(&f.userName, "username", "", "login user name")
	cmd.Flags().StringVar(&f.password, "password", "", "login password")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.uri, "uri", "", "site URI")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("uri")
}

func createCmd() *cobra.Command {
	var f credentialFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				res, err := ch.CreateCredential(ctx, domain.CredentialCreateCommand{
					UserID:   f.userID,
					UserName: f.userName,
					Password: f.password,
					Name:     f.name,
					URI:      f.uri,
				})
				if err != nil {
					return err
				}
				fmt.Println(res.Status)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func updateCmd() *cobra.Command {
	var f credentialFlags
	var id string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				res, err := ch.UpdateCredential(ctx, domain.CredentialUpdateCommand{
					CredentialID: id,
					UserID:       f.userID,
					UserName:     f.userName,
					Password:     f.password,
					Name:         f.name,
					URI:          f.uri,
				})
				if err != nil {
					return err
				}
				fmt.Println(res.Status)
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&id, "id", "", "credential id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func generatePasswordCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "generate-password",
		Short: "Ask the desktop app for a new password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				pw, err := ch.GeneratePassword(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Println(pw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "account id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
