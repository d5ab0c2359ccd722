package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nativemsg/internal/channel"
	"nativemsg/internal/domain"
)

func handshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Pair with the desktop app",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := paired(cmd, func(ctx context.Context, ch *channel.Channel) error {
				fmt.Println("paired:", ch.State())
				return nil
			})
			if errors.Is(err, domain.ErrHandshakeCancelled) {
				fmt.Println("pairing declined in the desktop app")
			}
			return err
		},
	}
}
