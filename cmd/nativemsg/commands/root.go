package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"nativemsg/internal/app"
	"nativemsg/internal/channel"
	"nativemsg/internal/logging"
)

var (
	configPath string
	home       string
	passphrase string
	socketPath string
	inProcess  bool
	logLevel   string
	timeout    time.Duration

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:           "nativemsg",
		Short:         "Talk to the desktop password manager over its native-messaging channel",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.DefaultConfig()
			if home != "" {
				cfg.Home = home
			}
			path := configPath
			if path == "" {
				path = filepath.Join(cfg.Home, app.ConfigFile)
			}
			cfg, err := app.LoadConfig(path, cfg)
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Home = home
			}
			if socketPath != "" {
				cfg.SocketPath = socketPath
			}
			if cmd.Flags().Changed("inproc") {
				cfg.InProcess = inProcess
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}
			log := logging.Configure(cfg.Log)
			wire, err = app.NewWire(cfg, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.toml)")
	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.nativemsg)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the key pair")
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "desktop app socket path")
	root.PersistentFlags().BoolVar(&inProcess, "inproc", false, "use an in-process desktop host (development)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		keygenCmd(),
		fingerprintCmd(),
		handshakeCmd(),
		statusCmd(),
		retrieveCmd(),
		createCmd(),
		updateCmd(),
		generatePasswordCmd(),
	)
	return root.Execute()
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

// paired runs fn on a channel that has completed the handshake.
func paired(cmd *cobra.Command, fn func(ctx context.Context, ch *channel.Channel) error) error {
	if err := requirePassphrase(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if _, err := wire.Pair(ctx, passphrase); err != nil {
		return err
	}
	return fn(ctx, wire.Channel)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
