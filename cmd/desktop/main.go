package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nativemsg/internal/app"
	"nativemsg/internal/host"
	"nativemsg/internal/logging"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		socket   string
		approve  bool
		locked   bool
		version  int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "desktop",
		Short:        "Serve the native-messaging host on a unix socket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig()
			cfg.Level = logLevel
			log := logging.Configure(cfg)

			vault := app.DemoVault()
			if locked {
				st, _ := vault.Status(cmd.Context())
				for _, a := range st {
					vault.SetLocked(a.ID, true)
				}
			}
			var approver host.Approver = host.AutoApprove(true)
			if !approve {
				approver = &promptApprover{in: bufio.NewReader(os.Stdin)}
			}
			srv := host.NewServer(vault, approver, host.Options{Version: version, Logger: log})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, srv, socket, log)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", transport.DefaultSocketPath(), "unix socket to listen on")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve every pairing request")
	cmd.Flags().BoolVar(&locked, "locked", false, "start with every account locked")
	cmd.Flags().IntVar(&version, "version", envelope.Version, "wire version")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func serve(ctx context.Context, srv *host.Server, socket string, log logrus.FieldLogger) error {
	_ = os.Remove(socket)
	ln, err := net.Listen("unix", socket)
	if err != nil {
		return err
	}
	defer os.Remove(socket)
	if err := os.Chmod(socket, 0o600); err != nil {
		_ = ln.Close()
		return err
	}
	log.WithField("socket", socket).Info("desktop host listening")
	return srv.Serve(ctx, ln)
}

// promptApprover asks on stdin; prompts from concurrent connections queue.
type promptApprover struct {
	mu sync.Mutex
	in *bufio.Reader
}

func (p *promptApprover) Approve(ctx context.Context, fingerprint string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("Pair with browser key %s? [y/N] ", fingerprint)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
