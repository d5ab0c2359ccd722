package app

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/channel"
	"nativemsg/internal/crypto"
	"nativemsg/internal/host"
	"nativemsg/internal/store"
	"nativemsg/internal/transport"
)

// Wire bundles the key store, transport and channel for the CLI.
type Wire struct {
	Keys      *store.KeyPairFileStore
	Provider  *crypto.Provider
	Transport *transport.Stream
	Channel   *channel.Channel
	Log       logrus.FieldLogger

	stop context.CancelFunc
}

// NewWire constructs the dependency graph from cfg. With cfg.InProcess the
// channel talks to a host.Server backed by a MemoryVault over net.Pipe.
func NewWire(cfg Config, log logrus.FieldLogger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, stop := context.WithCancel(context.Background())

	var tr *transport.Stream
	if cfg.InProcess {
		srv := host.NewServer(DemoVault(), host.AutoApprove(true), host.Options{
			Version: cfg.Version,
			Logger:  log,
		})
		tr = transport.NewPipe(func(conn net.Conn) {
			if err := srv.ServeConn(ctx, conn); err != nil {
				log.WithError(err).Debug("in-process host stopped")
			}
		}, cfg.Transport, log)
	} else {
		tr = transport.NewSocket(cfg.SocketPath, cfg.Transport, log)
	}

	provider := crypto.NewProvider()
	ch := channel.New(tr, provider, channel.Options{
		Version:        cfg.Version,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
		OnUnexpected: func(frame []byte) {
			log.WithField("bytes", len(frame)).Debug("ignored unsolicited message")
		},
	})

	return &Wire{
		Keys:      store.NewKeyPairFileStore(cfg.Home),
		Provider:  provider,
		Transport: tr,
		Channel:   ch,
		Log:       log,
		stop:      stop,
	}, nil
}

// Close disconnects the channel and stops any in-process host.
func (w *Wire) Close() error {
	err := w.Channel.Disconnect()
	w.stop()
	return err
}

// DemoVault is the vault served in in-process mode.
func DemoVault() *host.MemoryVault {
	return host.NewMemoryVault(host.Account{
		ID:     "00000000-0000-4000-8000-000000000001",
		Email:  "user@example.com",
		Active: true,
	})
}
