package transport

import (
	"os"
	"path/filepath"
	"time"

	"nativemsg/internal/protocol/framing"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults.
type Config struct {
	ConnectTimeout  time.Duration
	ConnectAttempts int
	WriteTimeout    time.Duration
	MaxFrameBytes   uint32
	Backoff         BackoffConfig
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		ConnectAttempts: 3,
		WriteTimeout:    5 * time.Second,
		MaxFrameBytes:   framing.DefaultMaxFrameBytes,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// DefaultSocketPath is where the desktop app listens.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "app.bitwarden")
}
