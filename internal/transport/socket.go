package transport

import (
	"context"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// NewSocket returns a Stream that dials the unix domain socket at path.
func NewSocket(path string, cfg Config, log logrus.FieldLogger) *Stream {
	if path == "" {
		path = DefaultSocketPath()
	}
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
	return NewStream("unix:"+path, dial, cfg, log)
}
