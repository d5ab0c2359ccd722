package transport

import (
	"context"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// NewPipe returns a Stream connected to an in-process counterpart. Every dial
// creates a net.Pipe and hands the far end to serve on its own goroutine.
func NewPipe(serve func(net.Conn), cfg Config, log logrus.FieldLogger) *Stream {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go serve(server)
		return client, nil
	}
	return NewStream("pipe", dial, cfg, log)
}
