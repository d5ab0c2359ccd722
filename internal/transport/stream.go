package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/framing"
)

// Dialer opens one physical connection to the counterpart.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stream is a domain.Transport over any byte stream.
type Stream struct {
	name string
	dial Dialer
	cfg  Config
	log  logrus.FieldLogger

	mu         sync.Mutex
	conn       io.ReadWriteCloser
	connecting chan struct{} // non-nil while a dial is in flight
	lastErr    error
	rng        *rand.Rand

	wmu sync.Mutex // serializes frame writes
}

// NewStream returns a Stream named name (used in logs) that dials with dial.
func NewStream(name string, dial Dialer, cfg Config, log logrus.FieldLogger) *Stream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}
	return &Stream{
		name: name,
		dial: dial,
		cfg:  cfg,
		log:  log.WithFields(logrus.Fields{"component": "transport", "transport": name}),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connected reports whether a connection is established.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect dials the counterpart unless already connected. Callers arriving
// while a dial is in flight wait for that dial instead of starting another.
func (s *Stream) Connect(ctx context.Context, r domain.Receiver) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	if ch := s.connecting; ch != nil {
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrConnection, ctx.Err())
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn != nil {
			return nil
		}
		return s.lastErr
	}
	ch := make(chan struct{})
	s.connecting = ch
	s.mu.Unlock()

	conn, err := s.dialWithRetry(ctx)

	s.mu.Lock()
	s.connecting = nil
	if err != nil {
		s.lastErr = fmt.Errorf("%w: %s: %v", domain.ErrConnection, s.name, err)
		err = s.lastErr
	} else {
		s.conn = conn
		s.lastErr = nil
		go s.readLoop(conn, r)
	}
	close(ch)
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("connect failed")
		return err
	}
	s.log.Debug("connected")
	return nil
}

func (s *Stream) dialWithRetry(ctx context.Context) (io.ReadWriteCloser, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		if attempt > 1 {
			s.mu.Lock()
			delay := NextBackoffDelay(s.cfg.Backoff, attempt-1, s.rng)
			s.mu.Unlock()
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		dctx := ctx
		var cancel context.CancelFunc = func() {}
		if s.cfg.ConnectTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		}
		conn, err := s.dial(dctx)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.log.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Debug("dial failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Send writes one frame.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s: not connected", domain.ErrConnection, s.name)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if d, ok := conn.(writeDeadliner); ok {
		deadline := time.Time{}
		if s.cfg.WriteTimeout > 0 {
			deadline = time.Now().Add(s.cfg.WriteTimeout)
		}
		if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
			deadline = dl
		}
		_ = d.SetWriteDeadline(deadline)
	}
	err := framing.WriteFrame(conn, frame, framing.Limits{MaxFrameBytes: s.cfg.MaxFrameBytes})
	if err == nil {
		return nil
	}
	if errors.Is(err, framing.ErrFrameTooLarge) || errors.Is(err, framing.ErrEmptyFrame) {
		return err
	}
	// A partial write leaves the stream unframed; drop the connection and let
	// the read loop report it.
	_ = conn.Close()
	return fmt.Errorf("%w: %s: write: %v", domain.ErrConnection, s.name, err)
}

// Disconnect closes the current connection, if any. The receiver is not
// notified.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.log.Debug("disconnecting")
	return conn.Close()
}

func (s *Stream) readLoop(conn io.ReadWriteCloser, r domain.Receiver) {
	limits := framing.Limits{MaxFrameBytes: s.cfg.MaxFrameBytes}
	var err error
	for {
		var frame []byte
		frame, err = framing.ReadFrame(conn, limits)
		if err != nil {
			break
		}
		r.Receive(frame)
	}
	_ = conn.Close()

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%s: closed by counterpart", s.name)
	}
	s.log.WithError(err).Info("connection lost")
	r.Closed(fmt.Errorf("%w: %v", domain.ErrConnection, err))
}

var _ domain.Transport = (*Stream)(nil)
