package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/correlation"
	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/protocol/handshake"
)

// Options tunes a Channel. The zero value is usable.
type Options struct {
	Version        int           // wire version; envelope.Version when 0
	RequestTimeout time.Duration // correlation.DefaultTimeout when 0
	Logger         logrus.FieldLogger
	// OnUnexpected receives inbound frames that match no pending request.
	OnUnexpected func(frame []byte)
	// NewMessageID overrides envelope.NewMessageID.
	NewMessageID func() domain.MessageID
}

// Channel is one secure channel to one counterpart process.
type Channel struct {
	transport    domain.Transport
	enc          domain.EncryptionProvider
	table        *correlation.Table
	builder      envelope.Builder
	log          logrus.FieldLogger
	onUnexpected func([]byte)

	mu         sync.Mutex
	state      State
	key        domain.SessionKey
	epoch      uint64        // bumped whenever the connection is reset
	connecting chan struct{} // closed when the in-flight connect finishes
	connErr    error
	pairing    *handshakeCall // non-nil while a handshake is in flight
}

// handshakeCall is one in-flight handshake shared by concurrent callers.
type handshakeCall struct {
	done    chan struct{}
	payload domain.HandshakePayload
	err     error
}

// New builds a Disconnected channel over t.
func New(t domain.Transport, enc domain.EncryptionProvider, opts Options) *Channel {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := envelope.NewBuilder(opts.Version)
	if opts.NewMessageID != nil {
		b.NewID = opts.NewMessageID
	}
	return &Channel{
		transport:    t,
		enc:          enc,
		table:        correlation.New(opts.RequestTimeout, log),
		builder:      b,
		log:          log.WithField("component", "channel"),
		onUnexpected: opts.OnUnexpected,
		state:        Disconnected,
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of requests awaiting a response.
func (c *Channel) Pending() int { return c.table.Len() }

// setState must be called with c.mu held.
func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.log.WithFields(logrus.Fields{"from": c.state.String(), "to": s.String()}).Debug("state change")
	c.state = s
}

// Connect establishes the transport. Concurrent callers share one attempt.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case AwaitingHandshake, Ready:
		c.mu.Unlock()
		return nil
	case Connecting:
		ch := c.connecting
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrConnection, ctx.Err())
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == AwaitingHandshake || c.state == Ready {
			return nil
		}
		if c.connErr != nil {
			return c.connErr
		}
		return fmt.Errorf("%w: connection reset while connecting", domain.ErrConnection)
	}

	ch := make(chan struct{})
	c.connecting = ch
	c.epoch++
	epoch := c.epoch
	c.setState(Connecting)
	c.mu.Unlock()

	err := c.transport.Connect(ctx, receiver{c})
	if err != nil && !errors.Is(err, domain.ErrConnection) {
		err = fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	c.mu.Lock()
	if c.connecting == ch {
		c.connecting = nil
	}
	stale := c.epoch != epoch
	switch {
	case stale:
		if err == nil {
			err = fmt.Errorf("%w: connection reset while connecting", domain.ErrConnection)
		}
		c.connErr = err
	case err != nil:
		c.connErr = err
		c.setState(Failed)
	default:
		c.connErr = nil
		c.setState(AwaitingHandshake)
	}
	close(ch)
	c.mu.Unlock()

	if stale {
		_ = c.transport.Disconnect()
	}
	if err != nil {
		c.log.WithError(err).Warn("connect failed")
	}
	return err
}

// Handshake pairs with the counterpart using kp. On success the session key
// is stored and the channel is Ready. When the user declines, the payload is
// returned together with domain.ErrHandshakeCancelled and the channel is
// Disconnected. Callers arriving while a handshake is in flight share its
// result instead of sending another bw-handshake.
func (c *Channel) Handshake(ctx context.Context, kp domain.KeyPair) (domain.HandshakePayload, error) {
	if err := c.Connect(ctx); err != nil {
		return domain.HandshakePayload{}, err
	}

	c.mu.Lock()
	if call := c.pairing; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.payload, call.err
		case <-ctx.Done():
			return domain.HandshakePayload{}, ctx.Err()
		}
	}
	if c.state == Ready {
		// A fresh handshake invalidates the current session key.
		c.key = nil
		c.setState(AwaitingHandshake)
	}
	if c.state != AwaitingHandshake {
		c.mu.Unlock()
		return domain.HandshakePayload{}, fmt.Errorf("%w: connection reset before handshake", domain.ErrConnection)
	}
	epoch := c.epoch
	call := &handshakeCall{done: make(chan struct{})}
	c.pairing = call
	c.mu.Unlock()

	call.payload, call.err = c.pair(ctx, epoch, kp)

	c.mu.Lock()
	if c.pairing == call {
		c.pairing = nil
	}
	c.mu.Unlock()
	close(call.done)
	return call.payload, call.err
}

// pair runs one handshake exchange on the connection identified by epoch.
func (c *Channel) pair(ctx context.Context, epoch uint64, kp domain.KeyPair) (domain.HandshakePayload, error) {
	msg, err := handshake.Request(c.builder, kp)
	if err != nil {
		return domain.HandshakePayload{}, err
	}
	log := c.log.WithField("message_id", msg.MessageID)
	log.Debug("sending handshake")

	in, err := c.roundTrip(ctx, epoch, msg.MessageID, msg)
	if err != nil {
		return domain.HandshakePayload{}, err
	}
	payload, err := handshake.ParseResponse(in)
	if err != nil {
		log.WithError(err).Warn("invalid handshake response")
		return domain.HandshakePayload{}, err
	}

	if payload.Status == domain.HandshakeCancelled {
		log.Info("pairing declined by user")
		c.reset(epoch, fmt.Errorf("%w: handshake cancelled", domain.ErrConnection), true)
		return payload, domain.ErrHandshakeCancelled
	}

	key, err := handshake.SessionKey(msg.MessageID, payload, kp, c.enc)
	if err != nil {
		log.WithError(err).Warn("cannot unwrap shared key")
		return domain.HandshakePayload{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state != AwaitingHandshake {
		return domain.HandshakePayload{}, fmt.Errorf("%w: connection reset during handshake", domain.ErrConnection)
	}
	c.key = key
	c.setState(Ready)
	log.Info("handshake complete")
	return payload, nil
}

// SendEncrypted sends command with payload encrypted under the session key
// and returns the decrypted response payload.
func (c *Channel) SendEncrypted(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	out, _, err := c.sendEncrypted(ctx, command, payload)
	return out, err
}

// sendEncrypted is SendEncrypted that also reports the request's message id.
func (c *Channel) sendEncrypted(ctx context.Context, command string, payload any) (json.RawMessage, domain.MessageID, error) {
	c.mu.Lock()
	if c.state != Ready || c.key == nil {
		st := c.state
		c.mu.Unlock()
		return nil, "", fmt.Errorf("%w (state %s)", domain.ErrNotReady, st)
	}
	key, epoch := c.key, c.epoch
	c.mu.Unlock()

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, "", err
	}
	plain, err := json.Marshal(domain.DecryptedCommandData{Command: command, Payload: raw})
	if err != nil {
		return nil, "", err
	}
	ct, err := c.enc.SymmetricEncrypt(plain, key)
	if err != nil {
		return nil, "", fmt.Errorf("channel: encrypt %s: %w", command, err)
	}

	msg := c.builder.Encrypted(ct)
	log := c.log.WithFields(logrus.Fields{"message_id": msg.MessageID, "command": command})
	log.Debug("sending encrypted command")

	in, err := c.roundTrip(ctx, epoch, msg.MessageID, msg)
	if err != nil {
		return nil, msg.MessageID, err
	}
	out, err := c.openResponse(command, in, key)
	if err != nil {
		log.WithError(err).Warn("cannot read encrypted response")
		return nil, msg.MessageID, err
	}
	return out, msg.MessageID, nil
}

// SendUnencrypted sends a plain command. Only the handshake may be sent before
// the channel is Ready, and it must go through Handshake.
func (c *Channel) SendUnencrypted(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	if command == domain.CommandHandshake {
		return nil, fmt.Errorf("channel: %s must be sent with Handshake", command)
	}
	c.mu.Lock()
	if c.state != Ready {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", domain.ErrNotReady, st)
	}
	epoch := c.epoch
	c.mu.Unlock()

	msg, err := c.builder.Unencrypted(command, payload)
	if err != nil {
		return nil, err
	}
	in, err := c.roundTrip(ctx, epoch, msg.MessageID, msg)
	if err != nil {
		return nil, err
	}
	if in.Kind() != envelope.KindUnencryptedResponse {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "expected unencrypted response, got " + in.Kind().String()}
	}
	return in.Payload, nil
}

// Disconnect releases the transport, clears the session key and fails every
// in-flight request.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	err := c.resetLocked(true)
	c.mu.Unlock()
	c.failAll(fmt.Errorf("%w: disconnected", domain.ErrConnection))
	return err
}

// reset drops the session key and returns to Disconnected, unless the
// connection identified by epoch has already been replaced. With release the
// transport is disconnected as part of the same transition.
func (c *Channel) reset(epoch uint64, cause error, release bool) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	_ = c.resetLocked(release)
	c.mu.Unlock()
	c.failAll(cause)
	return true
}

// resetLocked must be called with c.mu held. The transport is released before
// the state becomes Disconnected, so a Connect that observes Disconnected
// always dials a fresh connection.
func (c *Channel) resetLocked(release bool) error {
	c.epoch++
	c.key = nil
	var err error
	if release {
		err = c.transport.Disconnect()
	}
	c.setState(Disconnected)
	return err
}

func (c *Channel) failAll(cause error) {
	if n := c.table.FailAll(cause); n > 0 {
		c.log.WithFields(logrus.Fields{"pending": n, "cause": cause}).Info("failed in-flight requests")
	}
}

func (c *Channel) roundTrip(ctx context.Context, epoch uint64, id domain.MessageID, msg any) (envelope.Inbound, error) {
	frame, err := envelope.Encode(msg)
	if err != nil {
		return envelope.Inbound{}, err
	}
	p, err := c.table.Register(id)
	if err != nil {
		return envelope.Inbound{}, err
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		c.table.Cancel(id)
		if errors.Is(err, domain.ErrConnection) {
			// A failed write leaves the stream unusable; release it with the reset.
			c.reset(epoch, err, true)
		}
		return envelope.Inbound{}, err
	}
	in, err := p.Wait(ctx)
	if err != nil {
		c.log.WithFields(logrus.Fields{"message_id": id, "error": err}).Debug("request failed")
		return envelope.Inbound{}, err
	}
	return in, nil
}

// openResponse decrypts and validates the response to command.
func (c *Channel) openResponse(command string, in envelope.Inbound, key domain.SessionKey) (json.RawMessage, error) {
	if in.Kind() != envelope.KindEncryptedResponse {
		if in.Kind() == envelope.KindUnencryptedResponse {
			var ep domain.ErrorPayload
			if json.Unmarshal(in.Payload, &ep) == nil && ep.Error != "" {
				return nil, &domain.ResponseError{Command: command, Code: ep.Error}
			}
		}
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "expected encrypted response, got " + in.Kind().String()}
	}
	text, err := c.enc.SymmetricDecryptToText(in.EncryptedPayload, key)
	if err != nil {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "decrypt response", Err: err}
	}
	if !json.Valid(text) {
		return nil, &domain.ProtocolError{MessageID: in.MessageID, Reason: "response is not JSON"}
	}
	return json.RawMessage(text), nil
}

func (c *Channel) receive(frame []byte) {
	in, err := envelope.Decode(frame)
	if err != nil {
		c.log.WithError(err).Warn("dropping malformed inbound message")
		c.unexpected(frame)
		return
	}
	if err := envelope.CheckVersion(in, c.builder.Version); err != nil {
		log := c.log.WithFields(logrus.Fields{"message_id": in.MessageID, "version": in.Version})
		if c.table.Fail(in.MessageID, err) {
			log.Warn("rejected response with wrong version")
			return
		}
		log.Warn("unexpected message with wrong version")
		c.unexpected(frame)
		return
	}
	if !c.table.Resolve(in.MessageID, in) {
		c.unexpected(frame)
	}
}

func (c *Channel) closed(err error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.log.WithError(err).Warn("transport closed")
	c.reset(epoch, err, false)
}

func (c *Channel) unexpected(frame []byte) {
	if c.onUnexpected != nil {
		c.onUnexpected(frame)
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("channel: encode payload: %w", err)
	}
	return b, nil
}

// receiver keeps the domain.Receiver methods off the Channel API.
type receiver struct{ c *Channel }

func (r receiver) Receive(frame []byte) { r.c.receive(frame) }
func (r receiver) Closed(err error)     { r.c.closed(err) }
