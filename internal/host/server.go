package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/protocol/framing"
	"nativemsg/internal/protocol/handshake"
)

// Error codes sent to the client.
const (
	CodeCannotDecrypt      = "cannot-decrypt"
	CodeUnknownCommand     = "unknown-command"
	CodeUnsupportedVersion = "unsupported-version"
	CodeInvalidPayload     = "invalid-payload"
	CodeInternal           = "internal-error"
)

// Approver asks the user whether a browser may pair with the desktop app.
type Approver interface {
	Approve(ctx context.Context, fingerprint string) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, fingerprint string) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, fingerprint string) (bool, error) {
	return f(ctx, fingerprint)
}

// AutoApprove answers every pairing request with approve.
func AutoApprove(approve bool) Approver {
	return ApproverFunc(func(context.Context, string) (bool, error) { return approve, nil })
}

// Options tunes a Server.
type Options struct {
	Version int
	Limits  framing.Limits
	Logger  logrus.FieldLogger
}

// Server answers native-messaging requests.
type Server struct {
	vault    Vault
	approver Approver
	provider *crypto.Provider
	version  int
	limits   framing.Limits
	log      logrus.FieldLogger
}

func NewServer(v Vault, a Approver, opts Options) *Server {
	if opts.Version <= 0 {
		opts.Version = envelope.Version
	}
	if opts.Limits.MaxFrameBytes == 0 {
		opts.Limits = framing.DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Server{
		vault:    v,
		approver: a,
		provider: crypto.NewProvider(),
		version:  opts.Version,
		limits:   opts.Limits,
		log:      opts.Logger.WithField("component", "host"),
	}
}

// Serve accepts connections until ctx ends or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.log.WithError(err).Debug("connection ended")
			}
		}()
	}
}

// conn is the per-connection session.
type conn struct {
	rw  io.ReadWriteCloser
	wmu sync.Mutex

	mu  sync.RWMutex
	key domain.SessionKey
}

func (c *conn) sessionKey() domain.SessionKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

func (c *conn) setSessionKey(k domain.SessionKey) {
	c.mu.Lock()
	c.key = k
	c.mu.Unlock()
}

// ServeConn handles one client until it disconnects. The session key is
// scoped to the connection.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriteCloser) error {
	c := &conn{rw: rw}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		_ = rw.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = rw.Close()
	}()

	for {
		frame, err := framing.ReadFrame(rw, s.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, c, frame)
		}()
	}
}

func (s *Server) handle(ctx context.Context, c *conn, frame []byte) {
	in, err := envelope.Decode(frame)
	if err != nil {
		s.log.WithError(err).Warn("dropping malformed request")
		return
	}
	log := s.log.WithField("message_id", in.MessageID)

	if envelope.CheckVersion(in, s.version) != nil {
		log.WithField("version", in.Version).Warn("unsupported version")
		s.replyError(c, in.MessageID, CodeUnsupportedVersion)
		return
	}

	switch in.Kind() {
	case envelope.KindUnencryptedRequest:
		if in.Command != domain.CommandHandshake {
			log.WithField("command", in.Command).Warn("unencrypted command refused")
			s.replyError(c, in.MessageID, CodeCannotDecrypt)
			return
		}
		s.handleHandshake(ctx, c, in, log)
	case envelope.KindEncryptedRequest:
		s.handleEncrypted(ctx, c, in, log)
	default:
		log.WithField("kind", in.Kind().String()).Warn("unexpected envelope")
	}
}

func (s *Server) handleHandshake(ctx context.Context, c *conn, in envelope.Inbound, log logrus.FieldLogger) {
	pub, err := handshake.PublicKey(in)
	if err != nil {
		log.WithError(err).Warn("bad handshake")
		s.replyError(c, in.MessageID, CodeCannotDecrypt)
		return
	}
	fp := crypto.Fingerprint(pub)
	ok, err := s.approver.Approve(ctx, fp)
	if err != nil {
		log.WithError(err).Warn("approval failed")
		ok = false
	}

	payload := handshake.Decline()
	if ok {
		var key domain.SessionKey
		payload, key, err = handshake.Accept(pub, s.provider)
		if err != nil {
			log.WithError(err).Error("cannot wrap session key")
			s.replyError(c, in.MessageID, CodeInternal)
			return
		}
		c.setSessionKey(key)
	}
	log.WithFields(logrus.Fields{"fingerprint": fp, "status": payload.Status}).Info("handshake answered")
	s.reply(c, in.MessageID, payload)
}

func (s *Server) handleEncrypted(ctx context.Context, c *conn, in envelope.Inbound, log logrus.FieldLogger) {
	key := c.sessionKey()
	if key == nil {
		log.Warn("encrypted command before handshake")
		s.replyError(c, in.MessageID, CodeCannotDecrypt)
		return
	}
	plain, err := s.provider.SymmetricDecryptToText(in.EncryptedCommand, key)
	if err != nil {
		log.WithError(err).Warn("cannot decrypt command")
		s.replyError(c, in.MessageID, CodeCannotDecrypt)
		return
	}
	var data domain.DecryptedCommandData
	if err := json.Unmarshal(plain, &data); err != nil {
		s.replyError(c, in.MessageID, CodeCannotDecrypt)
		return
	}
	cmd, err := domain.DecodeCommand(data)
	if err != nil {
		log.WithError(err).Warn("bad command payload")
		s.replyEncrypted(c, in.MessageID, key, domain.ErrorPayload{Error: CodeInvalidPayload})
		return
	}
	log = log.WithField("command", cmd.CommandName())
	result, err := s.dispatch(ctx, cmd)
	if err != nil {
		code := CodeInternal
		var ce CodeError
		if errors.As(err, &ce) {
			code = string(ce)
		}
		log.WithError(err).Info("command failed")
		result = domain.ErrorPayload{Error: code}
	}
	s.replyEncrypted(c, in.MessageID, key, result)
}

func (s *Server) dispatch(ctx context.Context, cmd domain.Command) (any, error) {
	switch v := cmd.(type) {
	case domain.StatusCommand:
		return s.vault.Status(ctx)
	case domain.CredentialRetrievalCommand:
		return s.vault.Credentials(ctx, v.URI)
	case domain.CredentialCreateCommand:
		return s.vault.CreateCredential(ctx, v)
	case domain.CredentialUpdateCommand:
		return s.vault.UpdateCredential(ctx, v)
	case domain.GeneratePasswordCommand:
		pw, err := s.vault.GeneratePassword(ctx, v.UserID)
		return domain.GeneratedPassword{Password: pw}, err
	default:
		return nil, CodeError(CodeUnknownCommand)
	}
}

func (s *Server) common(id domain.MessageID) domain.MessageCommon {
	return domain.MessageCommon{MessageID: id, Version: s.version}
}

func (s *Server) reply(c *conn, id domain.MessageID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("encode reply")
		return
	}
	s.write(c, domain.UnencryptedMessageResponse{MessageCommon: s.common(id), Payload: raw})
}

func (s *Server) replyError(c *conn, id domain.MessageID, code string) {
	s.reply(c, id, domain.ErrorPayload{Error: code})
}

func (s *Server) replyEncrypted(c *conn, id domain.MessageID, key domain.SessionKey, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("encode reply")
		return
	}
	ct, err := s.provider.SymmetricEncrypt(raw, key)
	if err != nil {
		s.log.WithError(err).Error("encrypt reply")
		return
	}
	s.write(c, domain.EncryptedMessageResponse{MessageCommon: s.common(id), EncryptedPayload: ct})
}

func (s *Server) write(c *conn, msg any) {
	frame, err := envelope.Encode(msg)
	if err != nil {
		s.log.WithError(err).Error("encode envelope")
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := framing.WriteFrame(c.rw, frame, s.limits); err != nil {
		s.log.WithError(err).Debug("write reply")
	}
}
