package channel_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativemsg/internal/channel"
	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
	"nativemsg/internal/host"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/transport"
)

func newChannel(t *testing.T, tr domain.Transport, opts channel.Options) *channel.Channel {
	t.Helper()
	if opts.Logger == nil {
		log, _ := test.NewNullLogger()
		log.SetLevel(logrus.DebugLevel)
		opts.Logger = log
	}
	return channel.New(tr, crypto.NewProvider(), opts)
}

// ready returns a channel that completed a handshake against a fake peer.
func ready(t *testing.T, opts channel.Options) (*channel.Channel, *fakeTransport, *peer) {
	t.Helper()
	f := &fakeTransport{}
	p := newPeer(t)
	f.setOnSend(func(frame []byte) { f.deliver(t, p.answer(frame)) })
	ch := newChannel(t, f, opts)
	_, err := ch.Handshake(context.Background(), keyPair(t))
	require.NoError(t, err)
	require.Equal(t, channel.Ready, ch.State())
	return ch, f, p
}

func pipeToHost(t *testing.T, v host.Vault, a host.Approver) *transport.Stream {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv := host.NewServer(v, a, host.Options{Logger: log})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return transport.NewPipe(func(conn net.Conn) { _ = srv.ServeConn(ctx, conn) }, transport.DefaultConfig(), log)
}

func TestHandshake_WithHost(t *testing.T) {
	v := host.NewMemoryVault(host.Account{ID: "u1", Email: "a@example.com", Active: true})
	tr := pipeToHost(t, v, host.AutoApprove(true))
	ch := newChannel(t, tr, channel.Options{})
	ctx := context.Background()

	p, err := ch.Handshake(ctx, keyPair(t))
	require.NoError(t, err)
	assert.Equal(t, domain.HandshakeSuccess, p.Status)
	assert.Equal(t, channel.Ready, ch.State())

	st, err := ch.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Equal(t, "u1", st[0].ID)

	res, err := ch.CreateCredential(ctx, domain.CredentialCreateCommand{
		UserID: "u1", UserName: "alice", Password: "s3cret", Name: "Example", URI: "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	creds, err := ch.RetrieveCredentials(ctx, "https://example.com/login")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "s3cret", creds[0].Password)

	res, err = ch.UpdateCredential(ctx, domain.CredentialUpdateCommand{
		CredentialID: creds[0].CredentialID, UserID: "u1", UserName: "alice", Password: "n3w", Name: "Example", URI: "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	pw, err := ch.GeneratePassword(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pw, 20)

	_, err = ch.GeneratePassword(ctx, "nobody")
	var re *domain.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, string(host.ErrUnknownUser), re.Code)
	assert.Equal(t, channel.Ready, ch.State())

	require.NoError(t, ch.Disconnect())
	assert.Equal(t, channel.Disconnected, ch.State())
	_, err = ch.Status(ctx)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestHandshake_Cancelled(t *testing.T) {
	tr := pipeToHost(t, host.NewMemoryVault(), host.AutoApprove(false))
	ch := newChannel(t, tr, channel.Options{})

	p, err := ch.Handshake(context.Background(), keyPair(t))
	assert.ErrorIs(t, err, domain.ErrHandshakeCancelled)
	assert.Equal(t, domain.HandshakeCancelled, p.Status)
	assert.Equal(t, channel.Disconnected, ch.State())
	assert.False(t, tr.Connected())

	_, err = ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestHandshake_CanBeRepeated(t *testing.T) {
	ch, _, _ := ready(t, channel.Options{})
	_, err := ch.Handshake(context.Background(), keyPair(t))
	require.NoError(t, err)
	assert.Equal(t, channel.Ready, ch.State())
}

func TestSendEncrypted_BeforeHandshake(t *testing.T) {
	ch := newChannel(t, &fakeTransport{}, channel.Options{})
	_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, channel.AwaitingHandshake, ch.State())
	_, err = ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestSendUnencrypted_RejectsHandshake(t *testing.T) {
	ch := newChannel(t, &fakeTransport{}, channel.Options{})
	_, err := ch.SendUnencrypted(context.Background(), domain.CommandHandshake, nil)
	assert.Error(t, err)
}

func TestConcurrentRequests_ReverseOrder(t *testing.T) {
	const n = 16
	ch, f, p := ready(t, channel.Options{})

	var mu sync.Mutex
	var held []envelope.Inbound
	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		mu.Lock()
		held = append(held, in)
		all := len(held) == n
		mu.Unlock()
		if !all {
			return
		}
		go func() {
			for i := n - 1; i >= 0; i-- {
				f.deliver(t, p.echo(held[i]))
			}
		}()
	})

	type echo struct {
		I int `json:"i"`
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := ch.SendEncrypted(context.Background(), "bw-echo", echo{I: i})
			if err != nil {
				errs <- err
				return
			}
			var got echo
			if err := json.Unmarshal(raw, &got); err != nil {
				errs <- err
				return
			}
			if got.I != i {
				errs <- fmt.Errorf("request %d got response %d", i, got.I)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, ch.Pending())
}

func TestVersionMismatch_IsProtocolError(t *testing.T) {
	ch, f, p := ready(t, channel.Options{})
	p.version = envelope.Version + 1
	f.setOnSend(func(frame []byte) { f.deliver(t, p.answer(frame)) })

	_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.MessageID)
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Equal(t, channel.Ready, ch.State())
	assert.Equal(t, 0, ch.Pending())
}

func TestUnknownMessageID_DoesNotDisturbPending(t *testing.T) {
	unexpected := make(chan []byte, 1)
	ch, f, p := ready(t, channel.Options{OnUnexpected: func(frame []byte) { unexpected <- frame }})

	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		go func() {
			stray := p.echo(in)
			stray.MessageID = "not-a-pending-id"
			f.deliver(t, stray)
			f.deliver(t, p.echo(in))
		}()
	})

	raw, err := ch.SendEncrypted(context.Background(), "bw-echo", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(raw))

	select {
	case frame := <-unexpected:
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, "not-a-pending-id", in.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("stray response was not reported")
	}
}

func TestTimeout_LateResponseIsUnexpected(t *testing.T) {
	unexpected := make(chan []byte, 1)
	ch, f, p := ready(t, channel.Options{
		RequestTimeout: 30 * time.Millisecond,
		OnUnexpected:   func(frame []byte) { unexpected <- frame },
	})

	var late envelope.Inbound
	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		late = in
	})

	_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 0, ch.Pending())
	assert.Equal(t, channel.Ready, ch.State())

	f.deliver(t, p.echo(late))
	select {
	case <-unexpected:
	case <-time.After(time.Second):
		t.Fatal("late response was not reported")
	}
}

func TestContextCancel_RemovesPending(t *testing.T) {
	ch, f, _ := ready(t, channel.Options{})
	f.setOnSend(func([]byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ch.SendEncrypted(ctx, domain.CommandStatus, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, ch.Pending())
}

func TestDecryptFailure_StaysReady(t *testing.T) {
	ch, f, p := ready(t, channel.Options{})
	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		other, err := crypto.GenerateSessionKey()
		require.NoError(t, err)
		ct, err := p.p.SymmetricEncrypt([]byte(`{}`), other)
		require.NoError(t, err)
		f.deliver(t, domain.EncryptedMessageResponse{MessageCommon: p.common(in.MessageID), EncryptedPayload: ct})
	})

	_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Equal(t, channel.Ready, ch.State())
}

func TestUnencryptedErrorResponse(t *testing.T) {
	ch, f, p := ready(t, channel.Options{})
	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		f.deliver(t, domain.UnencryptedMessageResponse{
			MessageCommon: p.common(in.MessageID),
			Payload:       json.RawMessage(`{"error":"cannot-decrypt"}`),
		})
	})

	_, err := ch.Status(context.Background())
	var re *domain.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "cannot-decrypt", re.Code)
	assert.Equal(t, domain.CommandStatus, re.Command)
}

func TestTransportClosed_FailsPendingAndResets(t *testing.T) {
	ch, f, _ := ready(t, channel.Options{})
	sent := make(chan struct{})
	f.setOnSend(func([]byte) { close(sent) })

	errc := make(chan error, 1)
	go func() {
		_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
		errc <- err
	}()
	<-sent
	f.receiver().Closed(fmt.Errorf("%w: eof", domain.ErrConnection))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domain.ErrConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}
	assert.Equal(t, channel.Disconnected, ch.State())
	assert.Equal(t, 0, ch.Pending())
}

func TestSendFailure_Resets(t *testing.T) {
	ch, f, _ := ready(t, channel.Options{})
	f.mu.Lock()
	f.sendErr = fmt.Errorf("%w: %v", domain.ErrConnection, errBroken)
	f.mu.Unlock()

	_, err := ch.SendEncrypted(context.Background(), domain.CommandStatus, nil)
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, channel.Disconnected, ch.State())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.disconnect, "broken stream must be released with the reset")
}

func TestConnect_ConcurrentCallersShareOneAttempt(t *testing.T) {
	f := &fakeTransport{gate: make(chan struct{})}
	ch := newChannel(t, f, channel.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ch.Connect(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return ch.State() == channel.Connecting }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, 1, f.connects)
	assert.Equal(t, channel.AwaitingHandshake, ch.State())

	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, 1, f.connects)
}

func TestConnect_FailureThenRetry(t *testing.T) {
	f := &fakeTransport{connectErr: errBroken}
	ch := newChannel(t, f, channel.Options{})

	err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, channel.Failed, ch.State())

	f.mu.Lock()
	f.connectErr = nil
	f.mu.Unlock()
	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, channel.AwaitingHandshake, ch.State())
}

func TestHandshake_ConcurrentCallersShareOneExchange(t *testing.T) {
	var approvals int32
	release := make(chan struct{})
	approver := host.ApproverFunc(func(ctx context.Context, _ string) (bool, error) {
		atomic.AddInt32(&approvals, 1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return true, nil
	})
	v := host.NewMemoryVault(host.Account{ID: "u1", Email: "a@example.com", Active: true})
	ch := newChannel(t, pipeToHost(t, v, approver), channel.Options{})
	ctx := context.Background()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ch.Handshake(ctx, keyPair(t))
		}(i)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&approvals) > 0 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&approvals))
	assert.Equal(t, channel.Ready, ch.State())

	st, err := ch.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	require.NoError(t, ch.Disconnect())
}

func TestHandshake_SequentialRepeatsKeepWorkingKey(t *testing.T) {
	v := host.NewMemoryVault(host.Account{ID: "u1", Email: "a@example.com", Active: true})
	ch := newChannel(t, pipeToHost(t, v, host.AutoApprove(true)), channel.Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ch.Handshake(ctx, keyPair(t))
		require.NoError(t, err)
		_, err = ch.Status(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, ch.Disconnect())
}

func TestHandshake_CancelledReleasesTransportBeforeDisconnected(t *testing.T) {
	f := &fakeTransport{}
	p := newPeer(t)
	p.decline = true
	f.setOnSend(func(frame []byte) { f.deliver(t, p.answer(frame)) })
	ch := newChannel(t, f, channel.Options{})
	require.NoError(t, ch.Connect(context.Background()))

	// Whenever Disconnected is observable the transport has already been
	// released, so a racing Connect cannot reuse the dying connection.
	stop := make(chan struct{})
	seen := make(chan int, 1)
	go func() {
		for {
			select {
			case <-stop:
				seen <- -1
				return
			default:
			}
			if ch.State() == channel.Disconnected {
				f.mu.Lock()
				seen <- f.disconnect
				f.mu.Unlock()
				return
			}
		}
	}()

	_, err := ch.Handshake(context.Background(), keyPair(t))
	assert.ErrorIs(t, err, domain.ErrHandshakeCancelled)
	close(stop)
	if got := <-seen; got != -1 {
		assert.Equal(t, 1, got)
	}
	f.mu.Lock()
	assert.Equal(t, 1, f.disconnect)
	f.mu.Unlock()
}

func TestExecute_UndecodableResponseCarriesMessageID(t *testing.T) {
	ch, f, p := ready(t, channel.Options{})
	var sentID string
	f.setOnSend(func(frame []byte) {
		in, err := envelope.Decode(frame)
		require.NoError(t, err)
		sentID = in.MessageID
		ct, err := p.p.SymmetricEncrypt([]byte(`{"unexpected":true}`), p.key)
		require.NoError(t, err)
		f.deliver(t, domain.EncryptedMessageResponse{MessageCommon: p.common(in.MessageID), EncryptedPayload: ct})
	})

	_, err := ch.Status(context.Background())
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, sentID)
	assert.Equal(t, sentID, pe.MessageID)
	assert.Equal(t, channel.Ready, ch.State())
}
