package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/protocol/handshake"
)

var (
	keyOnce sync.Once
	testKP  domain.KeyPair
)

func keyPair(t *testing.T) domain.KeyPair {
	t.Helper()
	keyOnce.Do(func() {
		kp, err := crypto.GenerateKeyPair(crypto.KeyPairBits)
		require.NoError(t, err)
		testKP = kp
	})
	return testKP
}

// fakeTransport is a scripted domain.Transport. Frames sent by the channel go
// to onSend; the test answers through deliver.
type fakeTransport struct {
	mu         sync.Mutex
	r          domain.Receiver
	connects   int
	connectErr error
	sendErr    error
	gate       chan struct{} // Connect blocks until closed when non-nil
	onSend     func(frame []byte)
	disconnect int
}

func (f *fakeTransport) Connect(ctx context.Context, r domain.Receiver) error {
	f.mu.Lock()
	f.connects++
	gate, err := f.gate, f.connectErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.r = r
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	err, h := f.sendErr, f.onSend
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if h != nil {
		h(frame)
	}
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnect++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setOnSend(h func([]byte)) {
	f.mu.Lock()
	f.onSend = h
	f.mu.Unlock()
}

func (f *fakeTransport) receiver() domain.Receiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.r
}

func (f *fakeTransport) deliver(t *testing.T, msg any) {
	t.Helper()
	frame, err := envelope.Encode(msg)
	require.NoError(t, err)
	f.receiver().Receive(frame)
}

// peer plays the desktop side for a fakeTransport.
type peer struct {
	t       *testing.T
	p       *crypto.Provider
	key     domain.SessionKey
	version int
	decline bool
}

func newPeer(t *testing.T) *peer {
	return &peer{t: t, p: crypto.NewProvider(), version: envelope.Version}
}

func (p *peer) common(id domain.MessageID) domain.MessageCommon {
	return domain.MessageCommon{MessageID: id, Version: p.version}
}

// answer builds the response to frame: handshakes are accepted or declined,
// encrypted commands have their payload echoed back.
func (p *peer) answer(frame []byte) any {
	in, err := envelope.Decode(frame)
	require.NoError(p.t, err)
	if in.Command == domain.CommandHandshake {
		payload := handshake.Decline()
		if !p.decline {
			pub, err := handshake.PublicKey(in)
			require.NoError(p.t, err)
			payload, p.key, err = handshake.Accept(pub, p.p)
			require.NoError(p.t, err)
		}
		raw, _ := json.Marshal(payload)
		return domain.UnencryptedMessageResponse{MessageCommon: p.common(in.MessageID), Payload: raw}
	}
	return p.echo(in)
}

func (p *peer) echo(in envelope.Inbound) domain.EncryptedMessageResponse {
	text, err := p.p.SymmetricDecryptToText(in.EncryptedCommand, p.key)
	require.NoError(p.t, err)
	var data domain.DecryptedCommandData
	require.NoError(p.t, json.Unmarshal(text, &data))
	payload := data.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ct, err := p.p.SymmetricEncrypt(payload, p.key)
	require.NoError(p.t, err)
	return domain.EncryptedMessageResponse{MessageCommon: p.common(in.MessageID), EncryptedPayload: ct}
}

var errBroken = errors.New("broken pipe")
