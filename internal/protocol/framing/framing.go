// Package framing delimits JSON messages on a byte stream.
//
// Each frame is a 4-byte little-endian unsigned length followed by that many
// bytes of UTF-8 JSON, the browser native-messaging convention. The envelope
// layer above never sees the prefix.
package framing

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	HeaderLen = 4
	// DefaultMaxFrameBytes matches the 1 MiB host-to-extension cap of
	// browser native messaging.
	DefaultMaxFrameBytes = 1 << 20
)

var (
	ErrShortHeader   = errors.New("framing: short length header")
	ErrEmptyFrame    = errors.New("framing: empty frame")
	ErrFrameTooLarge = errors.New("framing: frame too large")
)

// Limits constrains frame memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

func (l Limits) max() uint32 {
	if l.MaxFrameBytes == 0 {
		return DefaultMaxFrameBytes
	}
	return l.MaxFrameBytes
}

// WriteFrame writes one length-prefixed frame with a single Write call so a
// frame is never split across concurrent writers sharing w under a lock.
func WriteFrame(w io.Writer, msg []byte, limits Limits) error {
	if len(msg) == 0 {
		return ErrEmptyFrame
	}
	if uint64(len(msg)) > uint64(limits.max()) {
		return ErrFrameTooLarge
	}
	buf := make([]byte, HeaderLen+len(msg))
	binary.LittleEndian.PutUint32(buf[:HeaderLen], uint32(len(msg)))
	copy(buf[HeaderLen:], msg)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. io.EOF is returned unchanged when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > limits.max() {
		return nil, ErrFrameTooLarge
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}
