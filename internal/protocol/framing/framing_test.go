package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{[]byte(`{"messageId":"a","version":1}`), []byte(`{"messageId":"b","version":1}`)}
	for _, m := range msgs {
		if err := WriteFrame(&buf, m, DefaultLimits()); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	for _, want := range msgs {
		got, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("payload mismatch: got=%q want=%q", got, want)
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestWriteFrameLittleEndianPrefix(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("{}"), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf.Bytes()[:HeaderLen]); got != 2 {
		t.Fatalf("expected length 2, got %d", got)
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	b := []byte{10, 0, 0, 0, '{'}
	_, err := ReadFrame(bytes.NewReader(b), DefaultLimits())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	limits := Limits{MaxFrameBytes: 8}
	if err := WriteFrame(io.Discard, bytes.Repeat([]byte("x"), 9), limits); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on write, got %v", err)
	}
	hdr := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(hdr, 9)
	if _, err := ReadFrame(bytes.NewReader(hdr), limits); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on read, got %v", err)
	}
}

func TestEmptyFrameRejected(t *testing.T) {
	if err := WriteFrame(io.Discard, nil, DefaultLimits()); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), DefaultLimits()); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}
