package ffmpeg

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/misterblack0101/MirrorDock/decode"
)

func TestFactoryUnsupportedBinary(t *testing.T) {
	t.Parallel()
	factory := NewFactory(Options{Path: "mirrordock-no-such-binary"})
	_, err := factory(func(decode.Picture) {})
	if !errors.Is(err, decode.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestAnnexB(t *testing.T) {
	t.Parallel()
	in := []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0xAA, 0xBB}
	out, err := annexB(in)
	if err != nil {
		t.Fatalf("annexB error: %v", err)
	}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	if !bytes.Equal(out, want) {
		t.Errorf("got %x, want %x", out, want)
	}
}

func TestAnnexBRejectsMalformed(t *testing.T) {
	t.Parallel()
	if _, err := annexB([]byte{0x00, 0x00}); err == nil {
		t.Error("expected error for short chunk")
	}
	// Length prefix claims 5 bytes, payload has 2.
	if _, err := annexB([]byte{0x00, 0x00, 0x00, 0x05, 0x65, 0xAA}); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestDecodeUnconfigured(t *testing.T) {
	t.Parallel()
	e := &Engine{depth: 1}
	err := e.Decode(decode.Chunk{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}, Key: true})
	if !errors.Is(err, decode.ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}

func TestDecodeAfterClose(t *testing.T) {
	t.Parallel()
	e := &Engine{depth: 1}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	err := e.Decode(decode.Chunk{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}, Key: true})
	if !errors.Is(err, decode.ErrEngineClosed) {
		t.Fatalf("got %v, want ErrEngineClosed", err)
	}
}

// fakeProc builds a process skeleton that is never started, for exercising
// the queue logic in isolation.
func fakeProc(queue int) *process {
	return &process{
		ch:      make(chan []byte, queue),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func TestDecodeBackloggedPoisonsGroup(t *testing.T) {
	t.Parallel()
	e := &Engine{depth: 1, log: discard()}
	e.proc = fakeProc(1)

	key := decode.Chunk{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}, Key: true}
	delta := decode.Chunk{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x41}}

	// First chunk fills the queue; nothing consumes it.
	if err := e.Decode(key); err != nil {
		t.Fatalf("decode 1: %v", err)
	}
	if e.dropped.Load() != 0 {
		t.Fatalf("dropped after first chunk: %d", e.dropped.Load())
	}

	// Queue full: this delta is dropped and the group is poisoned.
	if err := e.Decode(delta); err != nil {
		t.Fatalf("decode 2: %v", err)
	}
	if e.dropped.Load() != 1 {
		t.Fatalf("dropped: got %d, want 1", e.dropped.Load())
	}

	// Drain the queue; the next delta must still be dropped (poisoned group).
	<-e.proc.ch
	if err := e.Decode(delta); err != nil {
		t.Fatalf("decode 3: %v", err)
	}
	if e.dropped.Load() != 2 {
		t.Fatalf("dropped: got %d, want 2", e.dropped.Load())
	}
	if len(e.proc.ch) != 0 {
		t.Fatal("poisoned delta must not be queued")
	}

	// A keyframe clears the poison and is queued again.
	if err := e.Decode(key); err != nil {
		t.Fatalf("decode 4: %v", err)
	}
	if len(e.proc.ch) != 1 {
		t.Fatal("keyframe should be queued after clearing poison")
	}
	if e.dropped.Load() != 2 {
		t.Fatalf("dropped: got %d, want 2", e.dropped.Load())
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()
	args := buildArgs()
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	for _, want := range []string{"-f h264", "-i pipe:0", "-f rawvideo", "-pix_fmt yuv420p", "pipe:1"} {
		if !contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func contains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
