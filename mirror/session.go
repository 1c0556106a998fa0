package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// sourceReadBufferSize is the read buffer for capture pipe reads. Chunk
// boundaries are arbitrary; the scanner reassembles units regardless.
const sourceReadBufferSize = 32 << 10

// Restart backoff for a capture source that fails to start or dies
// without delivering bytes. A source that streamed and then ended is
// restarted immediately, since screenrecord exiting at its time limit
// is the normal way a healthy capture rolls over.
const (
	restartBackoffMin = 250 * time.Millisecond
	restartBackoffMax = 5 * time.Second
)

// SourceFunc opens the capture byte stream for one attempt. The session
// calls it again after each stream end, so it must start a fresh capture
// each time.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// Session ties one capture source to one Controller and keeps the bytes
// flowing for the session's lifetime. Stream state never outlives a
// source attempt: every time the source ends, the controller is Reset so
// the next attempt re-frames and re-configures from scratch.
type Session struct {
	Key       string
	StartedAt time.Time

	log    *slog.Logger
	source SourceFunc
	ctrl   *Controller
	done   chan struct{}

	sourceBytes atomic.Int64
	sourceReads atomic.Int64
	restarts    atomic.Int64
}

// NewSession creates a session around an already-constructed controller.
// If log is nil, slog.Default() is used.
func NewSession(key string, source SourceFunc, ctrl *Controller, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		Key:       key,
		StartedAt: time.Now(),
		log:       log.With("component", "session", "key", key),
		source:    source,
		ctrl:      ctrl,
		done:      make(chan struct{}),
	}
}

// Controller returns the session's stream controller.
func (s *Session) Controller() *Controller {
	return s.ctrl
}

// Run opens the capture source and pumps its bytes into the controller
// until the context is cancelled, the session is removed, or decoding
// turns out to be unsupported on this host. A source that ends is
// reopened, with capped backoff when it is failing to produce anything.
// The controller is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.ctrl.Close()

	backoff := restartBackoffMin
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil || s.removed() {
			return nil
		}

		src, err := s.source(ctx)
		if err != nil {
			s.log.Warn("capture source failed to start", "error", err, "backoff", backoff)
			if !s.wait(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, restartBackoffMax)
			continue
		}

		if attempt > 0 {
			s.restarts.Add(1)
			s.log.Info("capture source reopened", "attempt", attempt)
		}

		before := s.sourceBytes.Load()
		if err := s.pump(ctx, src); err != nil {
			return err
		}

		// Framing and decoder state are meaningless across a source
		// restart; the new capture starts its own stream.
		s.ctrl.Reset()

		if s.sourceBytes.Load() == before {
			s.log.Warn("capture source ended without data", "backoff", backoff)
			if !s.wait(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, restartBackoffMax)
		} else {
			backoff = restartBackoffMin
		}
	}
}

// pump reads the source until it ends, feeding every chunk to the
// controller. Returns non-nil only for the controller's sticky
// capability error; a read error or EOF just ends the attempt.
func (s *Session) pump(ctx context.Context, src io.ReadCloser) error {
	// Closing the source is the only way to unblock a pipe read.
	watch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-watch:
		}
		src.Close()
	}()
	defer close(watch)

	buf := make([]byte, sourceReadBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			s.sourceBytes.Add(int64(n))
			s.sourceReads.Add(1)
			if ferr := s.ctrl.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !s.removed() {
				s.log.Debug("capture read ended", "error", err)
			}
			return nil
		}
	}
}

func (s *Session) removed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// wait sleeps for d unless the context is cancelled or the session is
// removed first.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

// SessionSnapshot is the per-session stats payload, wrapping the stream
// counters with source-level telemetry.
type SessionSnapshot struct {
	Key         string   `json:"key"`
	Timestamp   int64    `json:"ts"`
	UptimeMs    int64    `json:"uptimeMs"`
	SourceBytes int64    `json:"sourceBytes"`
	SourceReads int64    `json:"sourceReads"`
	Restarts    int64    `json:"restarts"`
	Stream      Snapshot `json:"stream"`
}

// Snapshot returns a point-in-time view of the session and its stream.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		Key:         s.Key,
		Timestamp:   time.Now().UnixMilli(),
		UptimeMs:    time.Since(s.StartedAt).Milliseconds(),
		SourceBytes: s.sourceBytes.Load(),
		SourceReads: s.sourceReads.Load(),
		Restarts:    s.restarts.Load(),
		Stream:      s.ctrl.Snapshot(),
	}
}
