// Package mirror drives a device's H.264 mirror stream from raw capture
// bytes to decoded pictures. The Controller is the per-stream state
// machine: it frames Annex B bytes into NAL units, gates payload on a
// complete SPS/PPS pair, configures the decode engine, and forwards
// length-prefixed units to it. Session wraps a Controller with a
// restartable capture source, and Manager tracks named sessions.
package mirror

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/misterblack0101/MirrorDock/decode"
	"github.com/misterblack0101/MirrorDock/h264"
)

// State is the controller's lifecycle position. Transitions only happen
// inside Feed, Reset, and Close; State() may be read from any goroutine.
type State int32

const (
	// StateIdle means no stream session is open. Entered at construction,
	// after Reset, and when engine construction fails.
	StateIdle State = iota
	// StateAccumulating means bytes are arriving but the SPS/PPS pair is
	// incomplete; payload units are dropped.
	StateAccumulating
	// StateAwaitingConfig is the transient window inside a Feed call
	// between completing the pair and the engine accepting the
	// configuration record.
	StateAwaitingConfig
	// StateConfigured means the engine is configured and payload units
	// are being forwarded.
	StateConfigured
	// StateClosed is terminal.
	StateClosed
)

// String returns a short label for logging and stats.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateAwaitingConfig:
		return "awaiting-config"
	case StateConfigured:
		return "configured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateVal holds the state atomically so State() never contends with a
// Feed in progress.
type stateVal struct {
	v atomic.Int32
}

func (s *stateVal) set(st State) { s.v.Store(int32(st)) }
func (s *stateVal) get() State   { return State(s.v.Load()) }

// preConfigHintAfter is how many payload units may be dropped while
// unconfigured before the controller surfaces a single diagnostic hint.
// Roughly two seconds of video at 60 fps.
const preConfigHintAfter = 120

// Config carries the construction parameters for a Controller.
type Config struct {
	// Factory constructs the decode engine. Required. The controller
	// calls it lazily on the first Feed and again after Reset or an
	// engine loss, never twice for a live engine.
	Factory decode.Factory

	// OnPicture receives decoded pictures in submission order. Optional;
	// pictures are counted either way. Called from the engine's delivery
	// goroutine, so it must be fast and must not call back into the
	// controller's Feed.
	OnPicture decode.PictureFunc

	// MaxBuffer caps the framing accumulator in bytes.
	// Defaults to h264.DefaultMaxBuffer.
	MaxBuffer int

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Controller is the per-stream H.264 state machine. It owns the framing
// scanner, the current parameter-set pair, and the decode engine handle
// exclusively; nothing else may mutate them.
//
// Feed is synchronous and must be called from a single goroutine at a
// time. Reset, Close, State, and Snapshot are safe to call concurrently
// with Feed.
type Controller struct {
	log       *slog.Logger
	factory   decode.Factory
	onPicture decode.PictureFunc

	state stateVal
	stats Stats

	mu         sync.Mutex
	scanner    *h264.Scanner
	engine     decode.Engine
	sps        []byte
	pps        []byte
	configured bool
	needKey    bool
	fatal      error
	overflowed int64
}

// New creates a Controller. The decode engine is not constructed here;
// that happens on the first Feed so that a host without decode support
// fails at stream time, not at setup time.
func New(cfg Config) (*Controller, error) {
	if cfg.Factory == nil {
		return nil, errors.New("mirror: decode factory required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	maxBuf := cfg.MaxBuffer
	if maxBuf <= 0 {
		maxBuf = h264.DefaultMaxBuffer
	}
	c := &Controller{
		log:       log.With("component", "controller"),
		factory:   cfg.Factory,
		onPicture: cfg.OnPicture,
		scanner:   h264.NewScanner(maxBuf),
	}
	c.state.set(StateIdle)
	return c, nil
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return c.state.get()
}

// Feed appends a chunk of capture bytes, frames any NAL units they
// complete, and dispatches each unit in order: parameter sets update the
// configuration pair, payload units are length-prefixed and sent to the
// decode engine once configured. An incomplete trailing unit is retained
// for the next call.
//
// Feed returns a non-nil error only when the decode engine cannot be
// constructed at all, meaning H.264 decoding is unavailable on this
// host. That error is sticky: every later Feed returns it without
// retrying, until Reset. All other conditions (framing gaps, overflow,
// missing configuration, per-unit decode errors, engine loss) are
// handled internally.
func (c *Controller) Feed(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.get() == StateClosed {
		return nil
	}
	if c.fatal != nil {
		return c.fatal
	}

	c.stats.bytesIn.Add(int64(len(chunk)))

	if c.engine == nil {
		eng, err := c.factory(c.emitPicture)
		if err != nil {
			c.fatal = fmt.Errorf("constructing decode engine: %w", err)
			c.state.set(StateIdle)
			c.log.Error("decode engine unavailable", "error", err)
			return c.fatal
		}
		c.engine = eng
	}
	if c.state.get() == StateIdle {
		c.state.set(StateAccumulating)
	}

	units := c.scanner.Scan(chunk)
	if d := c.scanner.DroppedBytes(); d > c.overflowed {
		c.stats.overflowBytes.Add(d - c.overflowed)
		if c.overflowed == 0 {
			c.log.Warn("accumulator full, dropping oldest bytes", "dropped", d)
		}
		c.overflowed = d
	}

	for _, u := range units {
		c.dispatchLocked(u)
		if c.fatal != nil {
			return c.fatal
		}
	}
	return nil
}

// dispatchLocked routes one framed unit according to its kind and the
// current state. Caller holds c.mu.
func (c *Controller) dispatchLocked(u h264.Unit) {
	c.stats.units.Add(1)

	switch u.Kind() {
	case h264.KindSequenceConfig:
		changed := !bytes.Equal(c.sps, u.Data)
		if changed {
			c.sps = u.Data
		}
		c.maybeConfigureLocked(changed)
	case h264.KindPictureConfig:
		changed := !bytes.Equal(c.pps, u.Data)
		if changed {
			c.pps = u.Data
		}
		c.maybeConfigureLocked(changed)
	case h264.KindKeyframe, h264.KindDeltaFrame:
		c.forwardLocked(u)
	default:
		c.stats.otherUnits.Add(1)
	}
}

// maybeConfigureLocked issues a configure call when the pair is complete
// and either it changed or the previous attempt failed. Identical
// parameter-set re-sends are common on Android and must not re-configure
// a working engine. Caller holds c.mu.
func (c *Controller) maybeConfigureLocked(pairChanged bool) {
	if c.sps == nil || c.pps == nil {
		return
	}
	if c.configured && !pairChanged {
		return
	}

	c.state.set(StateAwaitingConfig)

	record, err := h264.BuildDecoderConfig(c.sps, c.pps)
	if err != nil {
		c.log.Warn("decoder config rejected, awaiting new parameter sets", "error", err)
		c.stats.buildFailures.Add(1)
		c.configured = false
		c.state.set(StateAccumulating)
		return
	}

	cfg := decode.Config{Record: record}
	if info, err := h264.ParseSPS(c.sps); err == nil {
		cfg.Width = info.Width
		cfg.Height = info.Height
		cfg.Codec = info.CodecString()
		c.stats.setVideoInfo(info.Width, info.Height, info.CodecString())
	}

	if err := c.engine.Configure(cfg); err != nil {
		if errors.Is(err, decode.ErrEngineClosed) {
			c.rebuildLocked()
			return
		}
		c.log.Warn("decoder configure failed, awaiting new parameter sets", "error", err)
		c.stats.configureFailures.Add(1)
		c.configured = false
		c.state.set(StateAccumulating)
		return
	}

	c.configured = true
	c.needKey = true
	c.stats.configures.Add(1)
	c.state.set(StateConfigured)
	c.log.Info("decoder configured",
		"width", cfg.Width, "height", cfg.Height, "codec", cfg.Codec)
}

// forwardLocked converts a payload unit to its length-prefixed form and
// submits it. Units before configuration are dropped; after a configure,
// delta frames are dropped until a keyframe has been decoded, since they
// would reference pictures the fresh engine never saw. Caller holds c.mu.
func (c *Controller) forwardLocked(u h264.Unit) {
	if !c.configured {
		n := c.stats.preConfigDrops.Add(1)
		if n == preConfigHintAfter {
			c.log.Warn("no keyframe decoded yet, still waiting for SPS/PPS",
				"droppedUnits", n)
		}
		return
	}

	key := u.Kind() == h264.KindKeyframe
	if c.needKey && !key {
		c.stats.gateDrops.Add(1)
		return
	}

	err := c.engine.Decode(decode.Chunk{Data: h264.LengthPrefixed(u.Data), Key: key})
	if err != nil {
		if errors.Is(err, decode.ErrEngineClosed) {
			c.rebuildLocked()
			return
		}
		// Transient: skip this unit, keep the stream going.
		c.stats.decodeErrors.Add(1)
		c.log.Debug("decode error, unit skipped", "kind", u.Kind(), "error", err)
		return
	}

	if key {
		c.needKey = false
		c.stats.keyframes.Add(1)
	} else {
		c.stats.deltaFrames.Add(1)
	}
}

// rebuildLocked replaces a dead engine. The scanner keeps running (byte
// framing is still continuous), but the parameter pair is cleared so the
// stream reconfigures from the next SPS/PPS before any payload flows
// again. A factory failure here becomes the sticky fatal. Caller holds
// c.mu.
func (c *Controller) rebuildLocked() {
	c.stats.rebuilds.Add(1)
	c.log.Warn("decode engine lost mid-stream, rebuilding")

	if c.engine != nil {
		_ = c.engine.Close()
		c.engine = nil
	}
	c.sps = nil
	c.pps = nil
	c.configured = false
	c.needKey = false

	eng, err := c.factory(c.emitPicture)
	if err != nil {
		c.fatal = fmt.Errorf("rebuilding decode engine: %w", err)
		c.state.set(StateIdle)
		c.log.Error("decode engine unavailable", "error", err)
		return
	}
	c.engine = eng
	c.state.set(StateAccumulating)
}

// Reset discards all stream state: accumulator contents, the parameter
// pair, and the engine handle. The controller returns to Idle and the
// next Feed constructs a fresh engine. Reset never fails and is safe to
// call at any point, including concurrently with Feed; it is the restart
// path after a stream discontinuity, because a decoder cannot be told
// the byte stream jumped.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.get() == StateClosed {
		return
	}
	c.resetLocked()
	c.stats.resets.Add(1)
	c.state.set(StateIdle)
}

// Close releases the engine and makes the controller permanently inert.
// Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.get() == StateClosed {
		return nil
	}
	c.resetLocked()
	c.state.set(StateClosed)
	return nil
}

// resetLocked clears stream state shared by Reset and Close. Caller
// holds c.mu.
func (c *Controller) resetLocked() {
	if c.engine != nil {
		_ = c.engine.Close()
		c.engine = nil
	}
	c.scanner.Reset()
	c.sps = nil
	c.pps = nil
	c.configured = false
	c.needKey = false
	c.fatal = nil
	c.overflowed = 0
}

// emitPicture is handed to the engine factory. It runs on the engine's
// delivery goroutine and must not touch c.mu: the lavc engine invokes it
// synchronously from inside Decode, which Feed calls with the lock held.
func (c *Controller) emitPicture(p decode.Picture) {
	c.stats.pictures.Add(1)
	if c.onPicture != nil {
		c.onPicture(p)
	}
}

// Snapshot returns a point-in-time view of the controller's counters.
func (c *Controller) Snapshot() Snapshot {
	snap := c.stats.snapshot()
	snap.State = c.State().String()
	return snap
}
