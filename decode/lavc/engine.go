// Package lavc implements an in-process decode engine on libavcodec through
// the go-astiav bindings. It requires cgo and the FFmpeg libraries at build
// time; hosts without them should use the decode/ffmpeg subprocess engine.
package lavc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/misterblack0101/MirrorDock/decode"
)

// Options configures the libavcodec engine.
type Options struct {
	Log *slog.Logger
}

// NewFactory returns a decode.Factory producing libavcodec engines. A build
// of libavcodec without an H.264 decoder reports decode.ErrUnsupported.
func NewFactory(opts Options) decode.Factory {
	return func(onPicture decode.PictureFunc) (decode.Engine, error) {
		codec := astiav.FindDecoder(astiav.CodecIDH264)
		if codec == nil {
			return nil, fmt.Errorf("%w: libavcodec has no h264 decoder", decode.ErrUnsupported)
		}
		log := opts.Log
		if log == nil {
			log = slog.Default()
		}
		return &Engine{
			codec:     codec,
			onPicture: onPicture,
			log:       log.With("component", "lavc"),
		}, nil
	}
}

// Engine decodes synchronously on the caller's goroutine: Decode sends one
// packet and drains every frame the decoder has ready, invoking the picture
// callback inline. Callbacks must not call back into the engine.
type Engine struct {
	codec     *astiav.Codec
	onPicture decode.PictureFunc
	log       *slog.Logger

	mu     sync.Mutex
	closer *astikit.Closer
	ctx    *astiav.CodecContext
	pkt    *astiav.Packet
	frame  *astiav.Frame
	closed bool
}

var _ decode.Engine = (*Engine)(nil)

// Configure opens a fresh codec context for the given record. libavcodec
// reads extradata only at open time, so reconfiguration replaces the whole
// context.
func (e *Engine) Configure(cfg decode.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return decode.ErrEngineClosed
	}
	e.teardownLocked()

	closer := astikit.NewCloser()
	ctx := astiav.AllocCodecContext(e.codec)
	if ctx == nil {
		return errors.New("allocating codec context failed")
	}
	closer.Add(ctx.Free)

	ctx.SetExtraData(cfg.Record)
	if err := ctx.Open(e.codec, nil); err != nil {
		closer.Close()
		return fmt.Errorf("opening codec context: %w", err)
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)
	frame := astiav.AllocFrame()
	closer.Add(frame.Free)

	e.closer = closer
	e.ctx = ctx
	e.pkt = pkt
	e.frame = frame
	e.log.Debug("decoder configured", "codec", cfg.Codec, "width", cfg.Width, "height", cfg.Height)
	return nil
}

// Decode sends one AVCC chunk through the decoder and delivers any completed
// pictures. Bitstream errors are transient; the caller skips the chunk and
// carries on.
func (e *Engine) Decode(chunk decode.Chunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return decode.ErrEngineClosed
	}
	if e.ctx == nil {
		return decode.ErrNotConfigured
	}

	if err := e.pkt.FromData(chunk.Data); err != nil {
		return fmt.Errorf("packet from chunk: %w", err)
	}
	defer e.pkt.Unref()

	if err := e.ctx.SendPacket(e.pkt); err != nil {
		if errors.Is(err, astiav.ErrEagain) {
			// The decoder wants its output drained before taking more
			// input. Drain and retry once; persistent refusal drops the
			// chunk as transient.
			e.drainLocked()
			if err = e.ctx.SendPacket(e.pkt); err == nil {
				e.drainLocked()
				return nil
			}
		}
		return fmt.Errorf("sending packet: %w", err)
	}

	e.drainLocked()
	return nil
}

func (e *Engine) drainLocked() {
	for {
		if err := e.ctx.ReceiveFrame(e.frame); err != nil {
			if !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
				e.log.Debug("receive frame", "error", err)
			}
			return
		}

		data, err := e.frame.Data().Bytes(0)
		if err == nil && len(data) > 0 {
			e.onPicture(decode.Picture{
				Width:  e.frame.Width(),
				Height: e.frame.Height(),
				Data:   data,
			})
		}
		e.frame.Unref()
	}
}

// Close frees all libavcodec resources. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.teardownLocked()
	return nil
}

func (e *Engine) teardownLocked() {
	if e.closer == nil {
		return
	}
	e.closer.Close()
	e.closer = nil
	e.ctx = nil
	e.pkt = nil
	e.frame = nil
}
