// Package ffmpeg implements a decode engine backed by an ffmpeg subprocess.
// Chunks are re-framed to Annex B on the way into the demuxer and decoded
// pictures are read back as raw yuv420p frames on stdout. The engine is pure
// Go; the runtime dependency is an ffmpeg binary on the host.
package ffmpeg

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/misterblack0101/MirrorDock/decode"
	"github.com/misterblack0101/MirrorDock/h264"
)

const defaultQueueDepth = 32

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Options configures the subprocess engine.
type Options struct {
	// Path is the ffmpeg binary. Empty resolves "ffmpeg" from $PATH.
	Path string

	// QueueDepth bounds the chunks waiting to enter the decoder. A full
	// queue drops the chunk rather than stalling the feeder. <= 0 selects
	// the default of 32.
	QueueDepth int

	Log *slog.Logger
}

// NewFactory returns a decode.Factory producing subprocess engines. The
// binary is resolved once per engine; a missing binary reports
// decode.ErrUnsupported.
func NewFactory(opts Options) decode.Factory {
	return func(onPicture decode.PictureFunc) (decode.Engine, error) {
		name := opts.Path
		if name == "" {
			name = "ffmpeg"
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s not found", decode.ErrUnsupported, name)
		}

		depth := opts.QueueDepth
		if depth <= 0 {
			depth = defaultQueueDepth
		}
		log := opts.Log
		if log == nil {
			log = slog.Default()
		}

		return &Engine{
			path:      path,
			depth:     depth,
			onPicture: onPicture,
			log:       log.With("component", "ffmpeg"),
		}, nil
	}
}

// Engine drives one ffmpeg process per configuration. Reconfiguring replaces
// the process; a dead process surfaces as decode.ErrEngineClosed on the next
// Decode so the owner can rebuild.
type Engine struct {
	path      string
	depth     int
	onPicture decode.PictureFunc
	log       *slog.Logger

	dropped atomic.Int64

	mu      sync.Mutex
	proc    *process
	damaged bool
	closed  bool
}

var _ decode.Engine = (*Engine)(nil)

// Configure starts a fresh ffmpeg process for the given parameter sets,
// replacing any previous one. The stream's SPS and PPS are written ahead of
// the first chunk so the demuxer can configure itself immediately.
func (e *Engine) Configure(cfg decode.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New("output dimensions unknown")
	}
	sps, pps, err := h264.ParseDecoderConfig(cfg.Record)
	if err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return decode.ErrEngineClosed
	}
	if e.proc != nil {
		e.proc.stop()
		e.proc = nil
	}

	proc, err := e.start(cfg.Width, cfg.Height)
	if err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Prime the demuxer with the parameter sets.
	primer := make([]byte, 0, 8+len(sps)+len(pps))
	primer = append(primer, startCode...)
	primer = append(primer, sps...)
	primer = append(primer, startCode...)
	primer = append(primer, pps...)
	proc.ch <- primer

	e.proc = proc
	e.damaged = false
	e.log.Debug("decoder configured",
		"codec", cfg.Codec,
		"width", cfg.Width,
		"height", cfg.Height,
		"pid", proc.cmd.Process.Pid)
	return nil
}

// Decode queues one AVCC chunk. A backlogged queue drops the chunk and
// poisons the group: subsequent delta chunks are dropped until the next
// keyframe, since the decoder could only produce garbage from them.
func (e *Engine) Decode(chunk decode.Chunk) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return decode.ErrEngineClosed
	}
	proc := e.proc
	if proc == nil {
		e.mu.Unlock()
		return decode.ErrNotConfigured
	}
	if chunk.Key {
		e.damaged = false
	} else if e.damaged {
		e.mu.Unlock()
		e.dropped.Add(1)
		return nil
	}
	e.mu.Unlock()

	select {
	case <-proc.done:
		return fmt.Errorf("ffmpeg exited: %w", decode.ErrEngineClosed)
	default:
	}

	data, err := annexB(chunk.Data)
	if err != nil {
		return err
	}

	select {
	case proc.ch <- data:
	case <-proc.stopped:
		return decode.ErrEngineClosed
	default:
		e.mu.Lock()
		e.damaged = true
		e.mu.Unlock()
		e.log.Debug("dropped chunk, decoder backlogged", "total_dropped", e.dropped.Add(1))
	}
	return nil
}

// Close kills the process and releases the engine. Safe to call from any
// goroutine and more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	proc := e.proc
	e.proc = nil
	e.mu.Unlock()

	if proc != nil {
		proc.stop()
	}
	return nil
}

// process is one running ffmpeg instance with its writer/reader pumps.
type process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	ch        chan []byte
	stopped   chan struct{}
	done      chan struct{}
	frameSize int
	width     int
	height    int
	stopOnce  sync.Once
}

func (e *Engine) start(width, height int) (*process, error) {
	cmd := exec.Command(e.path, buildArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	luma := width * height
	chroma := ((width + 1) / 2) * ((height + 1) / 2)
	proc := &process{
		cmd:       cmd,
		stdin:     stdin,
		ch:        make(chan []byte, e.depth),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		frameSize: luma + 2*chroma,
		width:     width,
		height:    height,
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			e.log.Debug("ffmpeg process exited", "error", err)
		}
		close(proc.done)
	}()
	go proc.writeLoop()
	go proc.readLoop(stdout, e.onPicture)
	go e.drainStderr(stderr)

	return proc, nil
}

func buildArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-fflags", "nobuffer",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"pipe:1",
	}
}

func (p *process) writeLoop() {
	defer p.stdin.Close()
	for {
		select {
		case <-p.stopped:
			return
		case data := <-p.ch:
			if _, err := p.stdin.Write(data); err != nil {
				return
			}
		}
	}
}

func (p *process) readLoop(stdout io.Reader, onPicture decode.PictureFunc) {
	r := bufio.NewReaderSize(stdout, 1<<16)
	buf := make([]byte, p.frameSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		onPicture(decode.Picture{Width: p.width, Height: p.height, Data: buf})
	}
}

func (e *Engine) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		e.log.Debug("ffmpeg: " + sc.Text())
	}
}

func (p *process) stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		p.cmd.Process.Kill()
	})
	<-p.done
}

// annexB converts one length-prefixed chunk back to Annex B framing.
func annexB(avcc []byte) ([]byte, error) {
	if len(avcc) < 4 {
		return nil, errors.New("chunk shorter than its length prefix")
	}
	n := int(binary.BigEndian.Uint32(avcc))
	if n != len(avcc)-4 {
		return nil, errors.New("chunk length prefix " + strconv.Itoa(n) +
			" does not match payload size " + strconv.Itoa(len(avcc)-4))
	}
	out := make([]byte, 4+n)
	copy(out, startCode)
	copy(out[4:], avcc[4:])
	return out, nil
}
