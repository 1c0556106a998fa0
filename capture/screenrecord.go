package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configure one screenrecord capture attempt.
type Options struct {
	// ADB is the adb binary to invoke. Required; resolve it once with
	// FindADB.
	ADB string

	// Serial selects the device. Empty targets the only connected one.
	Serial string

	// Size downscales the capture, as "WIDTHxHEIGHT". Empty keeps the
	// native display resolution.
	Size string

	// BitRate is the encoder target in bits per second. 0 keeps the
	// device default (4 Mbps on stock Android).
	BitRate int

	// TimeLimit bounds one recording. screenrecord hard-caps at 180s
	// and exits cleanly when it is reached, so callers restart the
	// capture to mirror indefinitely. 0 keeps the device default.
	TimeLimit time.Duration

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Start launches screenrecord on the device with its H.264 elementary
// stream directed at stdout, and returns a Source wrapping that pipe.
// The process is killed when ctx ends or the Source is closed.
func Start(ctx context.Context, opts Options) (*Source, error) {
	if opts.ADB == "" {
		return nil, errors.New("capture: adb binary required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "screenrecord")
	if opts.Serial != "" {
		log = log.With("serial", opts.Serial)
	}

	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, opts.ADB, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting screenrecord: %w", err)
	}

	s := &Source{
		cmd:  cmd,
		out:  stdout,
		log:  log,
		done: make(chan struct{}),
	}
	go s.drainStderr(stderr)
	go func() {
		err := cmd.Wait()
		log.Debug("screenrecord exited", "error", err)
		close(s.done)
	}()

	log.Debug("screenrecord started",
		"pid", cmd.Process.Pid, "args", strings.Join(args, " "))
	return s, nil
}

// buildArgs assembles the adb invocation. exec-out gives an unmangled
// binary stdout; the trailing "-" directs screenrecord at it.
func buildArgs(opts Options) []string {
	args := deviceArgs(opts.Serial, "exec-out", "screenrecord", "--output-format=h264")
	if opts.Size != "" {
		args = append(args, "--size", opts.Size)
	}
	if opts.BitRate > 0 {
		args = append(args, "--bit-rate", strconv.Itoa(opts.BitRate))
	}
	if opts.TimeLimit > 0 {
		args = append(args, "--time-limit", strconv.Itoa(int(opts.TimeLimit.Seconds())))
	}
	return append(args, "-")
}

// Source is a live capture stream. Read returns the device's Annex B
// bytes as they arrive; Close kills the capture process and reaps it.
type Source struct {
	cmd      *exec.Cmd
	out      io.ReadCloser
	log      *slog.Logger
	done     chan struct{}
	stopOnce sync.Once

	bytes atomic.Int64
	reads atomic.Int64
}

var _ io.ReadCloser = (*Source)(nil)

func (s *Source) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if n > 0 {
		s.bytes.Add(int64(n))
		s.reads.Add(1)
	}
	return n, err
}

// Close kills the capture process and waits for it to be reaped.
// Idempotent and safe from any goroutine; an in-flight Read unblocks
// with an error.
func (s *Source) Close() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		<-s.done
	})
	return nil
}

// SourceStats is a point-in-time view of pipe consumption.
type SourceStats struct {
	Bytes int64 `json:"bytes"`
	Reads int64 `json:"reads"`
}

// Stats returns how much has been read from the capture pipe so far.
func (s *Source) Stats() SourceStats {
	return SourceStats{Bytes: s.bytes.Load(), Reads: s.reads.Load()}
}

// drainStderr forwards screenrecord diagnostics to the debug log.
// screenrecord prints its version banner and any encoder errors there.
func (s *Source) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			s.log.Debug("screenrecord: " + line)
		}
	}
}
