package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/misterblack0101/MirrorDock/capture"
	"github.com/misterblack0101/MirrorDock/decode"
	"github.com/misterblack0101/MirrorDock/decode/ffmpeg"
	"github.com/misterblack0101/MirrorDock/decode/lavc"
	"github.com/misterblack0101/MirrorDock/input"
	"github.com/misterblack0101/MirrorDock/mirror"
)

var version = "dev"

const deviceWaitTimeout = 30 * time.Second

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mirrordock mirrors an Android device screen over adb.\n\nUsage: %s [flags]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}

	serial := pflag.String("serial", "", "device serial; defaults to the only connected device")
	adbFlag := pflag.String("adb", "", "adb binary; defaults to $ADB, then $PATH")
	size := pflag.String("size", "", "capture size as WIDTHxHEIGHT; defaults to the display resolution")
	bitRateFlag := pflag.String("bit-rate", "", "capture bitrate, e.g. 8M; defaults to the device encoder default")
	timeLimit := pflag.Duration("time-limit", 0, "length of one capture run; screenrecord caps this at 180s and the session restarts it")
	engineName := pflag.String("engine", "lavc", "decode engine: lavc (in-process libavcodec) or ffmpeg (subprocess)")
	ffmpegFlag := pflag.String("ffmpeg", "", "ffmpeg binary for --engine=ffmpeg; defaults to $PATH")
	maxBufferFlag := pflag.String("max-buffer", "", "cap on buffered unframed stream bytes, e.g. 512KiB")
	pipeFrames := pflag.Bool("pipe-frames", false, "write decoded yuv420p frames to stdout, e.g. to pipe into ffplay")
	gestures := pflag.Bool("input", false, "read gesture commands (tap/swipe/key/text) from stdin")
	statsInterval := pflag.Duration("stats-interval", 10*time.Second, "interval between stats log lines; 0 disables")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	bitRate, err := parseByteFlag(*bitRateFlag, "--bit-rate")
	if err != nil {
		slog.Error("bad flag", "error", err)
		os.Exit(1)
	}
	maxBuffer, err := parseByteFlag(*maxBufferFlag, "--max-buffer")
	if err != nil {
		slog.Error("bad flag", "error", err)
		os.Exit(1)
	}

	factory, err := buildFactory(*engineName, *ffmpegFlag)
	if err != nil {
		slog.Error("engine selection failed", "error", err)
		os.Exit(1)
	}

	adb, err := capture.FindADB(*adbFlag)
	if err != nil {
		slog.Error("adb not found", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	dev, err := resolveDevice(ctx, adb, *serial)
	if err != nil {
		slog.Error("no usable device", "error", err)
		os.Exit(1)
	}

	a := &app{
		inject: &input.Injector{ADB: adb, Serial: dev},
	}
	// Input events land in display coordinates, which differ from the
	// stream's when --size downscales the capture.
	if w, h, err := input.DisplaySize(ctx, adb, dev); err == nil {
		a.dispW, a.dispH = w, h
	} else {
		slog.Debug("display size unavailable, will map gestures to stream size", "error", err)
	}

	slog.Info("mirrordock starting",
		"version", version,
		"serial", dev,
		"engine", *engineName,
		"display", fmt.Sprintf("%dx%d", a.dispW, a.dispH),
	)

	var pipe *framePipe
	var onPicture decode.PictureFunc
	if *pipeFrames {
		pipe = &framePipe{w: bufio.NewWriterSize(os.Stdout, 1<<20), stop: cancel}
		onPicture = pipe.write
	}

	mgr := mirror.NewManager(nil)
	sess, err := mgr.Create(dev,
		func(ctx context.Context) (io.ReadCloser, error) {
			return capture.Start(ctx, capture.Options{
				ADB:       adb,
				Serial:    dev,
				Size:      *size,
				BitRate:   bitRate,
				TimeLimit: *timeLimit,
			})
		},
		mirror.Config{
			Factory:   factory,
			OnPicture: onPicture,
			MaxBuffer: maxBuffer,
		})
	if err != nil {
		slog.Error("session setup failed", "error", err)
		os.Exit(1)
	}
	defer mgr.Remove(dev)
	a.sess = sess

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(ctx)
	})

	if *statsInterval > 0 {
		g.Go(func() error {
			a.statsLoop(ctx, *statsInterval)
			return nil
		})
	}

	if *gestures {
		// Stdin reads cannot be cancelled; the loop runs outside the
		// group so shutdown never waits on it.
		go a.gestureLoop(ctx)
	}

	err = g.Wait()
	if pipe != nil {
		pipe.flush()
	}
	if err != nil {
		if errors.Is(err, decode.ErrUnsupported) {
			slog.Error("this host cannot decode H.264; install the FFmpeg libraries or point --engine=ffmpeg at an ffmpeg binary", "error", err)
		} else {
			slog.Error("mirroring failed", "error", err)
		}
		os.Exit(1)
	}
}

// parseByteFlag parses a humanized size like "8M" or "512KiB". Empty
// means unset.
func parseByteFlag(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return int(n), nil
}

func buildFactory(engine, ffmpegPath string) (decode.Factory, error) {
	switch engine {
	case "lavc":
		return lavc.NewFactory(lavc.Options{}), nil
	case "ffmpeg":
		return ffmpeg.NewFactory(ffmpeg.Options{Path: ffmpegPath}), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (want lavc or ffmpeg)", engine)
	}
}

// resolveDevice picks the capture target: the requested serial, waiting
// for it to come online if needed, or the only connected device.
func resolveDevice(ctx context.Context, adb, serial string) (string, error) {
	serials, err := capture.Devices(ctx, adb)
	if err != nil {
		return "", err
	}

	if serial != "" {
		if !slices.Contains(serials, serial) {
			slog.Info("waiting for device", "serial", serial, "timeout", deviceWaitTimeout)
			if err := capture.WaitForDevice(ctx, adb, serial, deviceWaitTimeout); err != nil {
				return "", err
			}
		}
		return serial, nil
	}

	switch len(serials) {
	case 0:
		return "", errors.New("no devices connected")
	case 1:
		return serials[0], nil
	default:
		return "", fmt.Errorf("%d devices connected (%s), pick one with --serial",
			len(serials), strings.Join(serials, ", "))
	}
}

type app struct {
	sess   *mirror.Session
	inject *input.Injector
	dispW  int
	dispH  int
}

// statsLoop logs a periodic one-line summary of the stream.
func (a *app) statsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := a.sess.Snapshot()
			slog.Info("stream stats",
				"state", snap.Stream.State,
				"video", fmt.Sprintf("%dx%d", snap.Stream.Width, snap.Stream.Height),
				"in", humanize.IBytes(uint64(snap.SourceBytes)),
				"units", snap.Stream.Units,
				"pictures", snap.Stream.Pictures,
				"dropped", snap.Stream.PreConfigDrops+snap.Stream.GateDrops,
				"restarts", snap.Restarts,
			)
		}
	}
}

// gestureLoop translates stdin lines into device input. Lines:
//
//	tap <nx> <ny>
//	swipe <nx0> <ny0> <nx1> <ny1> [duration-ms]
//	key <home|back|power|volume-up|volume-down|app-switch|wakeup|CODE>
//	text <anything...>
//
// Coordinates are normalized to [0,1] over the mirrored picture. Blank
// lines and #-comments are skipped.
func (a *app) gestureLoop(ctx context.Context) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := a.dispatchGesture(ctx, line); err != nil {
			slog.Warn("gesture rejected", "line", line, "error", err)
		}
	}
	slog.Debug("gesture input closed", "error", sc.Err())
}

func (a *app) dispatchGesture(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	switch cmd {
	case "tap":
		if len(args) != 2 {
			return errors.New("usage: tap <nx> <ny>")
		}
		x, y, err := a.devicePoint(args[0], args[1])
		if err != nil {
			return err
		}
		return a.inject.Tap(ctx, x, y)

	case "swipe":
		if len(args) != 4 && len(args) != 5 {
			return errors.New("usage: swipe <nx0> <ny0> <nx1> <ny1> [duration-ms]")
		}
		x0, y0, err := a.devicePoint(args[0], args[1])
		if err != nil {
			return err
		}
		x1, y1, err := a.devicePoint(args[2], args[3])
		if err != nil {
			return err
		}
		var dur time.Duration
		if len(args) == 5 {
			ms, err := strconv.Atoi(args[4])
			if err != nil {
				return fmt.Errorf("duration: %w", err)
			}
			dur = time.Duration(ms) * time.Millisecond
		}
		return a.inject.Swipe(ctx, x0, y0, x1, y1, dur)

	case "key":
		if len(args) != 1 {
			return errors.New("usage: key <name-or-code>")
		}
		code, err := keycodeByName(args[0])
		if err != nil {
			return err
		}
		return a.inject.Key(ctx, code)

	case "text":
		if rest == "" {
			return errors.New("usage: text <string>")
		}
		return a.inject.Text(ctx, rest)

	default:
		return fmt.Errorf("unknown gesture %q", cmd)
	}
}

// devicePoint maps one normalized coordinate pair into device pixels,
// preferring the display resolution over the stream's.
func (a *app) devicePoint(nxs, nys string) (int, int, error) {
	nx, err := strconv.ParseFloat(nxs, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("coordinate %q: %w", nxs, err)
	}
	ny, err := strconv.ParseFloat(nys, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("coordinate %q: %w", nys, err)
	}

	w, h := a.dispW, a.dispH
	if w <= 0 || h <= 0 {
		snap := a.sess.Snapshot()
		w, h = snap.Stream.Width, snap.Stream.Height
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.New("device dimensions not known yet")
	}
	x, y := input.MapToDevice(nx, ny, w, h)
	return x, y, nil
}

func keycodeByName(name string) (input.Keycode, error) {
	switch strings.ToLower(name) {
	case "home":
		return input.KeycodeHome, nil
	case "back":
		return input.KeycodeBack, nil
	case "power":
		return input.KeycodePower, nil
	case "volume-up":
		return input.KeycodeVolumeUp, nil
	case "volume-down":
		return input.KeycodeVolumeDown, nil
	case "app-switch", "recents":
		return input.KeycodeAppSwitch, nil
	case "wakeup":
		return input.KeycodeWakeup, nil
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unknown key %q", name)
	}
	return input.Keycode(n), nil
}

// framePipe writes decoded frames to stdout for an external player, e.g.
//
//	mirrordock --pipe-frames | ffplay -f rawvideo -pixel_format yuv420p -video_size WxH -
//
// A write failure means the consumer is gone, which ends the run.
type framePipe struct {
	mu   sync.Mutex
	w    *bufio.Writer
	stop func()
	dead bool
}

func (fp *framePipe) write(p decode.Picture) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.dead {
		return
	}
	if _, err := fp.w.Write(p.Data); err != nil {
		fp.dead = true
		slog.Warn("frame consumer went away, stopping", "error", err)
		fp.stop()
		return
	}
	fp.w.Flush()
}

func (fp *framePipe) flush() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if !fp.dead {
		fp.w.Flush()
	}
}
