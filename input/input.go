// Package input injects touch, key, and text events into the device
// through adb shell input. It is the control half of mirroring: decoded
// pictures flow out of the mirror pipeline, gestures flow back in here.
package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Keycode is an Android KeyEvent code, the subset a mirroring panel
// actually sends.
type Keycode int

const (
	KeycodeHome       Keycode = 3
	KeycodeBack       Keycode = 4
	KeycodeVolumeUp   Keycode = 24
	KeycodeVolumeDown Keycode = 25
	KeycodePower      Keycode = 26
	KeycodeAppSwitch  Keycode = 187
	KeycodeWakeup     Keycode = 224
)

// String returns a short label for logging.
func (k Keycode) String() string {
	switch k {
	case KeycodeHome:
		return "home"
	case KeycodeBack:
		return "back"
	case KeycodeVolumeUp:
		return "volume-up"
	case KeycodeVolumeDown:
		return "volume-down"
	case KeycodePower:
		return "power"
	case KeycodeAppSwitch:
		return "app-switch"
	case KeycodeWakeup:
		return "wakeup"
	default:
		return strconv.Itoa(int(k))
	}
}

// Injector sends input events to one device. The zero value needs at
// least ADB set; an empty Serial targets the only connected device.
type Injector struct {
	ADB    string
	Serial string
	Log    *slog.Logger
}

// Tap sends a single tap at device pixel coordinates.
func (in *Injector) Tap(ctx context.Context, x, y int) error {
	return in.run(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
}

// Swipe drags from (x0,y0) to (x1,y1) over the given duration. A zero
// duration leaves the timing to the device default (~300ms).
func (in *Injector) Swipe(ctx context.Context, x0, y0, x1, y1 int, dur time.Duration) error {
	args := []string{"input", "swipe",
		strconv.Itoa(x0), strconv.Itoa(y0),
		strconv.Itoa(x1), strconv.Itoa(y1),
	}
	if dur > 0 {
		args = append(args, strconv.Itoa(int(dur.Milliseconds())))
	}
	return in.run(ctx, args...)
}

// Key presses and releases a key.
func (in *Injector) Key(ctx context.Context, code Keycode) error {
	return in.run(ctx, "input", "keyevent", strconv.Itoa(int(code)))
}

// Text types a string into the focused field.
func (in *Injector) Text(ctx context.Context, text string) error {
	return in.run(ctx, "input", "text", escapeText(text))
}

func (in *Injector) run(ctx context.Context, shellArgs ...string) error {
	if in.ADB == "" {
		return errors.New("input: adb binary required")
	}
	out, err := exec.CommandContext(ctx, in.ADB, in.argv(shellArgs...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("input %s: %w", shellArgs[1], err)
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		in.logger().Debug("input: " + msg)
	}
	return nil
}

// argv builds the adb argument vector for one shell invocation.
func (in *Injector) argv(shellArgs ...string) []string {
	args := append([]string{"shell"}, shellArgs...)
	if in.Serial == "" {
		return args
	}
	return append([]string{"-s", in.Serial}, args...)
}

func (in *Injector) logger() *slog.Logger {
	if in.Log != nil {
		return in.Log
	}
	return slog.Default()
}

// escapeText prepares a string for `input text`. adb re-joins shell
// arguments on the device side, so the whole string is single-quoted
// for the device shell, and spaces become %s, which input expands back
// to spaces.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, " ", "%s")
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// DisplaySize queries the device's display resolution via `wm size`.
// Taps and swipes are interpreted in this coordinate space regardless of
// any capture downscaling.
func DisplaySize(ctx context.Context, adb, serial string) (int, int, error) {
	if adb == "" {
		return 0, 0, errors.New("input: adb binary required")
	}
	args := []string{"shell", "wm", "size"}
	if serial != "" {
		args = append([]string{"-s", serial}, args...)
	}
	out, err := exec.CommandContext(ctx, adb, args...).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("querying display size: %w", err)
	}
	return parseDisplaySize(out)
}

// parseDisplaySize extracts WxH from `wm size` output. The output lists
// "Physical size" first and, when one is set, "Override size" after it;
// the override is the space input events live in, so the last line wins.
func parseDisplaySize(out []byte) (int, int, error) {
	var w, h int
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		_, dims, ok := strings.Cut(sc.Text(), "size:")
		if !ok {
			continue
		}
		var lw, lh int
		if _, err := fmt.Sscanf(strings.TrimSpace(dims), "%dx%d", &lw, &lh); err == nil && lw > 0 && lh > 0 {
			w, h = lw, lh
		}
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.New("no display size in wm output")
	}
	return w, h, nil
}

// MapToDevice converts normalized view coordinates in [0,1] to device
// pixels, clamping out-of-range values to the nearest edge.
func MapToDevice(nx, ny float64, width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	x := int(nx * float64(width))
	y := int(ny * float64(height))
	if x < 0 {
		x = 0
	} else if x >= width {
		x = width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= height {
		y = height - 1
	}
	return x, y
}
