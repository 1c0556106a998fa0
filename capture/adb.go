// Package capture launches and supervises the device-side screen
// capture process, exposing its raw H.264 elementary stream as an
// io.ReadCloser. Everything goes through the adb binary; no direct
// device protocol is spoken here.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FindADB resolves the adb binary to invoke: the explicit path when
// given, else $ADB, else "adb" from $PATH.
func FindADB(explicit string) (string, error) {
	name := explicit
	if name == "" {
		name = os.Getenv("ADB")
	}
	if name == "" {
		name = "adb"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locating adb: %w", err)
	}
	return path, nil
}

// Devices returns the serials of connected devices in the "device"
// state. Offline and unauthorized entries are skipped.
func Devices(ctx context.Context, adb string) ([]string, error) {
	out, err := exec.CommandContext(ctx, adb, "devices").Output()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return parseDevices(out), nil
}

// parseDevices extracts ready serials from `adb devices` output. Lines
// look like "SERIAL\tdevice"; the header and daemon-start noise carry
// no tab-separated state.
func parseDevices(out []byte) []string {
	var serials []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		serial, state, ok := strings.Cut(sc.Text(), "\t")
		if ok && state == "device" && serial != "" {
			serials = append(serials, serial)
		}
	}
	return serials
}

// WaitForDevice blocks until the device is connected and ready, or the
// timeout elapses.
func WaitForDevice(ctx context.Context, adb, serial string, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := deviceArgs(serial, "wait-for-device")
	if err := exec.CommandContext(wctx, adb, args...).Run(); err != nil {
		if wctx.Err() != nil {
			return fmt.Errorf("waiting for device: %w", wctx.Err())
		}
		return fmt.Errorf("waiting for device: %w", err)
	}
	return nil
}

// deviceArgs prepends the -s serial selector when a serial is set.
func deviceArgs(serial string, rest ...string) []string {
	if serial == "" {
		return rest
	}
	return append([]string{"-s", serial}, rest...)
}
