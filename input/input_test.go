package input

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestInjectorArgv(t *testing.T) {
	t.Parallel()

	in := &Injector{ADB: "adb"}
	got := strings.Join(in.argv("input", "tap", "540", "960"), " ")
	if got != "shell input tap 540 960" {
		t.Errorf("without serial: got %q", got)
	}

	in.Serial = "emulator-5554"
	got = strings.Join(in.argv("input", "keyevent", "4"), " ")
	if got != "-s emulator-5554 shell input keyevent 4" {
		t.Errorf("with serial: got %q", got)
	}
}

func TestEscapeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"hello", "'hello'"},
		{"hello world", "'hello%sworld'"},
		{"a&b|c", "'a&b|c'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := escapeText(tt.in); got != tt.want {
			t.Errorf("escapeText(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapToDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		nx, ny float64
		w, h   int
		wantX  int
		wantY  int
	}{
		{"center", 0.5, 0.5, 1080, 1920, 540, 960},
		{"origin", 0.0, 0.0, 1080, 1920, 0, 0},
		{"bottom right clamps inside", 1.0, 1.0, 1080, 1920, 1079, 1919},
		{"negative clamps to zero", -0.3, -1.0, 1080, 1920, 0, 0},
		{"overshoot clamps to edge", 1.7, 2.0, 1080, 1920, 1079, 1919},
		{"zero dimensions", 0.5, 0.5, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			x, y := MapToDevice(tt.nx, tt.ny, tt.w, tt.h)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("got (%d,%d), want (%d,%d)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestKeycodeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Keycode
		want string
	}{
		{KeycodeHome, "home"},
		{KeycodeBack, "back"},
		{KeycodeVolumeUp, "volume-up"},
		{KeycodeVolumeDown, "volume-down"},
		{KeycodePower, "power"},
		{KeycodeAppSwitch, "app-switch"},
		{KeycodeWakeup, "wakeup"},
		{Keycode(66), "66"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("Keycode(%d).String(): got %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestParseDisplaySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		out   string
		wantW int
		wantH int
		ok    bool
	}{
		{
			name:  "physical only",
			out:   "Physical size: 1080x2400\n",
			wantW: 1080, wantH: 2400, ok: true,
		},
		{
			name:  "override wins",
			out:   "Physical size: 1080x2400\nOverride size: 720x1600\n",
			wantW: 720, wantH: 1600, ok: true,
		},
		{
			name: "garbage",
			out:  "error: no devices/emulators found\n",
		},
		{
			name: "empty",
			out:  "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, h, err := parseDisplaySize([]byte(tt.out))
			if tt.ok {
				if err != nil {
					t.Fatalf("parseDisplaySize: %v", err)
				}
				if w != tt.wantW || h != tt.wantH {
					t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
				}
			} else if err == nil {
				t.Errorf("expected error, got %dx%d", w, h)
			}
		})
	}
}

func TestDisplaySizeRequiresADB(t *testing.T) {
	t.Parallel()

	if _, _, err := DisplaySize(context.Background(), "", ""); err == nil {
		t.Fatal("expected error without adb path")
	}
}

func TestRunRequiresADB(t *testing.T) {
	t.Parallel()

	in := &Injector{}
	if err := in.Tap(context.Background(), 1, 2); err == nil {
		t.Fatal("expected error without adb path")
	}
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()

	in := &Injector{ADB: filepath.Join(t.TempDir(), "no-such-adb")}
	if err := in.Key(context.Background(), KeycodeBack); err == nil {
		t.Fatal("expected error for missing adb binary")
	}
}
