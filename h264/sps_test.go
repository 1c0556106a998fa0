package h264

import "testing"

func TestParseSPS720p(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if info.Width != 1280 {
		t.Errorf("width: got %d, want 1280", info.Width)
	}
	if info.Height != 720 {
		t.Errorf("height: got %d, want 720", info.Height)
	}
	if info.ProfileIDC != 0x64 {
		t.Errorf("profile: got %#x, want 0x64", info.ProfileIDC)
	}
	if info.LevelIDC != 0x1f {
		t.Errorf("level: got %#x, want 0x1f", info.LevelIDC)
	}
}

func TestParseSPS256x192(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if info.Width != 256 {
		t.Errorf("width: got %d, want 256", info.Width)
	}
	if info.Height != 192 {
		t.Errorf("height: got %d, want 192", info.Height)
	}
}

func TestParseSPSWithVUI(t *testing.T) {
	t.Parallel()
	// 720p SPS carrying VUI timing/HRD parameters; resolution parsing must
	// be unaffected by the trailing VUI bits.
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
		0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
		0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
		0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if info.Width != 1280 {
		t.Errorf("width: got %d, want 1280", info.Width)
	}
	if info.Height != 720 {
		t.Errorf("height: got %d, want 720", info.Height)
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	if _, err := ParseSPS([]byte{0x67, 0x64, 0x00}); err == nil {
		t.Error("expected error for too-short SPS")
	}
	if _, err := ParseSPS(nil); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestCodecString(t *testing.T) {
	t.Parallel()
	info := SPSInfo{ProfileIDC: 0x42, ConstraintFlags: 0xE0, LevelIDC: 0x1E}
	if got, want := info.CodecString(), "avc1.42E01E"; got != want {
		t.Errorf("CodecString: got %q, want %q", got, want)
	}
}
