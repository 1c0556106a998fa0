package h264

import "testing"

// FuzzScannerChunking verifies that chunked scanning is byte-for-byte
// equivalent to a single-shot parse, for arbitrary input and chunk sizes.
func FuzzScannerChunking(f *testing.F) {
	f.Add(sampleStream(), byte(3))
	f.Add([]byte{0x00, 0x00, 0x01, 0x65}, byte(1))
	f.Add(make([]byte, 64), byte(7))
	f.Add([]byte{0x00, 0x00, 0x00, 0x01}, byte(2))

	f.Fuzz(func(t *testing.T, data []byte, step byte) {
		if len(data) > 1<<16 {
			return
		}
		size := int(step)%13 + 1

		want := NewScanner(0).Scan(data)

		s := NewScanner(0)
		var got []Unit
		for i := 0; i < len(data); i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			got = append(got, s.Scan(data[i:end])...)
		}

		if !equalUnits(got, want) {
			t.Fatalf("chunk size %d: units differ from single-shot parse", size)
		}
	})
}

// FuzzScannerBounded verifies the pending buffer never exceeds its cap.
func FuzzScannerBounded(f *testing.F) {
	f.Add(make([]byte, 4096))
	f.Add(sampleStream())

	f.Fuzz(func(t *testing.T, data []byte) {
		const limit = 1024
		s := NewScanner(limit)
		for i := 0; i < len(data); i += 100 {
			end := i + 100
			if end > len(data) {
				end = len(data)
			}
			s.Scan(data[i:end])
			if s.Buffered() > limit {
				t.Fatalf("buffered %d exceeds cap %d", s.Buffered(), limit)
			}
		}
	})
}

func FuzzParseSPS(f *testing.F) {
	f.Add([]byte{0x67, 0x42, 0x00, 0x1E, 0x8D, 0x68, 0x05, 0x00, 0x5B, 0xA1, 0x00, 0x00, 0x03})
	f.Add([]byte{0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50, 0x05, 0xbb, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		ParseSPS(data) // must not panic
	})
}

func FuzzParseDecoderConfig(f *testing.F) {
	record, _ := BuildDecoderConfig(
		[]byte{0x67, 0x42, 0x00, 0x1E},
		[]byte{0x68, 0xCE, 0x3C, 0x80},
	)
	f.Add(record)

	f.Fuzz(func(t *testing.T, data []byte) {
		ParseDecoderConfig(data) // must not panic
	})
}
