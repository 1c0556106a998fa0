// annexbgen writes a synthetic H.264 Annex B elementary stream shaped
// like screenrecord output: SPS and PPS ahead of every IDR, delta
// slices between, 3- and 4-byte start codes mixed, an SEI here and
// there. Slice payloads are filler bytes, so the output exercises
// framing and configuration logic rather than real decoding.
//
// Usage:
//
//	go run ./test/tools/annexbgen out.h264 [gops] [frames-per-gop] [slice-bytes]
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
)

// 1280x720 high-profile SPS and matching PPS captured from an Android
// encoder.
var (
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	pps = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 5 {
		fmt.Fprintf(os.Stderr, "Usage: %s <out.h264> [gops] [frames-per-gop] [slice-bytes]\n", os.Args[0])
		os.Exit(1)
	}

	gops := intArg(2, 10)
	framesPerGOP := intArg(3, 30)
	sliceBytes := intArg(4, 4096)

	rng := rand.New(rand.NewSource(1))

	var out []byte
	units := 0
	for g := 0; g < gops; g++ {
		out = appendNAL(out, 4, sps720p)
		out = appendNAL(out, 4, pps)
		out = appendNAL(out, 3, fillerNAL(rng, 0x65, sliceBytes))
		units += 3
		for i := 1; i < framesPerGOP; i++ {
			scLen := 3
			if i%2 == 0 {
				scLen = 4
			}
			out = appendNAL(out, scLen, fillerNAL(rng, 0x41, sliceBytes/4+rng.Intn(sliceBytes/4+1)))
			units++
			if i%10 == 5 {
				out = appendNAL(out, 4, fillerNAL(rng, 0x06, 8))
				units++
			}
		}
	}

	if err := os.WriteFile(os.Args[1], out, 0644); err != nil {
		fatal("write %s: %v", os.Args[1], err)
	}
	fmt.Printf("%s: %d units, %d bytes (%d GOPs, %d frames each)\n",
		os.Args[1], units, len(out), gops, framesPerGOP)
}

func intArg(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil || n <= 0 {
		fatal("argument %d: want a positive integer, got %q", i, os.Args[i])
	}
	return n
}

func appendNAL(b []byte, scLen int, unit []byte) []byte {
	if scLen == 4 {
		b = append(b, 0x00, 0x00, 0x00, 0x01)
	} else {
		b = append(b, 0x00, 0x00, 0x01)
	}
	return append(b, unit...)
}

// fillerNAL builds a NAL with the given header byte and random filler
// kept out of the 0x00-0x02 range, so no start code or emulation
// sequence can appear inside the unit.
func fillerNAL(rng *rand.Rand, header byte, n int) []byte {
	if n < 2 {
		n = 2
	}
	u := make([]byte, n)
	u[0] = header
	for i := 1; i < n; i++ {
		u[i] = byte(0x03 + rng.Intn(0xFD))
	}
	return u
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
