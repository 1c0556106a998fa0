// Package decode defines the contract between the mirroring pipeline and
// pluggable H.264 decode engines. An engine accepts length-prefixed (AVCC)
// chunks after being configured with an AVCDecoderConfigurationRecord and
// delivers decoded pictures through a callback in submission order.
//
// Two implementations ship with this module: decode/lavc (in-process
// libavcodec via cgo) and decode/ffmpeg (an ffmpeg subprocess).
package decode

import "errors"

var (
	// ErrUnsupported means no decode capability exists on this host (no
	// usable decoder or binary). It is reported once, at engine
	// construction, and is not retryable.
	ErrUnsupported = errors.New("h264 decoding not supported on this host")

	// ErrEngineClosed means the engine is gone for good (closed, or its
	// backing process/context died). The owner must discard the engine and
	// build a fresh one to keep decoding.
	ErrEngineClosed = errors.New("decode engine closed")

	// ErrNotConfigured is returned by Decode before the first successful
	// Configure.
	ErrNotConfigured = errors.New("decode engine not configured")
)

// IsFatal reports whether err ends the engine's useful life, as opposed to a
// transient per-chunk decode failure the caller can skip past.
func IsFatal(err error) bool {
	return errors.Is(err, ErrEngineClosed) || errors.Is(err, ErrUnsupported)
}

// Config parameterizes an engine for one coded video sequence.
type Config struct {
	// Record is the AVCDecoderConfigurationRecord built from the stream's
	// active SPS/PPS pair.
	Record []byte

	// Width and Height are the cropped luma dimensions parsed from the SPS.
	// Zero when the SPS could not be parsed; engines that must pre-size
	// output reject such configs.
	Width  int
	Height int

	// Codec is the RFC 6381 parameter string, e.g. "avc1.42C01E".
	Codec string
}

// Chunk is a single coded video unit in AVCC form: exactly one NAL unit with
// a 4-byte big-endian length prefix.
type Chunk struct {
	Data []byte
	Key  bool // IDR slice
}

// Picture is one decoded frame in planar YUV 4:2:0 layout, luma plane
// followed by the two chroma planes, no row padding.
type Picture struct {
	Width  int
	Height int
	Data   []byte
}

// PictureFunc receives decoded pictures in submission order. Implementations
// must be fast and must not block: depending on the engine it runs either
// inline with Decode or on an internal delivery goroutine. The picture's
// backing data is only valid for the duration of the call; retain it by
// copying.
type PictureFunc func(Picture)

// Engine decodes AVCC chunks into pictures.
//
// Configure must succeed before the first Decode and may be called again
// when the stream's parameter sets change; reconfiguration discards any
// in-flight work. Decode never blocks on a slow consumer: engines bound
// their in-flight work and drop excess chunks instead. Close releases all
// resources and is safe to call at any time, from any goroutine, and more
// than once.
type Engine interface {
	Configure(cfg Config) error
	Decode(chunk Chunk) error
	Close() error
}

// Factory builds one engine for one stream attempt. Factories are invoked
// again after a fatal engine loss; they fail with ErrUnsupported when the
// host cannot decode at all.
type Factory func(onPicture PictureFunc) (Engine, error)
