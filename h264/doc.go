// Package h264 implements incremental H.264 Annex B elementary stream
// framing and the decoder-configuration plumbing around it. It splits an
// unbounded byte stream into discrete NAL units regardless of how the bytes
// are chunked, classifies them, converts them to the 4-byte length-prefixed
// form decoders consume, and builds AVCDecoderConfigurationRecords from
// SPS/PPS parameter sets.
//
// The central type is [Scanner], which accepts arbitrarily chunked input via
// [Scanner.Scan] and yields complete units. [BuildDecoderConfig],
// [LengthPrefixed], and [ParseSPS] cover the configuration path.
package h264
