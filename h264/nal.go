package h264

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// Kind is the coarse classification of a NAL unit that the streaming state
// machine acts on. Every unit maps to exactly one Kind.
type Kind uint8

const (
	// KindOther covers SEI, access unit delimiters, filler, and every other
	// type the mirror path has no use for.
	KindOther Kind = iota
	// KindDeltaFrame is a non-IDR coded slice (type 1).
	KindDeltaFrame
	// KindKeyframe is an IDR coded slice (type 5).
	KindKeyframe
	// KindSequenceConfig is a sequence parameter set (type 7).
	KindSequenceConfig
	// KindPictureConfig is a picture parameter set (type 8).
	KindPictureConfig
)

// KindOf classifies a raw nal_unit_type value.
func KindOf(nalType byte) Kind {
	switch nalType {
	case NALTypeSlice:
		return KindDeltaFrame
	case NALTypeIDR:
		return KindKeyframe
	case NALTypeSPS:
		return KindSequenceConfig
	case NALTypePPS:
		return KindPictureConfig
	default:
		return KindOther
	}
}

// String returns a short label for logging.
func (k Kind) String() string {
	switch k {
	case KindDeltaFrame:
		return "delta"
	case KindKeyframe:
		return "keyframe"
	case KindSequenceConfig:
		return "sps"
	case KindPictureConfig:
		return "pps"
	default:
		return "other"
	}
}

// IsPayload reports whether the kind carries coded picture data that is
// forwarded to a decoder (keyframes and delta frames).
func (k Kind) IsPayload() bool {
	return k == KindKeyframe || k == KindDeltaFrame
}

// Unit is a single NAL unit extracted from an Annex B stream.
type Unit struct {
	Type         byte   // 5-bit nal_unit_type from the header byte
	StartCodeLen int    // length of the start code that delimited it (3 or 4)
	Data         []byte // header byte plus payload, start code stripped
}

// Kind classifies the unit.
func (u Unit) Kind() Kind {
	return KindOf(u.Type)
}

// IsKeyframe returns true if the NAL type is an IDR slice (type 5).
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}
