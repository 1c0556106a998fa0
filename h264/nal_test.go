package h264

import "testing"

func TestKindOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		nalType byte
		want    Kind
	}{
		{NALTypeSlice, KindDeltaFrame},
		{NALTypeIDR, KindKeyframe},
		{NALTypeSPS, KindSequenceConfig},
		{NALTypePPS, KindPictureConfig},
		{NALTypeSEI, KindOther},
		{NALTypeAUD, KindOther},
		{NALTypeFillerData, KindOther},
		{0, KindOther},
		{31, KindOther},
	}
	for _, tt := range cases {
		if got := KindOf(tt.nalType); got != tt.want {
			t.Errorf("KindOf(%d): got %v, want %v", tt.nalType, got, tt.want)
		}
	}
}

func TestKindIsPayload(t *testing.T) {
	t.Parallel()
	if !KindKeyframe.IsPayload() {
		t.Error("keyframe should be payload")
	}
	if !KindDeltaFrame.IsPayload() {
		t.Error("delta frame should be payload")
	}
	if KindSequenceConfig.IsPayload() || KindPictureConfig.IsPayload() || KindOther.IsPayload() {
		t.Error("config and other units are not payload")
	}
}

func TestUnitKind(t *testing.T) {
	t.Parallel()
	u := Unit{Type: NALTypeIDR, StartCodeLen: 4, Data: []byte{0x65, 0x88}}
	if u.Kind() != KindKeyframe {
		t.Errorf("got %v, want %v", u.Kind(), KindKeyframe)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	cases := map[Kind]string{
		KindKeyframe:       "keyframe",
		KindDeltaFrame:     "delta",
		KindSequenceConfig: "sps",
		KindPictureConfig:  "pps",
		KindOther:          "other",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String(): got %q, want %q", k, got, want)
		}
	}
}
