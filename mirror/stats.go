package mirror

import (
	"sync"
	"sync/atomic"
)

// Snapshot is a point-in-time view of one stream's counters, serialized
// as JSON by the stats ticker and the frame-pipe header.
type Snapshot struct {
	State             string `json:"state"`
	Codec             string `json:"codec,omitempty"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	BytesIn           int64  `json:"bytesIn"`
	Units             int64  `json:"units"`
	KeyFrames         int64  `json:"keyFrames"`
	DeltaFrames       int64  `json:"deltaFrames"`
	Pictures          int64  `json:"pictures"`
	OtherUnits        int64  `json:"otherUnits"`
	PreConfigDrops    int64  `json:"preConfigDrops"`
	GateDrops         int64  `json:"gateDrops"`
	OverflowBytes     int64  `json:"overflowBytes"`
	Configures        int64  `json:"configures"`
	BuildFailures     int64  `json:"buildFailures"`
	ConfigureFailures int64  `json:"configureFailures"`
	DecodeErrors      int64  `json:"decodeErrors"`
	Rebuilds          int64  `json:"rebuilds"`
	Resets            int64  `json:"resets"`
}

// Stats accumulates per-stream telemetry. All counters are atomic so the
// engine's picture goroutine and the Feed goroutine can update them
// without sharing the controller lock; the codec label alone needs a
// mutex.
type Stats struct {
	bytesIn           atomic.Int64
	units             atomic.Int64
	keyframes         atomic.Int64
	deltaFrames       atomic.Int64
	pictures          atomic.Int64
	otherUnits        atomic.Int64
	preConfigDrops    atomic.Int64
	gateDrops         atomic.Int64
	overflowBytes     atomic.Int64
	configures        atomic.Int64
	buildFailures     atomic.Int64
	configureFailures atomic.Int64
	decodeErrors      atomic.Int64
	rebuilds          atomic.Int64
	resets            atomic.Int64

	width  atomic.Int32
	height atomic.Int32

	// codecMu guards codec
	codecMu sync.RWMutex
	codec   string
}

// setVideoInfo stores the resolution and codec string parsed from the
// active SPS.
func (s *Stats) setVideoInfo(width, height int, codec string) {
	s.width.Store(int32(width))
	s.height.Store(int32(height))
	s.codecMu.Lock()
	s.codec = codec
	s.codecMu.Unlock()
}

func (s *Stats) snapshot() Snapshot {
	s.codecMu.RLock()
	codec := s.codec
	s.codecMu.RUnlock()

	return Snapshot{
		Codec:             codec,
		Width:             int(s.width.Load()),
		Height:            int(s.height.Load()),
		BytesIn:           s.bytesIn.Load(),
		Units:             s.units.Load(),
		KeyFrames:         s.keyframes.Load(),
		DeltaFrames:       s.deltaFrames.Load(),
		Pictures:          s.pictures.Load(),
		OtherUnits:        s.otherUnits.Load(),
		PreConfigDrops:    s.preConfigDrops.Load(),
		GateDrops:         s.gateDrops.Load(),
		OverflowBytes:     s.overflowBytes.Load(),
		Configures:        s.configures.Load(),
		BuildFailures:     s.buildFailures.Load(),
		ConfigureFailures: s.configureFailures.Load(),
		DecodeErrors:      s.decodeErrors.Load(),
		Rebuilds:          s.rebuilds.Load(),
		Resets:            s.resets.Load(),
	}
}
