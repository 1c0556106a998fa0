package h264

// DefaultMaxBuffer is the default cap on bytes the Scanner will hold while
// waiting for a unit to complete. 512 KiB comfortably exceeds any single
// coded picture a device encoder produces at mirroring bitrates.
const DefaultMaxBuffer = 512 << 10

// Scanner splits an H.264 Annex B byte stream into NAL units incrementally.
// Input may be chunked arbitrarily: a start code, a unit, or anything else
// may span any number of Scan calls and the extracted units are identical to
// those of a single-shot parse of the concatenated stream.
//
// Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are recognized;
// a 4-byte pattern wins over the 3-byte match embedded in its tail. A unit is
// only emitted once the next start code proves where it ends, so the trailing
// unit of a stream stays buffered until more data arrives.
//
// The internal buffer is capped. If unparseable input would grow it past the
// cap, the oldest bytes are discarded and counted; framing then resynchronizes
// at the next start code. Emitted units never alias the internal buffer.
//
// Scanner is not safe for concurrent use.
type Scanner struct {
	buf     []byte
	max     int
	scLen   int // start code length at buf[0]; 0 while seeking the first one
	search  int // offset at which the next start-code search resumes
	dropped int64
}

// NewScanner returns a Scanner holding at most maxBuffer bytes of pending
// input. maxBuffer <= 0 selects DefaultMaxBuffer.
func NewScanner(maxBuffer int) *Scanner {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Scanner{max: maxBuffer}
}

// Scan appends p to the pending input and returns every unit completed by it,
// in stream order. The returned units own their data.
func (s *Scanner) Scan(p []byte) []Unit {
	if len(p) == 0 {
		return nil
	}

	if len(s.buf)+len(p) > s.max {
		if len(p) >= s.max {
			s.dropped += int64(len(s.buf)) + int64(len(p)-s.max)
			s.buf = append(s.buf[:0], p[len(p)-s.max:]...)
			s.scLen = 0
			s.search = 0
		} else {
			over := len(s.buf) + len(p) - s.max
			s.dropped += int64(over)
			s.buf = append(s.buf[:0], s.buf[over:]...)
			s.buf = append(s.buf, p...)
			if s.scLen > 0 {
				// The discarded prefix held the delimiting start code;
				// reframe from scratch.
				s.scLen = 0
				s.search = 0
			} else {
				s.search -= over
				if s.search < 0 {
					s.search = 0
				}
			}
		}
	} else {
		s.buf = append(s.buf, p...)
	}

	return s.extract()
}

func (s *Scanner) extract() []Unit {
	var units []Unit
	for {
		pos, scLen := findStartCode(s.buf, s.search)
		if pos < 0 {
			// No further start code yet. One may still form across the
			// chunk boundary, so keep the last three bytes searchable.
			s.search = len(s.buf) - 3
			if s.search < s.scLen {
				s.search = s.scLen
			}
			return units
		}

		if s.scLen > 0 && pos > s.scLen {
			data := make([]byte, pos-s.scLen)
			copy(data, s.buf[s.scLen:pos])
			units = append(units, Unit{
				Type:         data[0] & 0x1F,
				StartCodeLen: s.scLen,
				Data:         data,
			})
		}

		// Bytes before the first start code can never frame a unit; bytes
		// up to the found start code are either emitted above or an empty
		// unit between adjacent start codes. Either way they are done.
		s.consume(pos)
		s.scLen = scLen
		s.search = scLen
	}
}

func (s *Scanner) consume(n int) {
	if n == 0 {
		return
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// Reset discards all pending input and framing state. The drop counter is
// cumulative and survives Reset.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.scLen = 0
	s.search = 0
}

// Buffered returns the number of pending bytes held for an incomplete unit.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// DroppedBytes returns the cumulative number of bytes discarded because the
// pending buffer would have exceeded its cap.
func (s *Scanner) DroppedBytes() int64 {
	return s.dropped
}

// findStartCode locates the next Annex B start code in b at or after from.
// It returns the offset and the start code length, or (-1, 0) if none is
// present. A 4-byte code is matched before the 3-byte code at the same
// offset; a 3-byte match inside a 4-byte pattern is attributed to the 4-byte
// form by virtue of the ascending scan.
func findStartCode(b []byte, from int) (int, int) {
	if from < 0 {
		from = 0
	}
	n := len(b)
	for i := from; i+3 <= n; i++ {
		if b[i] != 0 || b[i+1] != 0 {
			continue
		}
		if i+4 <= n && b[i+2] == 0 && b[i+3] == 1 {
			return i, 4
		}
		if b[i+2] == 1 {
			return i, 3
		}
	}
	return -1, 0
}
