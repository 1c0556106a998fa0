package h264

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientConfig is returned by BuildDecoderConfig when a parameter
// set is too short to carry the profile/compatibility/level bytes the record
// header is built from.
var ErrInsufficientConfig = errors.New("insufficient decoder configuration")

// ErrInvalidConfig is returned by ParseDecoderConfig for records that do not
// follow the AVCDecoderConfigurationRecord layout.
var ErrInvalidConfig = errors.New("malformed decoder configuration record")

// BuildDecoderConfig builds an AVCDecoderConfigurationRecord
// (ISO 14496-15 §5.2.4.1.1) from raw SPS and PPS NAL data (without start
// codes, including the NAL header bytes). Both parameter sets must be at
// least 4 bytes.
func BuildDecoderConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) < 4 {
		return nil, ErrInsufficientConfig
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, sps[1]) // AVCProfileIndication
	buf = append(buf, sps[2]) // profile_compatibility
	buf = append(buf, sps[3]) // AVCLevelIndication
	buf = append(buf, 0xFF)   // lengthSizeMinusOne = 3 | reserved 0xFC
	buf = append(buf, 0xE1)   // numOfSequenceParameterSets = 1 | reserved 0xE0

	// SPS
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	// PPS
	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf, nil
}

// ParseDecoderConfig extracts the first SPS and PPS from an
// AVCDecoderConfigurationRecord. The returned slices alias the record.
func ParseDecoderConfig(record []byte) (sps, pps []byte, err error) {
	if len(record) < 6 || record[0] != 1 {
		return nil, nil, ErrInvalidConfig
	}

	i := 5
	numSPS := int(record[i] & 0x1F)
	i++
	for n := 0; n < numSPS; n++ {
		if i+2 > len(record) {
			return nil, nil, ErrInvalidConfig
		}
		l := int(binary.BigEndian.Uint16(record[i:]))
		i += 2
		if i+l > len(record) {
			return nil, nil, ErrInvalidConfig
		}
		if sps == nil {
			sps = record[i : i+l]
		}
		i += l
	}

	if i >= len(record) {
		return nil, nil, ErrInvalidConfig
	}
	numPPS := int(record[i])
	i++
	for n := 0; n < numPPS; n++ {
		if i+2 > len(record) {
			return nil, nil, ErrInvalidConfig
		}
		l := int(binary.BigEndian.Uint16(record[i:]))
		i += 2
		if i+l > len(record) {
			return nil, nil, ErrInvalidConfig
		}
		if pps == nil {
			pps = record[i : i+l]
		}
		i += l
	}

	if len(sps) == 0 || len(pps) == 0 {
		return nil, nil, ErrInvalidConfig
	}
	return sps, pps, nil
}

// LengthPrefixed converts raw NAL data (start code already stripped) to the
// AVCC form decoders consume: a 4-byte big-endian length followed by the
// data. The payload bytes are copied verbatim.
func LengthPrefixed(nal []byte) []byte {
	out := make([]byte, 4+len(nal))
	binary.BigEndian.PutUint32(out, uint32(len(nal)))
	copy(out[4:], nal)
	return out
}

// StripStartCode removes a 3-byte or 4-byte Annex B start code prefix,
// returning the input unchanged if neither is present.
func StripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}
