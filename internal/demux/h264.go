package demux

import (
	"errors"
	"fmt"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice       = 1
	NALTypePartitionA  = 2
	NALTypePartitionB  = 3
	NALTypePartitionC  = 4
	NALTypeIDR         = 5
	NALTypeSEI         = 6
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeAUD         = 9
	NALTypeEndOfSeq    = 10
	NALTypeEndOfStream = 11
	NALTypeFillerData  = 12
)

// NALUnit is one H.264 NAL unit located in an Annex B byte stream.
type NALUnit struct {
	Type byte   // 5-bit nal_unit_type
	Data []byte // NAL header byte and payload, without start code
	// Offset is the position of the unit's start code in the scanned stream
	// and StartCodeLen its length (3 or 4).
	Offset       int
	StartCodeLen int
}

// ParseAnnexB splits an Annex B byte stream into NAL units. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized; a zero byte
// directly before a 3-byte start code is taken as part of a 4-byte one.
// Bytes before the first start code are not part of any unit.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nalData := data[pos.dataStart:end]
		units = append(units, NALUnit{
			Type:         nalData[0] & 0x1F,
			Data:         nalData,
			Offset:       pos.scStart,
			StartCodeLen: pos.dataStart - pos.scStart,
		})
	}
	return units
}

// StripIDR returns a copy of an Annex B stream with every IDR unit (type 5)
// removed together with its start code. All other units are copied byte for
// byte, start codes included. skipped lists the start-code offset of every
// removed unit in the input.
func StripIDR(data []byte) (out []byte, skipped []int) {
	units := ParseAnnexB(data)
	out = make([]byte, 0, len(data))
	for _, u := range units {
		end := u.Offset + u.StartCodeLen + len(u.Data)
		if IsKeyframe(u.Type) {
			skipped = append(skipped, u.Offset)
			continue
		}
		out = append(out, data[u.Offset:end]...)
	}
	return out, skipped
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

// Census counts the NAL units of a stream by type.
type Census struct {
	Slices   int // non-IDR slices, including data partitions
	IDR      int
	SEI      int
	SPS      int
	PPS      int
	AUD      int
	EndOfSeq int // end-of-sequence and end-of-stream units
	Filler   int
	Other    int // every other type
}

// Count tallies units by NAL type.
func Count(units []NALUnit) Census {
	var c Census
	for _, u := range units {
		switch {
		case IsKeyframe(u.Type):
			c.IDR++
		case IsSPS(u.Type):
			c.SPS++
		case IsPPS(u.Type):
			c.PPS++
		case u.Type == NALTypeSlice, u.Type >= NALTypePartitionA && u.Type <= NALTypePartitionC:
			c.Slices++
		case u.Type == NALTypeSEI:
			c.SEI++
		case u.Type == NALTypeAUD:
			c.AUD++
		case u.Type == NALTypeEndOfSeq, u.Type == NALTypeEndOfStream:
			c.EndOfSeq++
		case u.Type == NALTypeFillerData:
			c.Filler++
		default:
			c.Other++
		}
	}
	return c
}

// SPSInfo holds the picture geometry and profile of an H.264 sequence
// parameter set.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

var errSPSTooShort = errors.New("demux: SPS data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

// skipUE discards n Exp-Golomb values.
func (br *bitReader) skipUE(n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.readUE(); err != nil {
			return err
		}
	}
	return nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale, nextScale := 8, 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func hasChromaFormat(profile uint) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS reads the profile, level and cropped picture size from an H.264
// SPS NAL unit (header byte included, start code excluded). VUI parameters
// are not read.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	br := newBitReader(removeEmulationPrevention(nalu[1:]))

	profile, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraints, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	level, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if err := br.skipUE(1); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormat := uint(1)
	separatePlanes := false
	if hasChromaFormat(profile) {
		if chromaFormat, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if chromaFormat == 3 {
			flag, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separatePlanes = flag == 1
		}
		if err := br.skipUE(2); err != nil { // bit depths
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil { // transform bypass
			return SPSInfo{}, err
		}
		scaling, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if scaling == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if present == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := br.skipScalingList(size); err != nil {
					return SPSInfo{}, err
				}
			}
		}
	}

	if err := br.skipUE(1); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch pocType {
	case 0:
		if err := br.skipUE(1); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		for i := 0; i < 2; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
		cycle, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < cycle; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if err := br.skipUE(1); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_allowed
		return SPSInfo{}, err
	}

	widthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBits(1); err != nil { // direct_8x8_inference
		return SPSInfo{}, err
	}

	var crop [4]uint // left, right, top, bottom
	cropping, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping == 1 {
		for i := range crop {
			if crop[i], err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	subWidth, subHeight := uint(2), uint(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subWidth, subHeight = 1, 1
	case chromaFormat == 2:
		subWidth, subHeight = 2, 1
	}
	cropUnitX := subWidth
	cropUnitY := subHeight * (2 - frameMbsOnly)

	return SPSInfo{
		Width:           int((widthMbs+1)*16 - cropUnitX*(crop[0]+crop[1])),
		Height:          int((heightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(crop[2]+crop[3])),
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(constraints),
		LevelIDC:        byte(level),
	}, nil
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// FirstSPS returns the geometry of the first parseable SPS in an Annex B
// stream.
func FirstSPS(units []NALUnit) (SPSInfo, bool) {
	for _, u := range units {
		if !IsSPS(u.Type) {
			continue
		}
		if info, err := ParseSPS(u.Data); err == nil {
			return info, true
		}
	}
	return SPSInfo{}, false
}
