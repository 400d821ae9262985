package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/whistcore/limits"
)

// PacketType identifies the stream a packet belongs to.
type PacketType int32

const (
	// PacketAudio carries encoded audio frames.
	PacketAudio PacketType = iota
	// PacketVideo carries encoded video frames.
	PacketVideo
	// PacketMessage carries control messages (nacks, stream reset requests, app messages).
	PacketMessage

	numPacketTypes = 3
)

// String returns a lowercase name for logging.
func (t PacketType) String() string {
	switch t {
	case PacketAudio:
		return "audio"
	case PacketVideo:
		return "video"
	case PacketMessage:
		return "message"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Valid reports whether t is a known packet type.
func (t PacketType) Valid() bool {
	return t >= 0 && t < numPacketTypes
}

// MaxPackets returns how many segments, original plus fec, a frame of this type may use.
func (t PacketType) MaxPackets() int {
	switch t {
	case PacketAudio:
		return limits.MaxAudioPackets
	case PacketVideo:
		return limits.MaxVideoPackets
	default:
		return 1
	}
}

// WhistPacketHeaderSize is the encoded size of the WhistPacket header.
//
//	offset  size  field
//	0       4     type
//	4       4     id
//	8       2     index
//	10      2     num_indices
//	12      2     num_fec_indices
//	14      1     is_a_nack
//	15      1     padding
//	16      4     payload_size
const WhistPacketHeaderSize = 20

// WhistPacket is the application packet carried inside TCP frames.
type WhistPacket struct {
	Type          PacketType
	ID            int
	Index         int
	NumIndices    int
	NumFECIndices int
	IsANack       bool
	Data          []byte
}

// Encode serializes the packet in little-endian wire order.
func (p *WhistPacket) Encode() ([]byte, error) {
	if err := checkInt16(p.Index, p.NumIndices, p.NumFECIndices); err != nil {
		return nil, err
	}
	out := make([]byte, WhistPacketHeaderSize+len(p.Data))
	binary.LittleEndian.PutUint32(out[0:], uint32(p.Type))
	binary.LittleEndian.PutUint32(out[4:], uint32(int32(p.ID)))
	binary.LittleEndian.PutUint16(out[8:], uint16(int16(p.Index)))
	binary.LittleEndian.PutUint16(out[10:], uint16(int16(p.NumIndices)))
	binary.LittleEndian.PutUint16(out[12:], uint16(int16(p.NumFECIndices)))
	out[14] = boolByte(p.IsANack)
	binary.LittleEndian.PutUint32(out[16:], uint32(len(p.Data)))
	copy(out[WhistPacketHeaderSize:], p.Data)
	return out, nil
}

// DecodeWhistPacket parses a packet produced by Encode. The payload_size
// field must match the remaining bytes exactly.
func DecodeWhistPacket(b []byte) (*WhistPacket, error) {
	if len(b) < WhistPacketHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedPacket, len(b))
	}
	size := int(int32(binary.LittleEndian.Uint32(b[16:])))
	if size < 0 || WhistPacketHeaderSize+size != len(b) {
		return nil, fmt.Errorf("%w: payload_size %d disagrees with %d bytes", ErrMalformedPacket, size, len(b))
	}
	return &WhistPacket{
		Type:          PacketType(int32(binary.LittleEndian.Uint32(b[0:]))),
		ID:            int(int32(binary.LittleEndian.Uint32(b[4:]))),
		Index:         int(int16(binary.LittleEndian.Uint16(b[8:]))),
		NumIndices:    int(int16(binary.LittleEndian.Uint16(b[10:]))),
		NumFECIndices: int(int16(binary.LittleEndian.Uint16(b[12:]))),
		IsANack:       b[14] != 0,
		Data:          append([]byte(nil), b[WhistPacketHeaderSize:]...),
	}, nil
}

// Segment converts the packet into the segment form consumed by ring buffers.
func (p *WhistPacket) Segment() *Segment {
	return &Segment{
		Type:          p.Type,
		ID:            p.ID,
		Index:         p.Index,
		NumIndices:    p.NumIndices,
		NumFECIndices: p.NumFECIndices,
		IsANack:       p.IsANack,
		Data:          p.Data,
	}
}

// SegmentHeaderSize is the encoded size of the Segment header.
//
//	offset  size  field
//	0       4     type
//	4       4     id
//	8       2     index
//	10      2     num_indices
//	12      2     num_fec_indices
//	14      1     is_a_nack
//	15      1     is_a_duplicate
//	16      2     prev_frame_num_duplicates
//	18      2     padding
//	20      4     segment_size
const SegmentHeaderSize = 24

// Segment is one network fragment of a frame, identified by (ID, Index).
type Segment struct {
	Type                   PacketType
	ID                     int
	Index                  int
	NumIndices             int
	NumFECIndices          int
	IsANack                bool
	IsADuplicate           bool
	PrevFrameNumDuplicates int
	Data                   []byte
}

// Encode serializes the segment in little-endian wire order.
func (s *Segment) Encode() ([]byte, error) {
	if err := checkInt16(s.Index, s.NumIndices, s.NumFECIndices); err != nil {
		return nil, err
	}
	if s.PrevFrameNumDuplicates < 0 || s.PrevFrameNumDuplicates > 0xffff {
		return nil, fmt.Errorf("%w: prev_frame_num_duplicates %d", ErrMalformedSegment, s.PrevFrameNumDuplicates)
	}
	if err := limits.ValidateSegmentPayload(s.Data); err != nil {
		return nil, err
	}
	out := make([]byte, SegmentHeaderSize+len(s.Data))
	binary.LittleEndian.PutUint32(out[0:], uint32(s.Type))
	binary.LittleEndian.PutUint32(out[4:], uint32(int32(s.ID)))
	binary.LittleEndian.PutUint16(out[8:], uint16(int16(s.Index)))
	binary.LittleEndian.PutUint16(out[10:], uint16(int16(s.NumIndices)))
	binary.LittleEndian.PutUint16(out[12:], uint16(int16(s.NumFECIndices)))
	out[14] = boolByte(s.IsANack)
	out[15] = boolByte(s.IsADuplicate)
	binary.LittleEndian.PutUint16(out[16:], uint16(s.PrevFrameNumDuplicates))
	binary.LittleEndian.PutUint32(out[20:], uint32(len(s.Data)))
	copy(out[SegmentHeaderSize:], s.Data)
	return out, nil
}

// DecodeSegment parses a segment produced by Encode.
func DecodeSegment(b []byte) (*Segment, error) {
	if len(b) < SegmentHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedSegment, len(b))
	}
	size := int(int32(binary.LittleEndian.Uint32(b[20:])))
	if size < 0 || size > limits.MaxPayloadSize || SegmentHeaderSize+size != len(b) {
		return nil, fmt.Errorf("%w: segment_size %d disagrees with %d bytes", ErrMalformedSegment, size, len(b))
	}
	return &Segment{
		Type:                   PacketType(int32(binary.LittleEndian.Uint32(b[0:]))),
		ID:                     int(int32(binary.LittleEndian.Uint32(b[4:]))),
		Index:                  int(int16(binary.LittleEndian.Uint16(b[8:]))),
		NumIndices:             int(int16(binary.LittleEndian.Uint16(b[10:]))),
		NumFECIndices:          int(int16(binary.LittleEndian.Uint16(b[12:]))),
		IsANack:                b[14] != 0,
		IsADuplicate:           b[15] != 0,
		PrevFrameNumDuplicates: int(binary.LittleEndian.Uint16(b[16:])),
		Data:                   append([]byte(nil), b[SegmentHeaderSize:]...),
	}, nil
}

// Validate checks the segment's index metadata against the limits of its type.
func (s *Segment) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(s.Type))
	}
	if err := limits.ValidateSegmentIndices(s.Index, s.NumIndices, s.NumFECIndices, s.Type.MaxPackets()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}
	return limits.ValidateSegmentPayload(s.Data)
}

func checkInt16(values ...int) error {
	for _, v := range values {
		if v < -1<<15 || v >= 1<<15 {
			return fmt.Errorf("%w: %d does not fit in 16 bits", ErrMalformedPacket, v)
		}
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
