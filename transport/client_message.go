package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/whistcore/limits"
)

// MaxClientMessageSize is the encoded size of the largest client message, a
// bit-array nack covering every segment of a video frame.
const MaxClientMessageSize = 20 + (limits.MaxVideoPackets+7)/8

// ClientMessageType identifies a control message sent from the client to the server.
type ClientMessageType int32

const (
	// MessageNack requests one segment.
	MessageNack ClientMessageType = iota + 1
	// MessageBitArrayNack requests every segment whose bit is set, starting at Index.
	MessageBitArrayNack
	// MessageStreamResetRequest asks the server to restart the stream with a
	// frame that does not depend on LastFailedID or anything before it.
	MessageStreamResetRequest
)

func (t ClientMessageType) String() string {
	switch t {
	case MessageNack:
		return "nack"
	case MessageBitArrayNack:
		return "bit_array_nack"
	case MessageStreamResetRequest:
		return "stream_reset_request"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// ClientMessage is the payload of a PacketMessage segment.
//
// Layout, little-endian int32 fields:
//
//	nack:                 type, packet_type, id, index
//	bit array nack:       type, packet_type, id, index, num_bits, bitmap[(num_bits+7)/8]
//	stream reset request: type, packet_type, last_failed_id
type ClientMessage struct {
	Type         ClientMessageType
	PacketType   PacketType
	ID           int
	Index        int
	Bits         []bool
	LastFailedID int
}

// NackMessage builds a single segment nack.
func NackMessage(t PacketType, id, index int) *ClientMessage {
	return &ClientMessage{Type: MessageNack, PacketType: t, ID: id, Index: index}
}

// StreamResetMessage builds a stream reset request.
func StreamResetMessage(t PacketType, lastFailedID int) *ClientMessage {
	return &ClientMessage{Type: MessageStreamResetRequest, PacketType: t, LastFailedID: lastFailedID}
}

// Encode serializes the message.
func (m *ClientMessage) Encode() ([]byte, error) {
	if !m.PacketType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(m.PacketType))
	}
	put := func(b []byte, vals ...int) []byte {
		for _, v := range vals {
			b = binary.LittleEndian.AppendUint32(b, uint32(int32(v)))
		}
		return b
	}

	out := put(nil, int(m.Type), int(m.PacketType))
	switch m.Type {
	case MessageNack:
		return put(out, m.ID, m.Index), nil
	case MessageBitArrayNack:
		if len(m.Bits) > m.PacketType.MaxPackets() {
			return nil, fmt.Errorf("%w: %d bits", ErrMalformedClientMessage, len(m.Bits))
		}
		out = put(out, m.ID, m.Index, len(m.Bits))
		bitmap := make([]byte, (len(m.Bits)+7)/8)
		for i, set := range m.Bits {
			if set {
				bitmap[i/8] |= 1 << (i % 8)
			}
		}
		return append(out, bitmap...), nil
	case MessageStreamResetRequest:
		return put(out, m.LastFailedID), nil
	default:
		return nil, fmt.Errorf("%w: type %v", ErrMalformedClientMessage, m.Type)
	}
}

// DecodeClientMessage parses a message produced by Encode.
func DecodeClientMessage(b []byte) (*ClientMessage, error) {
	get := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(b[4*i:])))
	}
	need := func(n int) error {
		if len(b) != n {
			return fmt.Errorf("%w: %d bytes, want %d", ErrMalformedClientMessage, len(b), n)
		}
		return nil
	}

	if err := limits.ValidateMessageSize(b, MaxClientMessageSize); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedClientMessage, err)
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedClientMessage, len(b))
	}
	m := &ClientMessage{
		Type:       ClientMessageType(get(0)),
		PacketType: PacketType(get(1)),
	}
	if !m.PacketType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(m.PacketType))
	}

	switch m.Type {
	case MessageNack:
		if err := need(16); err != nil {
			return nil, err
		}
		m.ID, m.Index = get(2), get(3)
	case MessageBitArrayNack:
		if len(b) < 20 {
			return nil, fmt.Errorf("%w: %d bytes", ErrMalformedClientMessage, len(b))
		}
		m.ID, m.Index = get(2), get(3)
		numBits := get(4)
		if numBits < 0 || numBits > m.PacketType.MaxPackets() {
			return nil, fmt.Errorf("%w: %d bits", ErrMalformedClientMessage, numBits)
		}
		if err := need(20 + (numBits+7)/8); err != nil {
			return nil, err
		}
		m.Bits = make([]bool, numBits)
		for i := range m.Bits {
			m.Bits[i] = b[20+i/8]&(1<<(i%8)) != 0
		}
	case MessageStreamResetRequest:
		if err := need(12); err != nil {
			return nil, err
		}
		m.LastFailedID = get(2)
	default:
		return nil, fmt.Errorf("%w: type %d", ErrMalformedClientMessage, int32(m.Type))
	}
	return m, nil
}

// NackedIndices lists the segment indices a nack message asks for.
func (m *ClientMessage) NackedIndices() []int {
	switch m.Type {
	case MessageNack:
		return []int{m.Index}
	case MessageBitArrayNack:
		var out []int
		for i, set := range m.Bits {
			if set {
				out = append(out, m.Index+i)
			}
		}
		return out
	default:
		return nil
	}
}
