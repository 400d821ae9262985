package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/opd-ai/whistcore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhistPacketLayout(t *testing.T) {
	p := &WhistPacket{
		Type:          PacketVideo,
		ID:            70000,
		Index:         3,
		NumIndices:    12,
		NumFECIndices: 2,
		IsANack:       true,
		Data:          []byte("frame"),
	}

	b, err := p.Encode()
	require.NoError(t, err)
	require.Len(t, b, WhistPacketHeaderSize+5)

	assert.Equal(t, uint32(PacketVideo), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(70000), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(b[8:]))
	assert.Equal(t, uint16(12), binary.LittleEndian.Uint16(b[10:]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(b[12:]))
	assert.Equal(t, byte(1), b[14])
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(b[16:]))
	assert.Equal(t, []byte("frame"), b[20:])

	got, err := DecodeWhistPacket(b)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodeWhistPacketRejectsSizeMismatch(t *testing.T) {
	p := &WhistPacket{Type: PacketAudio, NumIndices: 1, Data: []byte{1, 2, 3}}
	b, err := p.Encode()
	require.NoError(t, err)

	_, err = DecodeWhistPacket(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = DecodeWhistPacket(b[:WhistPacketHeaderSize-1])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestSegmentLayout(t *testing.T) {
	s := &Segment{
		Type:                   PacketAudio,
		ID:                     -1,
		Index:                  0,
		NumIndices:             1,
		IsADuplicate:           true,
		PrevFrameNumDuplicates: 7,
		Data:                   bytes.Repeat([]byte{0xab}, limits.MaxPayloadSize),
	}

	b, err := s.Encode()
	require.NoError(t, err)
	require.Len(t, b, SegmentHeaderSize+limits.MaxPayloadSize)
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, byte(0), b[14])
	assert.Equal(t, byte(1), b[15])
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(b[16:]))
	assert.Equal(t, uint32(limits.MaxPayloadSize), binary.LittleEndian.Uint32(b[20:]))

	got, err := DecodeSegment(b)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSegmentEncodeRejectsOversizedPayload(t *testing.T) {
	s := &Segment{Type: PacketVideo, NumIndices: 1, Data: make([]byte, limits.MaxPayloadSize+1)}
	_, err := s.Encode()
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestSegmentValidate(t *testing.T) {
	tests := []struct {
		name    string
		seg     Segment
		wantErr error
	}{
		{"single audio", Segment{Type: PacketAudio, NumIndices: 1}, nil},
		{"last video index", Segment{Type: PacketVideo, Index: 499, NumIndices: 500, NumFECIndices: 100}, nil},
		{"unknown type", Segment{Type: 9, NumIndices: 1}, ErrInvalidPacketType},
		{"index past end", Segment{Type: PacketVideo, Index: 4, NumIndices: 4}, ErrMalformedSegment},
		{"negative index", Segment{Type: PacketVideo, Index: -1, NumIndices: 4}, ErrMalformedSegment},
		{"too many audio packets", Segment{Type: PacketAudio, NumIndices: limits.MaxAudioPackets + 1}, ErrMalformedSegment},
		{"all fec", Segment{Type: PacketVideo, NumIndices: 3, NumFECIndices: 3}, ErrMalformedSegment},
		{"zero indices", Segment{Type: PacketVideo}, ErrMalformedSegment},
		{"message split", Segment{Type: PacketMessage, Index: 1, NumIndices: 2}, ErrMalformedSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTCPPacketRoundTrip(t *testing.T) {
	ping := &TCPPacket{Type: TCPPing, PingID: 42}
	b, err := ping.Encode()
	require.NoError(t, err)
	assert.Len(t, b, 8)

	got, err := DecodeTCPPacket(b)
	require.NoError(t, err)
	assert.Equal(t, TCPPing, got.Type)
	assert.Equal(t, 42, got.PingID)

	data := &TCPPacket{Type: TCPWhistPacket, Packet: &WhistPacket{Type: PacketMessage, ID: -1, NumIndices: 1, Data: []byte("hi")}}
	b, err = data.Encode()
	require.NoError(t, err)
	got, err = DecodeTCPPacket(b)
	require.NoError(t, err)
	assert.Equal(t, data.Packet, got.Packet)

	_, err = DecodeTCPPacket([]byte{9, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedPacket)
	_, err = DecodeTCPPacket([]byte{0, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestClientMessageEncoding(t *testing.T) {
	tests := []struct {
		name string
		msg  *ClientMessage
		size int
	}{
		{"nack", NackMessage(PacketVideo, 12, 3), 16},
		{"stream reset", StreamResetMessage(PacketAudio, 99), 12},
		{"bit array", &ClientMessage{
			Type:       MessageBitArrayNack,
			PacketType: PacketVideo,
			ID:         5,
			Index:      10,
			Bits:       []bool{true, false, false, true, false, false, false, false, true},
		}, 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.msg.Encode()
			require.NoError(t, err)
			assert.Len(t, b, tt.size)

			got, err := DecodeClientMessage(b)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestClientMessageNackedIndices(t *testing.T) {
	msg := &ClientMessage{Type: MessageBitArrayNack, PacketType: PacketVideo, Index: 10, Bits: []bool{true, false, true}}
	assert.Equal(t, []int{10, 12}, msg.NackedIndices())
	assert.Equal(t, []int{4}, NackMessage(PacketAudio, 1, 4).NackedIndices())
	assert.Nil(t, StreamResetMessage(PacketAudio, 1).NackedIndices())
}

func TestDecodeClientMessageRejectsGarbage(t *testing.T) {
	nack, err := NackMessage(PacketVideo, 1, 2).Encode()
	require.NoError(t, err)

	_, err = DecodeClientMessage(nack[:15])
	assert.ErrorIs(t, err, ErrMalformedClientMessage)

	_, err = DecodeClientMessage([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedClientMessage)

	bad := append([]byte(nil), nack...)
	binary.LittleEndian.PutUint32(bad[4:], 7)
	_, err = DecodeClientMessage(bad)
	assert.ErrorIs(t, err, ErrInvalidPacketType)

	bits := &ClientMessage{Type: MessageBitArrayNack, PacketType: PacketAudio, Bits: make([]bool, 4)}
	b, err := bits.Encode()
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(b[16:], uint32(limits.MaxAudioPackets+1))
	_, err = DecodeClientMessage(b)
	assert.ErrorIs(t, err, ErrMalformedClientMessage)
}

func TestClientMessageSizeLimits(t *testing.T) {
	full := &ClientMessage{Type: MessageBitArrayNack, PacketType: PacketVideo, Bits: make([]bool, limits.MaxVideoPackets)}
	b, err := full.Encode()
	require.NoError(t, err)
	assert.Len(t, b, MaxClientMessageSize)

	_, err = DecodeClientMessage(b)
	require.NoError(t, err)

	_, err = DecodeClientMessage(nil)
	assert.ErrorIs(t, err, ErrMalformedClientMessage)
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	_, err = DecodeClientMessage(append(b, 0))
	assert.ErrorIs(t, err, ErrMalformedClientMessage)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	tooMany := &ClientMessage{Type: MessageBitArrayNack, PacketType: PacketVideo, Bits: make([]bool, limits.MaxVideoPackets+1)}
	_, err = tooMany.Encode()
	assert.ErrorIs(t, err, ErrMalformedClientMessage)
}
