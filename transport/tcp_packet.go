package transport

import (
	"encoding/binary"
	"fmt"
)

// TCPPacketType tags the body of a TCPPacket.
type TCPPacketType int32

const (
	TCPPing TCPPacketType = iota
	TCPPong
	TCPReconnect
	TCPWhistPacket
)

func (t TCPPacketType) String() string {
	switch t {
	case TCPPing:
		return "ping"
	case TCPPong:
		return "pong"
	case TCPReconnect:
		return "reconnect"
	case TCPWhistPacket:
		return "whist_packet"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// TCPPacket is the plaintext of one TCP frame: an int32 type followed by
// an int32 ping id for PING, PONG and RECONNECT, or a WhistPacket.
type TCPPacket struct {
	Type   TCPPacketType
	PingID int
	Packet *WhistPacket
}

// Encode serializes the packet.
func (p *TCPPacket) Encode() ([]byte, error) {
	switch p.Type {
	case TCPPing, TCPPong, TCPReconnect:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint32(out[0:], uint32(p.Type))
		binary.LittleEndian.PutUint32(out[4:], uint32(int32(p.PingID)))
		return out, nil
	case TCPWhistPacket:
		if p.Packet == nil {
			return nil, fmt.Errorf("%w: whist packet body missing", ErrMalformedPacket)
		}
		body, err := p.Packet.Encode()
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4+len(body))
		binary.LittleEndian.PutUint32(out[0:], uint32(p.Type))
		copy(out[4:], body)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: tcp packet type %v", ErrMalformedPacket, p.Type)
	}
}

// DecodeTCPPacket parses the plaintext of one TCP frame.
func DecodeTCPPacket(b []byte) (*TCPPacket, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: tcp packet is %d bytes", ErrMalformedPacket, len(b))
	}
	p := &TCPPacket{Type: TCPPacketType(int32(binary.LittleEndian.Uint32(b)))}
	switch p.Type {
	case TCPPing, TCPPong, TCPReconnect:
		if len(b) != 8 {
			return nil, fmt.Errorf("%w: %v body is %d bytes", ErrMalformedPacket, p.Type, len(b)-4)
		}
		p.PingID = int(int32(binary.LittleEndian.Uint32(b[4:])))
	case TCPWhistPacket:
		pkt, err := DecodeWhistPacket(b[4:])
		if err != nil {
			return nil, err
		}
		p.Packet = pkt
	default:
		return nil, fmt.Errorf("%w: tcp packet type %v", ErrMalformedPacket, p.Type)
	}
	return p, nil
}
