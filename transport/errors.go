package transport

import "errors"

// Socket context errors.
var (
	// ErrHandshakeFailed indicates the private key handshake did not confirm the peer.
	ErrHandshakeFailed = errors.New("private key handshake failed")

	// ErrConnectionLost indicates the peer stopped answering pings or asked to reconnect.
	ErrConnectionLost = errors.New("connection lost")

	// ErrContextClosed indicates the socket context has been closed.
	ErrContextClosed = errors.New("socket context closed")

	// ErrUnexpectedDatagram indicates a non-empty datagram arrived while waiting for an ack.
	ErrUnexpectedDatagram = errors.New("unexpected datagram while waiting for ack")
)

// Wire format errors.
var (
	// ErrMalformedPacket indicates a WhistPacket or TCP packet failed to decode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrMalformedSegment indicates an authenticated segment with inconsistent metadata.
	ErrMalformedSegment = errors.New("malformed segment")

	// ErrInvalidPacketType indicates an unknown packet type.
	ErrInvalidPacketType = errors.New("invalid packet type")

	// ErrMalformedClientMessage indicates a client message failed to decode.
	ErrMalformedClientMessage = errors.New("malformed client message")
)

// Send path errors.
var (
	// ErrPayloadTooLarge indicates a frame needs more segments than its type allows.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNoNackBuffer indicates the packet type has no nack buffer registered.
	ErrNoNackBuffer = errors.New("no nack buffer for packet type")

	// ErrNackedPacketMissing indicates the nacked segment is no longer in the nack buffer.
	ErrNackedPacketMissing = errors.New("nacked packet not in nack buffer")

	// ErrInvalidFECRatio indicates an fec ratio outside [0, MaxFECRatio].
	ErrInvalidFECRatio = errors.New("invalid fec ratio")
)
