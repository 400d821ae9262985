package transport

import (
	"net"
	"time"
)

// SocketContext is an authenticated, encrypted connection to one peer.
// TCP and UDP contexts implement it; the variant is chosen at construction.
type SocketContext interface {
	// SendPacket encrypts and sends payload as frame id of the given type.
	SendPacket(packetType PacketType, payload []byte, id int) error

	// ReadPacket returns the next received segment, or nil when nothing
	// arrived within the receive timeout. shouldRecv false only drains
	// already buffered data.
	ReadPacket(shouldRecv bool) (*Segment, error)

	// Ack sends a keepalive with no payload.
	Ack() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Close shuts down the context.
	Close() error
}

// LatencyEstimator is implemented by contexts that measure round trip time.
type LatencyEstimator interface {
	// Latency returns the last measured round trip time, or zero before
	// the first measurement.
	Latency() time.Duration
}

var (
	_ SocketContext    = (*TCPContext)(nil)
	_ SocketContext    = (*UDPContext)(nil)
	_ LatencyEstimator = (*TCPContext)(nil)
)
