package receiver

import (
	"time"

	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
)

// Options configures a Receiver.
type Options struct {
	// UDPAddress is the server's media address.
	UDPAddress string
	// TCPAddress is the server's control address. Empty disables TCP, in
	// which case Latency is used as the round trip estimate.
	TCPAddress string

	// Transport configures both socket contexts.
	Transport *transport.Options

	AudioRingSize int
	VideoRingSize int

	// Latency is the round trip estimate used until TCP has measured one.
	Latency time.Duration
	// RecoveryInterval is how often missing packets are nacked.
	RecoveryInterval time.Duration
	// FrameQueueSize is the capacity of the Frames channel.
	FrameQueueSize int

	// StrictAssertions turns render contract violations into panics.
	StrictAssertions bool

	TimeProvider transport.TimeProvider
}

// NewOptions returns Options with default values for the given server.
func NewOptions(udpAddress string) *Options {
	transportOpts := transport.NewOptions()
	transportOpts.ReceiveTimeout = 5 * time.Millisecond

	return &Options{
		UDPAddress:       udpAddress,
		Transport:        transportOpts,
		AudioRingSize:    limits.MaxRingBufferSize,
		VideoRingSize:    limits.MaxRingBufferSize,
		Latency:          30 * time.Millisecond,
		RecoveryInterval: 5 * time.Millisecond,
		FrameQueueSize:   64,
	}
}
