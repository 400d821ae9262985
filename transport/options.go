package transport

import (
	"fmt"
	"time"

	"github.com/opd-ai/whistcore/crypto"
)

// MaxFECRatio is the largest fec ratio UpdateNetworkSettings accepts.
const MaxFECRatio = 0.5

// Options configures a socket context.
type Options struct {
	// PrivateKey is the pre-shared AES-128 key. Both peers must agree on it.
	PrivateKey []byte

	// ReceiveTimeout governs ReadPacket: 0 returns immediately when nothing
	// is pending, a negative value blocks until data arrives, and a positive
	// value waits at most that long.
	ReceiveTimeout time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// PingInterval is how long a TCP client waits after a pong before pinging again.
	PingInterval time.Duration
	// PingTimeout is how long an unanswered ping may stay outstanding before
	// the connection is declared lost.
	PingTimeout time.Duration

	// SessionUpgrade runs a noise NNpsk0 exchange after the private key
	// handshake and switches to the derived per-session key. TCP only.
	SessionUpgrade bool

	// Network holds the initial fec ratios for the UDP send path.
	Network NetworkSettings

	// AudioNackBuffers and VideoNackBuffers size the per-type rings of
	// recently sent frames kept for retransmission. Zero disables the buffer.
	AudioNackBuffers int
	VideoNackBuffers int

	TimeProvider TimeProvider
}

// NewOptions returns Options with the default timeouts and nack buffer sizes.
// The caller still has to supply PrivateKey.
func NewOptions() *Options {
	return &Options{
		ReceiveTimeout:   0,
		HandshakeTimeout: time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     2 * time.Second,
		PingTimeout:      5 * time.Second,
		Network:          DefaultNetworkSettings(),
		AudioNackBuffers: 32,
		VideoNackBuffers: 32,
	}
}

func (o *Options) validate() error {
	if len(o.PrivateKey) != crypto.KeySize {
		return fmt.Errorf("%w: private key is %d bytes", crypto.ErrInvalidKeySize, len(o.PrivateKey))
	}
	return o.Network.validate()
}

// NetworkSettings carries the bandwidth and fec parameters negotiated for a stream.
type NetworkSettings struct {
	// Bitrate is the average bandwidth budget in bits per second.
	Bitrate int
	// BurstBitrate is the short-window bandwidth budget in bits per second.
	BurstBitrate  int
	AudioFECRatio float64
	VideoFECRatio float64
}

// DefaultNetworkSettings returns 16 Mbps average, 100 Mbps burst and no fec.
func DefaultNetworkSettings() NetworkSettings {
	return NetworkSettings{
		Bitrate:      16_000_000,
		BurstBitrate: 100_000_000,
	}
}

// FECRatio returns the configured ratio for a packet type. Messages never use fec.
func (s NetworkSettings) FECRatio(t PacketType) float64 {
	switch t {
	case PacketAudio:
		return s.AudioFECRatio
	case PacketVideo:
		return s.VideoFECRatio
	default:
		return 0
	}
}

func (s NetworkSettings) validate() error {
	for _, r := range []float64{s.AudioFECRatio, s.VideoFECRatio} {
		if r < 0 || r > MaxFECRatio {
			return fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidFECRatio, r, MaxFECRatio)
		}
	}
	return nil
}

// deadline converts a receive timeout into a read deadline. An already
// expired deadline makes net.Conn reads fail without looking for data, so
// the immediate mode polls with a one millisecond window instead.
func deadline(now time.Time, timeout time.Duration) time.Time {
	switch {
	case timeout < 0:
		return time.Time{}
	case timeout == 0:
		return now.Add(time.Millisecond)
	default:
		return now.Add(timeout)
	}
}
