package ringbuffer

import (
	"fmt"
	"time"

	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
)

// Nack governor and stream reset tuning.
const (
	// BurstWindow is the short rate limiting window for nacks.
	BurstWindow = 5 * time.Millisecond
	// AverageWindow is the long rate limiting window for nacks.
	AverageWindow = 100 * time.Millisecond
	// NackBitrateFraction is the share of the bitrate nacks may consume in either window.
	NackBitrateFraction = 0.5

	// NackPacketsMissingFrame is how many leading indices are nacked for a frame
	// of which nothing has arrived.
	NackPacketsMissingFrame = 20
	// MaxUnorderedPackets is how far behind the highest received index a
	// missing index may be before normal mode nacks it.
	MaxUnorderedPackets = 10
	// MaxPacketNacks caps how often one index is nacked.
	MaxPacketNacks = 2
	// RecoveryIdleRatio scales latency into how long a frame may go without
	// a fresh segment before it enters recovery mode.
	RecoveryIdleRatio = 0.2
	// JitterRatio scales latency into the recovery cycle interval and the
	// jitter allowance of the staleness bound.
	JitterRatio = 0.3

	// MaxUnsyncedFrames is how far the newest frame may run ahead of the
	// renderer before a stream reset is requested.
	MaxUnsyncedFrames = 6
	// MinStaleness and MaxStaleness clamp how long a pending frame may wait.
	MinStaleness = 100 * time.Millisecond
	MaxStaleness = 200 * time.Millisecond
	// StreamResetRequestInterval throttles stream reset requests.
	StreamResetRequestInterval = 5 * time.Millisecond
)

// FrameReadyFunc receives a frame's reassembled bytes the moment it becomes
// renderable. data is a copy owned by the callee.
type FrameReadyFunc func(id int, data []byte)

// NackFunc requests retransmission of one segment.
type NackFunc func(packetType transport.PacketType, id, index int)

// StreamResetFunc requests a fresh, independently decodable frame after lastFailedID.
type StreamResetFunc func(packetType transport.PacketType, lastFailedID int)

// Options configures a ring buffer.
type Options struct {
	PacketType transport.PacketType
	// Size is the number of frame slots, at most limits.MaxRingBufferSize.
	Size int

	OnFrameReady  FrameReadyFunc
	OnNack        NackFunc
	OnStreamReset StreamResetFunc

	// StrictAssertions turns render contract violations into panics.
	StrictAssertions bool

	TimeProvider transport.TimeProvider
}

// NewOptions returns Options for a ring buffer of the given type with the
// largest allowed size.
func NewOptions(packetType transport.PacketType) *Options {
	return &Options{
		PacketType: packetType,
		Size:       limits.MaxRingBufferSize,
	}
}

func (o *Options) validate() error {
	if o.PacketType != transport.PacketAudio && o.PacketType != transport.PacketVideo {
		return fmt.Errorf("%w: %v", ErrUnsupportedType, o.PacketType)
	}
	if o.Size <= 0 || o.Size > limits.MaxRingBufferSize {
		return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidSize, o.Size, limits.MaxRingBufferSize)
	}
	return nil
}
