// Package limits provides centralized size limits for the Whist transport.
// This ensures consistent validation across the socket contexts, the FEC
// layer and the frame reassembly ring buffer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPayloadSize is the largest payload carried by a single UDP segment.
	MaxPayloadSize = 1285

	// MaxPacketSegmentSize is the stride between segment payloads inside a
	// frame's packet buffer. Segment i is stored at i * MaxPacketSegmentSize.
	MaxPacketSegmentSize = MaxPayloadSize

	// MaxVideoPackets is the maximum number of segments (original + FEC) of a video frame.
	MaxVideoPackets = 500

	// MaxAudioPackets is the maximum number of segments (original + FEC) of an audio frame.
	MaxAudioPackets = 8

	// MaxRingBufferSize is the largest ring buffer that may be created.
	MaxRingBufferSize = 500

	// LargestVideoFrameSize is the capacity of one video frame buffer block.
	LargestVideoFrameSize = MaxVideoPackets * MaxPacketSegmentSize

	// LargestAudioFrameSize is the capacity of one audio frame buffer block.
	LargestAudioFrameSize = MaxAudioPackets * MaxPacketSegmentSize

	// MaxTCPPayloadSize bounds the payload_size field of a framed TCP packet.
	// Anything larger is treated as a corrupt stream.
	MaxTCPPayloadSize = 16 * 1024 * 1024

	// MaxFECBufferSize is the largest buffer addressable by the 2-byte FEC length header.
	MaxFECBufferSize = 1<<16 - 1
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrNegativeSize indicates a length field decoded to a negative value
	ErrNegativeSize = errors.New("negative size")

	// ErrIndexOutOfRange indicates a segment index or count outside protocol bounds
	ErrIndexOutOfRange = errors.New("index out of range")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateSegmentPayload validates a segment payload against MaxPayloadSize.
// Empty payloads are legal: a zero-length frame is sent as one empty segment.
func ValidateSegmentPayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: segment size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// ValidateTCPPayloadSize validates the payload_size field of a framed TCP packet.
// The value comes straight off the wire, before decryption.
func ValidateTCPPayloadSize(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: tcp payload size %d", ErrNegativeSize, size)
	}
	if size > MaxTCPPayloadSize {
		return fmt.Errorf("%w: tcp payload size %d exceeds limit %d", ErrMessageTooLarge, size, MaxTCPPayloadSize)
	}
	return nil
}

// ValidateSegmentIndices checks that a segment's index metadata is consistent:
// 0 <= index < numIndices <= maxPackets and 0 <= numFECIndices < numIndices.
func ValidateSegmentIndices(index, numIndices, numFECIndices, maxPackets int) error {
	if numIndices <= 0 || numIndices > maxPackets {
		return fmt.Errorf("%w: num_indices %d not in (0, %d]", ErrIndexOutOfRange, numIndices, maxPackets)
	}
	if index < 0 || index >= numIndices {
		return fmt.Errorf("%w: index %d not in [0, %d)", ErrIndexOutOfRange, index, numIndices)
	}
	if numFECIndices < 0 || numFECIndices >= numIndices {
		return fmt.Errorf("%w: num_fec_indices %d not in [0, %d)", ErrIndexOutOfRange, numFECIndices, numIndices)
	}
	return nil
}
