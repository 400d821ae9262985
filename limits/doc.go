// Package limits provides centralized size constants and validation functions
// for the Whist media transport. Every component that touches untrusted sizes
// (socket contexts, the FEC decoder, the frame reassembly ring buffer) checks
// them against the values defined here.
//
// # Size Hierarchy
//
//   - MaxPayloadSize (1285 bytes): the payload carried by one UDP segment.
//     Segments are stored inside a frame buffer at index * MaxPacketSegmentSize.
//
//   - MaxVideoPackets / MaxAudioPackets: the largest number of segments, original
//     plus FEC, a single frame may be split into. Together with MaxPacketSegmentSize
//     they determine the frame buffer block sizes (LargestVideoFrameSize,
//     LargestAudioFrameSize).
//
//   - MaxTCPPayloadSize (16 MiB): the bound applied to the payload_size field of a
//     framed TCP packet before any bytes are decrypted.
//
// # Validation Functions
//
//	if err := limits.ValidateSegmentIndices(index, numIndices, numFEC, limits.MaxVideoPackets); err != nil {
//	    // errors.Is(err, limits.ErrIndexOutOfRange)
//	}
//
// # Error Types
//
//   - ErrMessageEmpty: an empty or nil message was provided
//   - ErrMessageTooLarge: a message exceeds the specified limit
//   - ErrNegativeSize: a length field decoded to a negative value
//   - ErrIndexOutOfRange: segment index metadata is inconsistent
package limits
