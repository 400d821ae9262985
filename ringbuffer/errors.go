package ringbuffer

import "errors"

// Construction errors.
var (
	// ErrInvalidSize indicates a ring size outside (0, limits.MaxRingBufferSize].
	ErrInvalidSize = errors.New("invalid ring buffer size")

	// ErrUnsupportedType indicates a packet type that is not reassembled into frames.
	ErrUnsupportedType = errors.New("ring buffers only hold audio or video")
)

// Receive path errors.
var (
	// ErrTypeMismatch indicates a segment of another stream was fed to the ring buffer.
	ErrTypeMismatch = errors.New("segment type does not match ring buffer")

	// ErrMalformedSegment indicates a segment with metadata inconsistent with its frame.
	ErrMalformedSegment = errors.New("malformed segment")
)

// Render contract errors. With Options.StrictAssertions these panic instead.
var (
	// ErrRenderOutOfOrder indicates SetRendering was called with an ID that is not
	// greater than the last rendered ID.
	ErrRenderOutOfOrder = errors.New("frame rendered out of order")

	// ErrFrameNotReady indicates SetRendering was called on a missing or incomplete frame.
	ErrFrameNotReady = errors.New("frame not ready to render")
)
