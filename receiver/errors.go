package receiver

import "errors"

var (
	// ErrNoFrame indicates no frame of the requested type is ready to render.
	ErrNoFrame = errors.New("no frame ready to render")

	// ErrUnsupportedType indicates a packet type that is not rendered.
	ErrUnsupportedType = errors.New("only audio and video frames are rendered")

	// ErrMissingAddress indicates Options without a UDP address.
	ErrMissingAddress = errors.New("udp address is required")
)
