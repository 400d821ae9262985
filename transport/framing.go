package transport

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/opd-ai/whistcore/crypto"
	"github.com/opd-ai/whistcore/limits"
	"github.com/sirupsen/logrus"
)

// EnvelopeHeaderSize is the size of the AESMetadata plus the int32
// payload_size that precede every encrypted TCP frame and UDP datagram.
const EnvelopeHeaderSize = crypto.AESMetadataSize + 4

// sealEnvelope encrypts plaintext and prepends the envelope header.
func sealEnvelope(plaintext, key []byte) ([]byte, error) {
	meta, ciphertext, err := crypto.EncryptPacket(plaintext, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, EnvelopeHeaderSize+len(ciphertext))
	if err := meta.Encode(out); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(out[crypto.AESMetadataSize:], uint32(len(ciphertext)))
	copy(out[EnvelopeHeaderSize:], ciphertext)
	return out, nil
}

// envelopePayloadSize reads the payload_size field of an envelope header.
func envelopePayloadSize(header []byte) int {
	return int(int32(binary.LittleEndian.Uint32(header[crypto.AESMetadataSize:EnvelopeHeaderSize])))
}

// openEnvelope authenticates and decrypts one complete envelope.
func openEnvelope(b, key []byte) ([]byte, error) {
	if len(b) < EnvelopeHeaderSize {
		return nil, fmt.Errorf("%w: envelope is %d bytes", ErrMalformedPacket, len(b))
	}
	size := envelopePayloadSize(b)
	if size < 0 || EnvelopeHeaderSize+size != len(b) {
		return nil, fmt.Errorf("%w: payload_size %d disagrees with %d bytes", ErrMalformedPacket, size, len(b))
	}
	meta, err := crypto.DecodeAESMetadata(b)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptPacket(meta, b[EnvelopeHeaderSize:], key)
}

// frameParser reassembles encrypted frames from a TCP byte stream.
type frameParser struct {
	buf []byte
	key []byte
}

func newFrameParser(key []byte) *frameParser {
	return &frameParser{key: key}
}

// Write appends bytes read from the stream.
func (p *frameParser) Write(b []byte) {
	p.buf = append(p.buf, b...)
}

// Buffered returns the number of bytes waiting to be parsed.
func (p *frameParser) Buffered() int {
	return len(p.buf)
}

// Frames yields the plaintext of every complete frame in the buffer.
// An out-of-range payload_size means the stream is desynchronized, so the
// buffer is discarded. Frames that fail authentication are dropped and
// parsing continues with the next one. Stopping early leaves the
// unconsumed bytes buffered for the next call.
func (p *frameParser) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(p.buf) >= EnvelopeHeaderSize {
			size := envelopePayloadSize(p.buf)
			if err := limits.ValidateTCPPayloadSize(size); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "frameParser.Frames",
					"buffered": len(p.buf),
					"error":    err.Error(),
				}).Warn("Invalid TCP payload size, resetting stream buffer")
				p.reset()
				return
			}

			total := EnvelopeHeaderSize + size
			if len(p.buf) < total {
				return
			}

			plaintext, err := openEnvelope(p.buf[:total], p.key)
			p.consume(total)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function":     "frameParser.Frames",
					"payload_size": size,
					"error":        err.Error(),
				}).Warn("Dropping TCP frame that failed to decrypt")
				continue
			}

			if !yield(plaintext) {
				return
			}
		}
	}
}

func (p *frameParser) consume(n int) {
	rest := copy(p.buf, p.buf[n:])
	p.buf = p.buf[:rest]
}

func (p *frameParser) reset() {
	p.buf = p.buf[:0]
}
