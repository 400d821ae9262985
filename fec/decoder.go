package fec

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/whistcore/limits"
	"github.com/sirupsen/logrus"
)

// Decoder collects the buffers of one encoded payload and rebuilds it once
// enough of them have arrived. Registered buffers are referenced, not copied,
// and must stay unchanged until decoding finishes.
type Decoder struct {
	numReal       int
	numBuffers    int
	maxBufferSize int

	buffers      [][]byte
	present      []bool
	accepted     int
	acceptedReal int
	maxPacket    int
	recovered    bool
	code         *GroupCode
}

// NewDecoder creates a decoder for numReal original and numFEC fec buffers.
func NewDecoder(numReal, numFEC, maxBufferSize int) *Decoder {
	if maxBufferSize > limits.MaxFECBufferSize {
		panic(fmt.Sprintf("fec: max buffer size %d exceeds %d", maxBufferSize, limits.MaxFECBufferSize))
	}
	total := numReal + numFEC
	return &Decoder{
		numReal:       numReal,
		numBuffers:    total,
		maxBufferSize: maxBufferSize,
		buffers:       make([][]byte, total),
		present:       make([]bool, total),
		code:          NewGroupCode(numReal, total),
	}
}

// RegisterBuffer hands the buffer with the given index to the decoder.
// Registering the same index twice panics. Buffers arriving after a
// successful recovery are ignored.
func (d *Decoder) RegisterBuffer(index int, buf []byte) {
	if index < 0 || index >= d.numBuffers {
		panic(fmt.Sprintf("fec: buffer index %d out of range [0, %d)", index, d.numBuffers))
	}
	if len(buf) > d.maxBufferSize {
		panic(fmt.Sprintf("fec: buffer of %d bytes exceeds %d", len(buf), d.maxBufferSize))
	}
	if d.present[index] {
		panic(fmt.Sprintf("fec: buffer index %d registered twice", index))
	}
	if d.recovered {
		return
	}

	d.buffers[index] = buf
	d.present[index] = true
	d.accepted++
	if index < d.numReal {
		d.acceptedReal++
	}
	d.maxPacket = max(d.maxPacket, len(buf))
	d.code.RegisterIndex(index)
}

// CanDecode reports whether DecodedBuffer would succeed.
func (d *Decoder) CanDecode() bool {
	return d.code.CanDecode()
}

// DecodedBuffer writes the reconstructed payload into dst and returns its
// length, or -1 if not enough buffers have arrived yet. A nil dst only
// computes the length. dst must be large enough for the payload.
func (d *Decoder) DecodedBuffer(dst []byte) int {
	if !d.code.CanDecode() {
		return -1
	}

	if d.acceptedReal != d.numReal && !d.recovered {
		d.recover()
	}

	total := 0
	for i := 0; i < d.numReal; i++ {
		buf := d.buffers[i]
		if len(buf) < HeaderSize {
			logrus.WithFields(logrus.Fields{
				"function": "Decoder.DecodedBuffer",
				"index":    i,
				"size":     len(buf),
			}).Error("FEC buffer shorter than its header")
			return -1
		}
		size := int(binary.LittleEndian.Uint16(buf))
		if HeaderSize+size > len(buf) {
			logrus.WithFields(logrus.Fields{
				"function":    "Decoder.DecodedBuffer",
				"index":       i,
				"header_size": size,
				"buffer_size": len(buf),
			}).Error("FEC length header exceeds buffer")
			return -1
		}
		if dst != nil {
			copy(dst[total:], buf[HeaderSize:HeaderSize+size])
		}
		total += size
	}
	return total
}

// Decode returns the reconstructed payload in a new slice.
func (d *Decoder) Decode() ([]byte, bool) {
	n := d.DecodedBuffer(nil)
	if n < 0 {
		return nil, false
	}
	out := make([]byte, n)
	d.DecodedBuffer(out)
	return out, true
}

// recover pads every present buffer to the largest size and runs the group decode.
func (d *Decoder) recover() {
	shards := make([][]byte, d.numBuffers)
	for i, ok := range d.present {
		if !ok {
			continue
		}
		padded := make([]byte, d.maxPacket)
		copy(padded, d.buffers[i])
		shards[i] = padded
	}

	d.code.Decode(shards)

	for i := 0; i < d.numReal; i++ {
		d.buffers[i] = shards[i]
	}
	d.recovered = true
}
