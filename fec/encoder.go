package fec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/opd-ai/whistcore/limits"
)

// HeaderSize is the length header written in front of every original buffer.
// It is covered by the redundancy, so a recovered buffer also recovers its size.
const HeaderSize = 2

// NumFECPackets returns how many fec packets to add to numReal originals so
// that fec packets make up ratio of the total, rounded up.
func NumFECPackets(numReal int, ratio float64) int {
	if ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		panic(fmt.Sprintf("fec: ratio %f must be below 1", ratio))
	}
	return int(math.Ceil(float64(numReal) * ratio / (1.0 - ratio)))
}

// NumRealBuffers returns the number of original buffers a payload of size
// bytes is split into when every buffer, header included, fits in maxBufferSize.
func NumRealBuffers(size, maxBufferSize int) int {
	if size == 0 {
		return 1
	}
	return divRoundUp(size, maxBufferSize-HeaderSize)
}

// Encoder splits one payload into evenly sized original buffers and computes
// fec buffers over them.
type Encoder struct {
	numReal       int
	numFEC        int
	maxBufferSize int

	pieces   [][]byte
	maxPiece int
	encoded  [][]byte
	code     *GroupCode
}

// NewEncoder creates an encoder for numReal original and numFEC fec buffers,
// each at most maxBufferSize bytes on the wire.
func NewEncoder(numReal, numFEC, maxBufferSize int) *Encoder {
	if maxBufferSize > limits.MaxFECBufferSize || maxBufferSize < HeaderSize {
		panic(fmt.Sprintf("fec: max buffer size %d outside [%d, %d]", maxBufferSize, HeaderSize, limits.MaxFECBufferSize))
	}
	return &Encoder{
		numReal:       numReal,
		numFEC:        numFEC,
		maxBufferSize: maxBufferSize,
		code:          NewGroupCode(numReal, numReal+numFEC),
	}
}

// RegisterBuffer splits payload into the encoder's original buffers.
// The payload must need exactly NumRealBuffers(len(payload), maxBufferSize) buffers.
func (e *Encoder) RegisterBuffer(payload []byte) {
	if e.pieces != nil {
		panic("fec: encoder already holds a payload")
	}
	if want := NumRealBuffers(len(payload), e.maxBufferSize); want != e.numReal {
		panic(fmt.Sprintf("fec: payload of %d bytes needs %d buffers, encoder has %d", len(payload), want, e.numReal))
	}

	if len(payload) == 0 {
		e.pieces = [][]byte{payload}
		return
	}

	pieceSize := divRoundUp(len(payload), e.numReal)
	e.pieces = make([][]byte, 0, e.numReal)
	for len(payload) > 0 {
		n := min(pieceSize, len(payload))
		e.pieces = append(e.pieces, payload[:n])
		e.maxPiece = max(e.maxPiece, n)
		payload = payload[n:]
	}
	if len(e.pieces) != e.numReal {
		panic(fmt.Sprintf("fec: split into %d pieces, want %d", len(e.pieces), e.numReal))
	}
}

// EncodedBuffers returns the original buffers followed by the fec buffers.
// Original buffers carry HeaderSize + piece bytes; fec buffers carry
// HeaderSize + the largest piece. Encoding runs once; later calls return the
// same buffers.
func (e *Encoder) EncodedBuffers() [][]byte {
	if e.pieces == nil {
		panic("fec: no payload registered")
	}
	if e.encoded != nil {
		return e.encoded
	}

	payloadSize := HeaderSize + e.maxPiece
	shards := make([][]byte, e.numReal+e.numFEC)
	for i, piece := range e.pieces {
		shards[i] = make([]byte, payloadSize)
		binary.LittleEndian.PutUint16(shards[i], uint16(len(piece)))
		copy(shards[i][HeaderSize:], piece)
	}
	for i := e.numReal; i < len(shards); i++ {
		shards[i] = make([]byte, payloadSize)
	}

	e.code.Encode(shards)

	for i, piece := range e.pieces {
		shards[i] = shards[i][:HeaderSize+len(piece)]
	}
	e.encoded = shards
	return shards
}
