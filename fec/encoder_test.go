package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/opd-ai/whistcore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPayload(seed int64, size int) []byte {
	payload := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(payload)
	return payload
}

func TestNumFECPackets(t *testing.T) {
	tests := []struct {
		numReal int
		ratio   float64
		want    int
	}{
		{10, 0, 0},
		{10, 0.5, 10},
		{10, 0.2, 3},
		{1, 0.1, 1},
		{7, 0.25, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NumFECPackets(tt.numReal, tt.ratio), "numReal=%d ratio=%v", tt.numReal, tt.ratio)
	}
	assert.Panics(t, func() { NumFECPackets(3, 1) })
}

func TestNumRealBuffers(t *testing.T) {
	assert.Equal(t, 1, NumRealBuffers(0, limits.MaxPayloadSize))
	assert.Equal(t, 1, NumRealBuffers(limits.MaxPayloadSize-HeaderSize, limits.MaxPayloadSize))
	assert.Equal(t, 2, NumRealBuffers(limits.MaxPayloadSize-HeaderSize+1, limits.MaxPayloadSize))
	assert.Equal(t, 10, NumRealBuffers(10*(limits.MaxPayloadSize-HeaderSize), limits.MaxPayloadSize))
}

// encodePayload runs the encoder and returns its buffers.
func encodePayload(t *testing.T, payload []byte, numFEC int) [][]byte {
	t.Helper()
	numReal := NumRealBuffers(len(payload), limits.MaxPayloadSize)
	enc := NewEncoder(numReal, numFEC, limits.MaxPayloadSize)
	enc.RegisterBuffer(payload)
	buffers := enc.EncodedBuffers()
	require.Len(t, buffers, numReal+numFEC)
	for _, b := range buffers {
		require.LessOrEqual(t, len(b), limits.MaxPayloadSize)
	}
	return buffers
}

func TestEncoderSplitsEvenly(t *testing.T) {
	payload := randomPayload(1, 3*(limits.MaxPayloadSize-HeaderSize)-10)
	buffers := encodePayload(t, payload, 2)

	var joined []byte
	for _, b := range buffers[:3] {
		joined = append(joined, b[HeaderSize:]...)
	}
	assert.Equal(t, payload, joined)

	// fec buffers are as long as the longest original buffer
	assert.Equal(t, len(buffers[0]), len(buffers[3]))
	assert.Equal(t, len(buffers[0]), len(buffers[4]))
}

func TestEncodedBuffersIdempotent(t *testing.T) {
	enc := NewEncoder(1, 1, limits.MaxPayloadSize)
	enc.RegisterBuffer([]byte("hello"))
	first := enc.EncodedBuffers()
	second := enc.EncodedBuffers()
	assert.Equal(t, first, second)
}

func TestEncoderPreconditions(t *testing.T) {
	assert.Panics(t, func() { NewEncoder(1, 1, 1) })
	assert.Panics(t, func() { NewEncoder(1, 1, limits.MaxFECBufferSize+1) })

	enc := NewEncoder(2, 1, limits.MaxPayloadSize)
	assert.Panics(t, func() { enc.RegisterBuffer([]byte("too small for two buffers")) })
	assert.Panics(t, func() { NewEncoder(1, 0, limits.MaxPayloadSize).EncodedBuffers() })
}

// TestDecodeTenPlusFour reproduces a 10 original + 4 fec frame where only
// originals {0,2,4,6,8,9} and every fec buffer arrive.
func TestDecodeTenPlusFour(t *testing.T) {
	payload := randomPayload(2, 10*(limits.MaxPayloadSize-HeaderSize)-123)
	buffers := encodePayload(t, payload, 4)
	require.Len(t, buffers, 14)

	dec := NewDecoder(10, 4, limits.MaxPayloadSize)
	arrivals := []int{0, 2, 4, 6, 8, 9, 10, 11, 12}
	for _, idx := range arrivals {
		dec.RegisterBuffer(idx, buffers[idx])
		assert.Equal(t, -1, dec.DecodedBuffer(nil), "decoded early after index %d", idx)
	}

	dec.RegisterBuffer(13, buffers[13])
	require.True(t, dec.CanDecode())

	out := make([]byte, len(payload))
	n := dec.DecodedBuffer(out)
	require.Equal(t, len(payload), n)
	assert.True(t, bytes.Equal(payload, out))

	// a second call returns the same result
	again, ok := dec.Decode()
	require.True(t, ok)
	assert.Equal(t, payload, again)
}

func TestDecodeWithoutRecovery(t *testing.T) {
	payload := randomPayload(3, 5000)
	buffers := encodePayload(t, payload, 2)
	numReal := len(buffers) - 2

	dec := NewDecoder(numReal, 2, limits.MaxPayloadSize)
	for i := 0; i < numReal; i++ {
		dec.RegisterBuffer(i, buffers[i])
	}

	out, ok := dec.Decode()
	require.True(t, ok)
	assert.Equal(t, payload, out)
}

func TestDecodeRandomLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 20; trial++ {
		size := rng.Intn(60 * limits.MaxPayloadSize)
		payload := randomPayload(int64(trial), size)
		numReal := NumRealBuffers(size, limits.MaxPayloadSize)
		numFEC := NumFECPackets(numReal, 0.3)
		buffers := encodePayload(t, payload, numFEC)

		dec := NewDecoder(numReal, numFEC, limits.MaxPayloadSize)
		for _, idx := range rng.Perm(numReal + numFEC) {
			dec.RegisterBuffer(idx, buffers[idx])
			if dec.CanDecode() {
				break
			}
		}

		out, ok := dec.Decode()
		require.True(t, ok, "trial %d", trial)
		assert.True(t, bytes.Equal(payload, out), "trial %d size %d", trial, size)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	buffers := encodePayload(t, nil, 1)
	require.Len(t, buffers, 2)

	dec := NewDecoder(1, 1, limits.MaxPayloadSize)
	dec.RegisterBuffer(1, buffers[1])

	out, ok := dec.Decode()
	require.True(t, ok)
	assert.Empty(t, out)
}

func TestDecoderPreconditions(t *testing.T) {
	dec := NewDecoder(2, 1, limits.MaxPayloadSize)
	dec.RegisterBuffer(0, []byte{1, 0, 9})

	assert.Panics(t, func() { dec.RegisterBuffer(0, []byte{1, 0, 9}) })
	assert.Panics(t, func() { dec.RegisterBuffer(3, []byte{0, 0}) })
	assert.Panics(t, func() { dec.RegisterBuffer(1, make([]byte, limits.MaxPayloadSize+1)) })
}
