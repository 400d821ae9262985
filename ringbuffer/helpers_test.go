package ringbuffer

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/whistcore/fec"
	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
	"github.com/stretchr/testify/require"
)

// MockTimeProvider is a test implementation of TimeProvider for deterministic testing.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *MockTimeProvider {
	return &MockTimeProvider{currentTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the mock time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Advance advances the mock time by the specified duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

type readyFrame struct {
	id   int
	data []byte
}

// recorder collects callback invocations.
type recorder struct {
	mu     sync.Mutex
	ready  []readyFrame
	nacks  []nackRequest
	resets []int
}

func (r *recorder) readyIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.ready))
	for _, f := range r.ready {
		ids = append(ids, f.id)
	}
	return ids
}

func (r *recorder) takeNacks() []nackRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nacks
	r.nacks = nil
	return n
}

func (r *recorder) takeResets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.resets
	r.resets = nil
	return n
}

// newTestRing builds a ring buffer with a mock clock and recording callbacks.
func newTestRing(t *testing.T, packetType transport.PacketType, size int) (*RingBuffer, *recorder, *MockTimeProvider) {
	t.Helper()

	rec := &recorder{}
	clock := newMockTimeProvider()
	opts := NewOptions(packetType)
	opts.Size = size
	opts.TimeProvider = clock
	opts.OnFrameReady = func(id int, data []byte) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.ready = append(rec.ready, readyFrame{id: id, data: append([]byte(nil), data...)})
	}
	opts.OnNack = func(pt transport.PacketType, id, index int) {
		require.Equal(t, packetType, pt)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.nacks = append(rec.nacks, nackRequest{id: id, index: index})
	}
	opts.OnStreamReset = func(pt transport.PacketType, lastFailedID int) {
		require.Equal(t, packetType, pt)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.resets = append(rec.resets, lastFailedID)
	}

	rb, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(rb.Close)
	return rb, rec, clock
}

func randomPayload(seed int64, size int) []byte {
	payload := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(payload)
	return payload
}

// segmentsFor splits payload into the segments a sender would produce for
// frame id, fec encoding it when numFEC > 0.
func segmentsFor(t *testing.T, packetType transport.PacketType, id int, payload []byte, numFEC int) []*transport.Segment {
	t.Helper()

	var pieces [][]byte
	if numFEC > 0 {
		numReal := fec.NumRealBuffers(len(payload), limits.MaxPayloadSize)
		enc := fec.NewEncoder(numReal, numFEC, limits.MaxPayloadSize)
		enc.RegisterBuffer(payload)
		pieces = enc.EncodedBuffers()
	} else {
		numIndices := max(1, (len(payload)+limits.MaxPayloadSize-1)/limits.MaxPayloadSize)
		for i := 0; i < numIndices; i++ {
			start := i * limits.MaxPayloadSize
			pieces = append(pieces, payload[start:min(start+limits.MaxPayloadSize, len(payload))])
		}
	}

	segs := make([]*transport.Segment, len(pieces))
	for i, piece := range pieces {
		segs[i] = &transport.Segment{
			Type:          packetType,
			ID:            id,
			Index:         i,
			NumIndices:    len(pieces),
			NumFECIndices: numFEC,
			Data:          piece,
		}
	}
	return segs
}

// partialFrame returns segments of a frame with numIndices segments, of which
// only the listed indices are included.
func partialFrame(packetType transport.PacketType, id, numIndices int, indices ...int) []*transport.Segment {
	segs := make([]*transport.Segment, 0, len(indices))
	for _, i := range indices {
		segs = append(segs, &transport.Segment{
			Type:       packetType,
			ID:         id,
			Index:      i,
			NumIndices: numIndices,
			Data:       []byte{byte(id), byte(i)},
		})
	}
	return segs
}

func receiveAll(t *testing.T, rb *RingBuffer, segs []*transport.Segment) {
	t.Helper()
	for _, seg := range segs {
		require.NoError(t, rb.ReceiveSegment(seg))
	}
}

// generousSettings never limit nacking in tests that are not about the budget.
func generousSettings() transport.NetworkSettings {
	return transport.NetworkSettings{
		Bitrate:      1_000_000_000,
		BurstBitrate: 1_000_000_000,
	}
}
