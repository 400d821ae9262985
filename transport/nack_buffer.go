package transport

import "sync"

// sentFrame is one frame's segments as they went out on the wire.
type sentFrame struct {
	id       int
	segments []Segment
}

// nackBuffer keeps the most recently sent frames of one packet type so that
// individual segments can be retransmitted on request. Frame id lives in
// slot id mod len(frames); a newer frame overwrites the slot.
type nackBuffer struct {
	mu         sync.Mutex
	frames     []sentFrame
	maxIndices int
}

func newNackBuffer(numBuffers, maxIndices int) *nackBuffer {
	frames := make([]sentFrame, numBuffers)
	for i := range frames {
		frames[i].id = -1
	}
	return &nackBuffer{frames: frames, maxIndices: maxIndices}
}

func (b *nackBuffer) slot(id int) *sentFrame {
	n := len(b.frames)
	return &b.frames[((id%n)+n)%n]
}

func (b *nackBuffer) store(id int, segments []Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.slot(id)
	s.id = id
	s.segments = segments
}

// lookup returns a copy of segment (id, index) if the frame is still buffered.
func (b *nackBuffer) lookup(id, index int) (Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.slot(id)
	if s.id != id || index < 0 || index >= len(s.segments) {
		return Segment{}, false
	}
	return s.segments[index], true
}

// frame returns copies of every segment of frame id if it is still buffered.
func (b *nackBuffer) frame(id int) ([]Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.slot(id)
	if s.id != id {
		return nil, false
	}
	return append([]Segment(nil), s.segments...), true
}
