package ringbuffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
	"github.com/sirupsen/logrus"
)

// RingBuffer reassembles the frames of one stream from segments. Frame id
// lives in slot id mod size. Every public method holds the ring buffer's
// mutex; callbacks run after it is released.
type RingBuffer struct {
	mu sync.Mutex

	packetType   transport.PacketType
	size         int
	maxPackets   int
	opts         Options
	timeProvider transport.TimeProvider
	alloc        *blockAllocator

	frames []*frame
	minID  int
	maxID  int

	lastRenderedID int
	rendering      *frame

	// nack governor
	burstStart          time.Time
	avgStart            time.Time
	burstCount          int
	avgCount            int
	nackingPossible     bool
	lastMissingFrameID  int
	missingFrameID      int
	missingFrameNextIdx int
	pendingNacks        []nackRequest

	// stream reset escalation
	lastStreamResetAt time.Time
	lastStreamResetID int

	stats Statistics
}

type nackRequest struct {
	id, index int
}

// New creates an empty ring buffer.
//
// Parameters:
//   - opts: Packet type, size and callbacks
//
// Returns:
//   - *RingBuffer: The ring buffer
//   - error: ErrUnsupportedType or ErrInvalidSize
func New(opts *Options) (*RingBuffer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	maxPackets := opts.PacketType.MaxPackets()
	rb := &RingBuffer{
		packetType:         opts.PacketType,
		size:               opts.Size,
		maxPackets:         maxPackets,
		opts:               *opts,
		timeProvider:       transport.TimeProviderOrDefault(opts.TimeProvider),
		alloc:              newBlockAllocator(maxPackets * limits.MaxPacketSegmentSize),
		frames:             make([]*frame, opts.Size),
		minID:              -1,
		maxID:              -1,
		lastRenderedID:     -1,
		rendering:          newFrame(maxPackets),
		nackingPossible:    true,
		lastMissingFrameID: -1,
		missingFrameID:     -1,
		lastStreamResetID:  -1,
	}
	for i := range rb.frames {
		rb.frames[i] = newFrame(maxPackets)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ringbuffer.New",
		"type":     rb.packetType.String(),
		"size":     rb.size,
	}).Debug("Ring buffer created")

	return rb, nil
}

func (rb *RingBuffer) slot(id int) *frame {
	return rb.frames[((id%rb.size)+rb.size)%rb.size]
}

// ReceiveSegment merges one segment into its frame. Segments of frames that
// were already rendered, skipped or overwritten are ignored. A segment that
// would overwrite a frame the renderer has not reached yet means the ring
// is full, and the whole ring is reset. When the segment completes its
// frame, OnFrameReady is called with a private copy of its bytes before
// ReceiveSegment returns.
//
// Segments with inconsistent metadata are dropped and reported as
// ErrMalformedSegment.
func (rb *RingBuffer) ReceiveSegment(seg *transport.Segment) error {
	id, data, ready, err := rb.receive(seg)
	if ready && rb.opts.OnFrameReady != nil {
		rb.opts.OnFrameReady(id, data)
	}
	return err
}

// receive runs receiveSegmentLocked under the lock. The ready frame's bytes
// are copied while locked because the renderer may recycle the slot as soon
// as the lock is released.
func (rb *RingBuffer) receive(seg *transport.Segment) (id int, data []byte, ready bool, err error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	f, err := rb.receiveSegmentLocked(seg)
	if f == nil || rb.opts.OnFrameReady == nil {
		return 0, nil, f != nil, err
	}
	return f.id, append([]byte(nil), f.data()...), true, err
}

func (rb *RingBuffer) receiveSegmentLocked(seg *transport.Segment) (*frame, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "RingBuffer.ReceiveSegment",
		"type":     rb.packetType.String(),
		"id":       seg.ID,
		"index":    seg.Index,
	})

	if seg.Type != rb.packetType {
		return nil, fmt.Errorf("%w: %v into %v ring buffer", ErrTypeMismatch, seg.Type, rb.packetType)
	}
	if err := seg.Validate(); err != nil {
		logger.WithField("error", err.Error()).Error("Dropping malformed segment")
		return nil, fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}

	rb.stats.PacketsReceived++
	now := rb.timeProvider.Now()

	if seg.ID <= rb.lastRenderedID {
		rb.stats.UnnecessaryPackets++
		logger.WithField("last_rendered_id", rb.lastRenderedID).Debug("Segment for an already rendered frame")
		return nil, nil
	}

	f := rb.slot(seg.ID)
	switch {
	case seg.ID < f.id:
		rb.stats.UnnecessaryPackets++
		logger.WithField("occupant_id", f.id).Debug("Old segment received")
		return nil, nil
	case seg.ID > f.id:
		if f.id != -1 {
			if f.id > rb.lastRenderedID {
				logger.WithFields(logrus.Fields{
					"occupant_id":      f.id,
					"last_rendered_id": rb.lastRenderedID,
				}).Error("Ring buffer is full, segment would overwrite a frame that was never rendered; resetting")
				rb.resetAllLocked()
			} else {
				f.reset(rb.alloc)
			}
		}
		f.init(seg, rb.alloc, now)
	default:
		if seg.NumIndices != f.numTotalPackets() || seg.NumFECIndices != f.numFECPackets {
			logger.WithFields(logrus.Fields{
				"num_indices":     seg.NumIndices,
				"num_fec_indices": seg.NumFECIndices,
				"frame_total":     f.numTotalPackets(),
				"frame_fec":       f.numFECPackets,
			}).Error("Dropping segment that disagrees with its frame's layout")
			return nil, fmt.Errorf("%w: layout %d+%d does not match frame %d", ErrMalformedSegment,
				seg.NumIndices-seg.NumFECIndices, seg.NumFECIndices, seg.ID)
		}
	}

	if rb.minID == -1 || seg.ID < rb.minID {
		rb.minID = seg.ID
	}
	rb.maxID = max(rb.maxID, seg.ID)

	if seg.IsANack {
		logger.WithField("needed", !f.receivedIndices[seg.Index]).Debug("Nacked segment received")
	} else {
		f.lastNonNackAt = now
	}

	if f.receivedIndices[seg.Index] {
		f.duplicatePacketsReceived++
		rb.stats.DuplicatePackets++
		if !seg.IsANack && !seg.IsADuplicate && f.numTimesIndexNacked[seg.Index] == 0 {
			logger.Error("Original segment received twice without being nacked")
		}
		return nil, nil
	}

	wasReady := f.isReady()
	stored := f.store(seg.Index, seg.Data)

	if f.fecDecoder != nil && !f.successfulFECRecovery {
		f.fecDecoder.RegisterBuffer(seg.Index, stored)
		if f.fecDecoder.CanDecode() {
			if n := f.fecDecoder.DecodedBuffer(f.fecFrameBuffer); n >= 0 {
				f.successfulFECRecovery = true
				f.fecFrameSize = n
				if f.originalPacketsReceived < f.numOriginalPackets {
					f.recoveredByFEC = true
					rb.stats.FECRecoveries++
					logger.WithFields(logrus.Fields{
						"originals_received": f.originalPacketsReceived,
						"num_original":       f.numOriginalPackets,
					}).Debug("Frame recovered with fec")
				}
			}
		}
	}

	if !wasReady && f.isReady() {
		if f.numFECPackets == 0 {
			f.compact()
		}
		rb.stats.FramesReceived++
		return f, nil
	}
	return nil, nil
}

// resetAllLocked frees every slot. The rendering frame and the render
// cursor are kept.
func (rb *RingBuffer) resetAllLocked() {
	for _, f := range rb.frames {
		if f.id != -1 {
			f.reset(rb.alloc)
		}
	}
	rb.minID = -1
	rb.maxID = -1
	rb.stats.RingBufferResets++
}

// IsReadyToRender reports whether frame id is complete or fec recovered and
// has not been passed by the renderer.
func (rb *RingBuffer) IsReadyToRender(id int) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if id <= rb.lastRenderedID {
		return false
	}
	f := rb.slot(id)
	return f.id == id && f.isReady()
}

// SetRendering moves ready frame id out of the ring and returns it. The
// previously rendering frame is released, so its Data must no longer be used.
// IDs must be strictly increasing.
func (rb *RingBuffer) SetRendering(id int) (*FrameData, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.setRenderingLocked(id)
}

// RenderIfReady checks readiness and renders frame id in one step, so a
// concurrent ring reset cannot slip in between. It returns false, without
// touching the render contract, when id is not ready or already passed.
func (rb *RingBuffer) RenderIfReady(id int) (*FrameData, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if id <= rb.lastRenderedID {
		return nil, false
	}
	if f := rb.slot(id); f.id != id || !f.isReady() {
		return nil, false
	}
	fd, err := rb.setRenderingLocked(id)
	return fd, err == nil
}

func (rb *RingBuffer) setRenderingLocked(id int) (*FrameData, error) {
	if id <= rb.lastRenderedID {
		err := fmt.Errorf("%w: id %d <= last rendered %d", ErrRenderOutOfOrder, id, rb.lastRenderedID)
		if rb.opts.StrictAssertions {
			panic(err.Error())
		}
		return nil, err
	}

	f := rb.slot(id)
	if f.id != id || !f.isReady() {
		err := fmt.Errorf("%w: id %d (slot holds %d)", ErrFrameNotReady, id, f.id)
		if rb.opts.StrictAssertions {
			panic(err.Error())
		}
		return nil, err
	}

	from := rb.lastRenderedID
	if from == -1 {
		from = rb.minID - 1
	}
	if skipped := id - from - 1; skipped > 0 {
		rb.stats.FramesSkipped += skipped
	}
	rb.lastRenderedID = id
	rb.stats.FramesRendered++

	previous := rb.rendering
	if previous.id != -1 {
		previous.reset(rb.alloc)
	}
	rb.rendering = f
	rb.frames[((id%rb.size)+rb.size)%rb.size] = previous

	return f.frameData(), nil
}

// RenderingFrame returns the frame handed out by the last SetRendering, or nil.
func (rb *RingBuffer) RenderingFrame() *FrameData {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.rendering.id == -1 {
		return nil
	}
	return rb.rendering.frameData()
}

// ResetStream skips ahead so that id is the next frame to render. Frames
// between the old render cursor and id are dropped. Moving the cursor
// backwards is a no-op.
func (rb *RingBuffer) ResetStream(id int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	target := id - 1
	if target <= rb.lastRenderedID {
		return
	}

	dropped := 0
	for _, f := range rb.frames {
		if f.id > rb.lastRenderedID && f.id <= target {
			logrus.WithFields(logrus.Fields{
				"function": "RingBuffer.ResetStream",
				"type":     rb.packetType.String(),
				"id":       f.id,
				"ready":    f.isReady(),
			}).Debug("Dropping frame")
			f.reset(rb.alloc)
			dropped++
		}
	}

	from := rb.lastRenderedID
	if from == -1 {
		from = target
		if rb.minID != -1 {
			from = rb.minID - 1
		}
	}
	if skipped := target - from; skipped > 0 {
		rb.stats.FramesSkipped += skipped
	}

	logrus.WithFields(logrus.Fields{
		"function":         "RingBuffer.ResetStream",
		"type":             rb.packetType.String(),
		"last_rendered_id": rb.lastRenderedID,
		"next_id":          id,
		"frames_dropped":   dropped,
	}).Info("Jumping ahead after stream reset")

	rb.lastRenderedID = target
}

// MinID returns the lowest frame ID seen since the last ring reset, or -1.
func (rb *RingBuffer) MinID() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.minID
}

// MaxID returns the highest frame ID seen since the last ring reset, or -1.
func (rb *RingBuffer) MaxID() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.maxID
}

// LastRenderedID returns the ID of the last rendered or skipped frame, or -1.
func (rb *RingBuffer) LastRenderedID() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lastRenderedID
}

// Type returns the stream this ring buffer reassembles.
func (rb *RingBuffer) Type() transport.PacketType {
	return rb.packetType
}

// Close releases every buffer, including the rendering frame's.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, f := range rb.frames {
		if f.id != -1 {
			f.reset(rb.alloc)
		}
	}
	if rb.rendering.id != -1 {
		rb.rendering.reset(rb.alloc)
	}
}
