package ringbuffer

import (
	"time"

	"github.com/opd-ai/whistcore/fec"
	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
)

// frame is one slot of the ring buffer. Segment index i is stored at
// i*limits.MaxPacketSegmentSize in packetBuffer.
type frame struct {
	id         int
	packetType transport.PacketType

	numOriginalPackets int
	numFECPackets      int

	receivedIndices     []bool
	segmentSizes        []int
	numTimesIndexNacked []int

	originalPacketsReceived  int
	fecPacketsReceived       int
	duplicatePacketsReceived int

	packetBuffer []byte
	frameSize    int

	fecDecoder            *fec.Decoder
	fecFrameBuffer        []byte
	fecFrameSize          int
	successfulFECRecovery bool
	recoveredByFEC        bool

	// nack bookkeeping
	lastNackedIndex int
	recoveryMode    bool
	numNackCycles   int
	lastCycleEnd    time.Time
	createdAt       time.Time
	lastNonNackAt   time.Time
}

func newFrame(maxPackets int) *frame {
	return &frame{
		id:                  -1,
		receivedIndices:     make([]bool, maxPackets),
		segmentSizes:        make([]int, maxPackets),
		numTimesIndexNacked: make([]int, maxPackets),
	}
}

// init prepares an empty slot for frame id, taking buffers from alloc.
func (f *frame) init(seg *transport.Segment, alloc *blockAllocator, now time.Time) {
	numTotal := seg.NumIndices
	f.id = seg.ID
	f.packetType = seg.Type
	f.numFECPackets = seg.NumFECIndices
	f.numOriginalPackets = numTotal - seg.NumFECIndices

	clear(f.receivedIndices[:numTotal])
	clear(f.segmentSizes[:numTotal])
	clear(f.numTimesIndexNacked[:numTotal])
	f.receivedIndices = f.receivedIndices[:numTotal]
	f.segmentSizes = f.segmentSizes[:numTotal]
	f.numTimesIndexNacked = f.numTimesIndexNacked[:numTotal]

	f.originalPacketsReceived = 0
	f.fecPacketsReceived = 0
	f.duplicatePacketsReceived = 0
	f.frameSize = 0

	if f.packetBuffer == nil {
		f.packetBuffer = alloc.get()
	}
	f.fecDecoder = nil
	if f.numFECPackets > 0 {
		f.fecDecoder = fec.NewDecoder(f.numOriginalPackets, f.numFECPackets, limits.MaxPacketSegmentSize)
		if f.fecFrameBuffer == nil {
			f.fecFrameBuffer = alloc.get()
		}
	}
	f.fecFrameSize = 0
	f.successfulFECRecovery = false
	f.recoveredByFEC = false

	f.lastNackedIndex = -1
	f.recoveryMode = false
	f.numNackCycles = 0
	f.lastCycleEnd = time.Time{}
	f.createdAt = now
	f.lastNonNackAt = now
}

// reset frees the slot and returns its buffers to alloc.
func (f *frame) reset(alloc *blockAllocator) {
	alloc.put(f.packetBuffer)
	alloc.put(f.fecFrameBuffer)
	f.packetBuffer = nil
	f.fecFrameBuffer = nil
	f.fecDecoder = nil
	f.id = -1
}

func (f *frame) numTotalPackets() int {
	return f.numOriginalPackets + f.numFECPackets
}

// isReady reports whether the frame's bytes can be handed to the renderer.
func (f *frame) isReady() bool {
	if f.id == -1 {
		return false
	}
	if f.numFECPackets == 0 {
		return f.originalPacketsReceived == f.numOriginalPackets
	}
	return f.successfulFECRecovery
}

// store copies a segment payload into its place in the packet buffer.
func (f *frame) store(index int, data []byte) []byte {
	off := index * limits.MaxPacketSegmentSize
	n := copy(f.packetBuffer[off:off+limits.MaxPacketSegmentSize], data)
	f.receivedIndices[index] = true
	f.segmentSizes[index] = n
	if index < f.numOriginalPackets {
		f.originalPacketsReceived++
		f.frameSize += n
	} else {
		f.fecPacketsReceived++
	}
	return f.packetBuffer[off : off+n]
}

// compact moves the original segments of a complete frame without fec so
// that they are contiguous from the start of the packet buffer. Senders
// fill every segment but the last, in which case nothing moves.
func (f *frame) compact() {
	pos := 0
	for i := 0; i < f.numOriginalPackets; i++ {
		off := i * limits.MaxPacketSegmentSize
		if off != pos {
			copy(f.packetBuffer[pos:], f.packetBuffer[off:off+f.segmentSizes[i]])
		}
		pos += f.segmentSizes[i]
	}
}

// data returns the reassembled frame. Only meaningful once isReady is true.
func (f *frame) data() []byte {
	if f.numFECPackets > 0 {
		return f.fecFrameBuffer[:f.fecFrameSize]
	}
	return f.packetBuffer[:f.frameSize]
}

// highestReceivedIndex returns the largest received index, or 0 if none.
func (f *frame) highestReceivedIndex() int {
	for i := len(f.receivedIndices) - 1; i >= 0; i-- {
		if f.receivedIndices[i] {
			return i
		}
	}
	return 0
}

// FrameData describes a frame handed to the renderer.
type FrameData struct {
	ID         int
	PacketType transport.PacketType
	// Data is the reassembled frame. It stays valid until the next
	// SetRendering call on the same ring buffer.
	Data []byte

	NumOriginalPackets       int
	NumFECPackets            int
	OriginalPacketsReceived  int
	DuplicatePacketsReceived int
	// FECRecovered is set when fec reconstructed at least one missing original.
	FECRecovered bool
	CreatedAt    time.Time
}

func (f *frame) frameData() *FrameData {
	return &FrameData{
		ID:                       f.id,
		PacketType:               f.packetType,
		Data:                     f.data(),
		NumOriginalPackets:       f.numOriginalPackets,
		NumFECPackets:            f.numFECPackets,
		OriginalPacketsReceived:  f.originalPacketsReceived,
		DuplicatePacketsReceived: f.duplicatePacketsReceived,
		FECRecovered:             f.recoveredByFEC,
		CreatedAt:                f.createdAt,
	}
}
