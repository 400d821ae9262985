package fec

import (
	"fmt"
	"sync"
)

// MaxCodecShards is the largest (k + fec) a single Reed-Solomon group may use.
const MaxCodecShards = 256

var (
	limitsMu         sync.RWMutex
	maxGroupSize     = MaxCodecShards
	maxGroupOverhead = 20.0
)

// SetMaxGroupSize sets the largest number of buffers (original + fec) in one
// group and returns the previous value. Values below 1 are ignored and
// values above MaxCodecShards are clamped to it.
func SetMaxGroupSize(size int) int {
	limitsMu.Lock()
	defer limitsMu.Unlock()
	prev := maxGroupSize
	if size > 0 {
		maxGroupSize = min(size, MaxCodecShards)
	}
	return prev
}

// SetMaxGroupOverhead sets the overhead ceiling of the largest group and
// returns the previous value. Values not above 0 are ignored.
func SetMaxGroupOverhead(overhead float64) float64 {
	limitsMu.Lock()
	defer limitsMu.Unlock()
	prev := maxGroupOverhead
	if overhead > 0 {
		maxGroupOverhead = overhead
	}
	return prev
}

// groupOverhead approximates the per-buffer cost of coding a group with r
// original and f redundant buffers.
func groupOverhead(r, f int) float64 {
	if r+f == 0 {
		return 0
	}
	return float64(r) * float64(f) / float64(r+f)
}

func divRoundUp(a, b int) int {
	return (a + b - 1) / b
}

// partitionCount is the number of items out of total that land in groupID
// when items are dealt round-robin over numGroups groups.
func partitionCount(total, groupID, numGroups int) int {
	if groupID >= total {
		return 0
	}
	return divRoundUp(total-groupID, numGroups)
}

type groupInfo struct {
	numReal    int
	numFEC     int
	registered int
}

// GroupCode codes an arbitrary number of buffers with a Reed-Solomon codec
// limited to MaxCodecShards shards by splitting them into interleaved groups.
// Original buffer i belongs to group i mod g at sub-index i div g; fec buffer
// numReal+j belongs to group j mod g at sub-index groupReal + j div g.
//
// A GroupCode is not safe for concurrent use.
type GroupCode struct {
	numReal       int
	numFEC        int
	groups        []groupInfo
	pendingGroups int
}

// NewGroupCode plans the grouping for numReal original buffers out of numTotal.
// It panics if numReal < 1 or numTotal < numReal.
func NewGroupCode(numReal, numTotal int) *GroupCode {
	if numReal < 1 {
		panic(fmt.Sprintf("fec: group code needs at least one original buffer, got %d", numReal))
	}
	if numTotal < numReal {
		panic(fmt.Sprintf("fec: total buffers %d smaller than original buffers %d", numTotal, numReal))
	}

	numFEC := numTotal - numReal
	return newGroupCode(numReal, numFEC, chooseNumGroups(numReal, numFEC))
}

// chooseNumGroups finds the smallest group count satisfying the size and
// overhead limits, falling back to one group per original buffer.
func chooseNumGroups(numReal, numFEC int) int {
	limitsMu.RLock()
	sizeLimit, overheadLimit := maxGroupSize, maxGroupOverhead
	limitsMu.RUnlock()

	for g := 1; g < numReal; g++ {
		r := divRoundUp(numReal, g)
		f := divRoundUp(numFEC, g)
		if r+f <= sizeLimit && groupOverhead(r, f) <= overheadLimit {
			return g
		}
	}
	return numReal
}

func newGroupCode(numReal, numFEC, numGroups int) *GroupCode {
	if numGroups < 1 || numGroups > numReal {
		panic(fmt.Sprintf("fec: invalid group count %d for %d original buffers", numGroups, numReal))
	}

	c := &GroupCode{
		numReal: numReal,
		numFEC:  numFEC,
		groups:  make([]groupInfo, numGroups),
	}
	for i := range c.groups {
		c.groups[i].numReal = partitionCount(numReal, i, numGroups)
		c.groups[i].numFEC = partitionCount(numFEC, i, numGroups)
		// Duplication groups never reach the codec, so only k > 1 is bounded.
		if n := c.groups[i].numReal + c.groups[i].numFEC; c.groups[i].numReal > 1 && n > MaxCodecShards {
			panic(fmt.Sprintf("fec: group %d needs %d shards, limit is %d", i, n, MaxCodecShards))
		}
	}
	c.Reset()
	return c
}

// NumGroups returns the number of groups the buffers are split into.
func (c *GroupCode) NumGroups() int {
	return len(c.groups)
}

// NumReal returns the number of original buffers.
func (c *GroupCode) NumReal() int {
	return c.numReal
}

// NumTotal returns the number of original plus fec buffers.
func (c *GroupCode) NumTotal() int {
	return c.numReal + c.numFEC
}

// GroupSizes returns the (original, fec) buffer counts of group g.
func (c *GroupCode) GroupSizes(g int) (numReal, numFEC int) {
	return c.groups[g].numReal, c.groups[g].numFEC
}

// fullToSub maps a full buffer index to its group and sub-index.
func (c *GroupCode) fullToSub(index int) (group, sub int) {
	if index < 0 || index >= c.NumTotal() {
		panic(fmt.Sprintf("fec: buffer index %d out of range [0, %d)", index, c.NumTotal()))
	}
	g := len(c.groups)
	if index < c.numReal {
		return index % g, index / g
	}
	j := index - c.numReal
	group = j % g
	return group, c.groups[group].numReal + j/g
}

// subToFull maps a group and sub-index back to the full buffer index.
func (c *GroupCode) subToFull(group, sub int) int {
	g := len(c.groups)
	if sub < c.groups[group].numReal {
		return group + sub*g
	}
	return c.numReal + group + (sub-c.groups[group].numReal)*g
}

// gather collects the buffers of one group in sub-index order.
func (c *GroupCode) gather(buffers [][]byte, group int) [][]byte {
	info := c.groups[group]
	shards := make([][]byte, info.numReal+info.numFEC)
	for sub := range shards {
		shards[sub] = buffers[c.subToFull(group, sub)]
	}
	return shards
}

// Encode fills the fec buffers from the original buffers.
//
// buffers must hold NumTotal entries of equal length; entries [0, NumReal)
// carry the original data and entries [NumReal, NumTotal) are overwritten
// with redundancy.
func (c *GroupCode) Encode(buffers [][]byte) {
	if len(buffers) != c.NumTotal() {
		panic(fmt.Sprintf("fec: encode got %d buffers, want %d", len(buffers), c.NumTotal()))
	}
	if c.numFEC == 0 {
		return
	}

	for group := range c.groups {
		info := c.groups[group]
		if info.numFEC == 0 {
			continue
		}
		shards := c.gather(buffers, group)
		encodeOrDup(info.numReal, shards)
	}
}

// encodeOrDup runs the codec for one group, or copies the single original
// into every redundant slot when k is 1.
func encodeOrDup(k int, shards [][]byte) {
	if k == 1 {
		for i := 1; i < len(shards); i++ {
			copy(shards[i], shards[0])
		}
		return
	}
	if err := sharedCodecs.get(k, len(shards)).Encode(shards); err != nil {
		panic(fmt.Sprintf("fec: encode k=%d n=%d failed: %v", k, len(shards), err))
	}
}

// RegisterIndex records the arrival of buffer index for decode readiness.
// Each index must be registered at most once between resets.
func (c *GroupCode) RegisterIndex(index int) {
	group, _ := c.fullToSub(index)
	info := &c.groups[group]
	info.registered++
	if info.registered == info.numReal {
		c.pendingGroups--
	}
}

// CanDecode reports whether every group has received at least its own number
// of original buffers.
func (c *GroupCode) CanDecode() bool {
	if c.pendingGroups < 0 {
		panic("fec: pending group count went negative")
	}
	return c.pendingGroups == 0
}

// Reset clears all registrations.
func (c *GroupCode) Reset() {
	c.pendingGroups = len(c.groups)
	for i := range c.groups {
		c.groups[i].registered = 0
	}
}

// Decode reconstructs missing original buffers in place.
//
// buffers must hold NumTotal entries; missing buffers are nil and every
// present buffer has the same length. On return entries [0, NumReal) are
// populated. Decode panics if CanDecode is false.
func (c *GroupCode) Decode(buffers [][]byte) {
	if len(buffers) != c.NumTotal() {
		panic(fmt.Sprintf("fec: decode got %d buffers, want %d", len(buffers), c.NumTotal()))
	}
	if !c.CanDecode() {
		panic("fec: decode called before every group can decode")
	}

	for group := range c.groups {
		info := c.groups[group]
		shards := c.gather(buffers, group)
		if realComplete(shards[:info.numReal]) {
			continue
		}
		decodeOrDedup(info.numReal, shards)
		for sub := 0; sub < info.numReal; sub++ {
			buffers[c.subToFull(group, sub)] = shards[sub]
		}
	}
}

// realComplete reports whether every original shard of a group is present.
func realComplete(shards [][]byte) bool {
	for _, s := range shards {
		if s == nil {
			return false
		}
	}
	return true
}

// decodeOrDedup reconstructs the original shards of one group. With k of 1
// any present copy is the original.
func decodeOrDedup(k int, shards [][]byte) {
	if k == 1 {
		for _, s := range shards {
			if s != nil {
				shards[0] = s
				return
			}
		}
		panic("fec: duplication group has no buffer")
	}
	if err := sharedCodecs.get(k, len(shards)).ReconstructData(shards); err != nil {
		panic(fmt.Sprintf("fec: reconstruct k=%d n=%d failed: %v", k, len(shards), err))
	}
}
