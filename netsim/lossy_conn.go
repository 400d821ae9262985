package netsim

import (
	"math/rand"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// DeliveryRecord describes one datagram written through a LossyPacketConn.
type DeliveryRecord struct {
	To      string
	Size    int
	Dropped bool
}

// Stats counts datagrams written through a LossyPacketConn.
type Stats struct {
	Sent    int
	Dropped int
}

// LossyPacketConn wraps a net.PacketConn and drops outgoing datagrams,
// either at random with the configured loss rate or on demand. Reads pass
// through unchanged.
type LossyPacketConn struct {
	net.PacketConn

	mu          sync.Mutex
	rng         *rand.Rand
	lossRate    float64
	dropNext    int
	keepEmpty   bool
	recordLimit int
	records     []DeliveryRecord
	stats       Stats
}

// NewLossyPacketConn wraps pc. Loss starts disabled; seed makes the random
// drops reproducible. Empty datagrams are never dropped.
func NewLossyPacketConn(pc net.PacketConn, seed int64) *LossyPacketConn {
	logrus.WithFields(logrus.Fields{
		"function": "NewLossyPacketConn",
		"local":    pc.LocalAddr().String(),
		"seed":     seed,
	}).Debug("Creating lossy packet conn")

	return &LossyPacketConn{
		PacketConn: pc,
		rng:        rand.New(rand.NewSource(seed)),
		keepEmpty:  true,
	}
}

// SetLossRate sets the probability in [0, 1] that a datagram is dropped.
func (c *LossyPacketConn) SetLossRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lossRate = min(max(rate, 0), 1)
}

// DropNext drops the next n non-empty datagrams regardless of the loss rate.
func (c *LossyPacketConn) DropNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropNext = n
}

// RecordDeliveries keeps the last limit delivery records for inspection.
// Zero disables recording.
func (c *LossyPacketConn) RecordDeliveries(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLimit = limit
	c.records = nil
}

// Deliveries returns the recorded delivery records, oldest first.
func (c *LossyPacketConn) Deliveries() []DeliveryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DeliveryRecord(nil), c.records...)
}

// Stats returns the datagram counters.
func (c *LossyPacketConn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// WriteTo sends b unless it is chosen to be dropped, in which case it
// reports success without sending anything.
func (c *LossyPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.shouldDrop(b, addr) {
		return len(b), nil
	}
	return c.PacketConn.WriteTo(b, addr)
}

func (c *LossyPacketConn) shouldDrop(b []byte, addr net.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := false
	if len(b) > 0 || !c.keepEmpty {
		switch {
		case c.dropNext > 0:
			c.dropNext--
			drop = true
		case c.lossRate > 0:
			drop = c.rng.Float64() < c.lossRate
		}
	}

	c.stats.Sent++
	if drop {
		c.stats.Dropped++
		logrus.WithFields(logrus.Fields{
			"function": "LossyPacketConn.WriteTo",
			"to":       addr.String(),
			"size":     len(b),
		}).Trace("Dropping datagram")
	}
	if c.recordLimit > 0 {
		c.records = append(c.records, DeliveryRecord{To: addr.String(), Size: len(b), Dropped: drop})
		if len(c.records) > c.recordLimit {
			c.records = c.records[len(c.records)-c.recordLimit:]
		}
	}
	return drop
}
