package ringbuffer

import (
	"time"

	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/transport"
	"github.com/sirupsen/logrus"
)

const segmentBits = float64(limits.MaxPayloadSize * 8)

// nackBudget returns how many segments may be nacked per window at the given bitrate.
func nackBudget(bitrate int, window time.Duration) int {
	return int(float64(bitrate) * NackBitrateFraction * window.Seconds() / segmentBits)
}

// TryRecoveringMissingPacketsOrFrames nacks missing segments of the frames
// waiting to be rendered, within the nack bandwidth budget derived from
// settings, and requests a stream reset when the renderer has fallen too
// far behind. It should be called periodically by the goroutine feeding
// ReceiveSegment. latency is the current round trip estimate.
//
// Returns false when the average nack budget is exhausted.
func (rb *RingBuffer) TryRecoveringMissingPacketsOrFrames(latency time.Duration, settings transport.NetworkSettings) bool {
	rb.mu.Lock()
	now := rb.timeProvider.Now()
	nackingSucceeded := rb.tryNackingLocked(now, latency, settings)
	nacks := rb.pendingNacks
	rb.pendingNacks = nil
	resetID, reset := rb.checkStreamResetLocked(now, latency, settings, nackingSucceeded)
	rb.mu.Unlock()

	if rb.opts.OnNack != nil {
		for _, n := range nacks {
			rb.opts.OnNack(rb.packetType, n.id, n.index)
		}
	}
	if reset && rb.opts.OnStreamReset != nil {
		rb.opts.OnStreamReset(rb.packetType, resetID)
	}
	return nackingSucceeded
}

// nextRenderIDLocked returns the first ID the renderer still waits for.
func (rb *RingBuffer) nextRenderIDLocked() int {
	if rb.lastRenderedID == -1 {
		return rb.minID
	}
	return rb.lastRenderedID + 1
}

func (rb *RingBuffer) tryNackingLocked(now time.Time, latency time.Duration, settings transport.NetworkSettings) bool {
	if rb.maxID == -1 {
		return true
	}

	if rb.burstStart.IsZero() || now.Sub(rb.burstStart) > BurstWindow {
		rb.burstStart = now
		rb.burstCount = 0
	}
	if rb.avgStart.IsZero() || now.Sub(rb.avgStart) > AverageWindow {
		rb.avgStart = now
		rb.avgCount = 0
	}

	burstRemaining := max(1, nackBudget(settings.BurstBitrate, BurstWindow)) - rb.burstCount
	avgRemaining := nackBudget(settings.Bitrate, AverageWindow) - rb.avgCount
	maxNacks := min(burstRemaining, avgRemaining)

	logger := logrus.WithFields(logrus.Fields{
		"function": "RingBuffer.TryRecoveringMissingPacketsOrFrames",
		"type":     rb.packetType.String(),
	})

	if maxNacks <= 0 {
		if avgRemaining <= 0 && rb.nackingPossible {
			logger.WithFields(logrus.Fields{
				"bitrate":   settings.Bitrate,
				"avg_nacks": rb.avgCount,
			}).Warn("Nacking saturated, hit the nack bitrate limit")
			rb.nackingPossible = false
		}
		return avgRemaining > 0
	}
	if !rb.nackingPossible {
		logger.Info("Nacking is possible again")
		rb.nackingPossible = true
	}

	nacked := 0
	for id := rb.nextRenderIDLocked(); id <= rb.maxID && nacked < maxNacks; id++ {
		f := rb.slot(id)
		if f.id != id {
			nacked += rb.nackMissingFrameLocked(id, maxNacks-nacked)
			continue
		}
		if f.isReady() {
			continue
		}

		if !f.recoveryMode {
			idle := now.Sub(f.lastNonNackAt) > time.Duration(float64(latency)*RecoveryIdleRatio)
			if id < rb.maxID || idle {
				logger.WithFields(logrus.Fields{
					"id":         id,
					"newer_seen": id < rb.maxID,
				}).Debug("Entering recovery mode")
				f.recoveryMode = true
			}
		}

		if !f.recoveryMode {
			upTo := min(f.highestReceivedIndex()-MaxUnorderedPackets, f.numOriginalPackets-1)
			nacked += rb.nackMissingUpToLocked(f, upTo, maxNacks-nacked)
			continue
		}

		cycle := time.Duration(float64(latency) * (1 + JitterRatio))
		if f.numNackCycles > 0 && now.Sub(f.lastCycleEnd) <= cycle {
			continue
		}
		nacked += rb.nackMissingUpToLocked(f, f.numOriginalPackets-1, maxNacks-nacked)
		if f.lastNackedIndex >= f.numOriginalPackets-1 || !f.hasNackableIndex() {
			f.lastNackedIndex = -1
			f.lastCycleEnd = now
			f.numNackCycles++
			logger.WithFields(logrus.Fields{
				"id":    id,
				"cycle": f.numNackCycles,
			}).Debug("Recovery nack cycle finished")
		}
	}

	if nacked > 0 {
		logger.WithFields(logrus.Fields{
			"nacked":    nacked,
			"max_nacks": maxNacks,
		}).Debug("Nacked packets this round")
	}
	rb.burstCount += nacked
	rb.avgCount += nacked
	rb.stats.PacketsNacked += nacked
	return true
}

// nackMissingFrameLocked nacks the leading indices of a frame of which
// nothing has arrived. Progress is kept across calls so a frame's indices
// are requested once each.
func (rb *RingBuffer) nackMissingFrameLocked(id, budget int) int {
	if id <= rb.lastMissingFrameID {
		return 0
	}
	if id != rb.missingFrameID {
		rb.missingFrameID = id
		rb.missingFrameNextIdx = 0
	}

	limit := min(NackPacketsMissingFrame, rb.maxPackets)
	nacked := 0
	for ; rb.missingFrameNextIdx < limit && nacked < budget; rb.missingFrameNextIdx++ {
		rb.pendingNacks = append(rb.pendingNacks, nackRequest{id: id, index: rb.missingFrameNextIdx})
		nacked++
	}
	if rb.missingFrameNextIdx == limit {
		rb.lastMissingFrameID = id
		logrus.WithFields(logrus.Fields{
			"function": "RingBuffer.TryRecoveringMissingPacketsOrFrames",
			"type":     rb.packetType.String(),
			"id":       id,
		}).Debug("Nacked missing frame")
	}
	return nacked
}

// nackMissingUpToLocked nacks missing indices after the frame's last nacked
// index up to and including upTo, each at most MaxPacketNacks times.
func (rb *RingBuffer) nackMissingUpToLocked(f *frame, upTo, budget int) int {
	upTo = min(upTo, len(f.receivedIndices)-1)
	nacked := 0
	for i := f.lastNackedIndex + 1; i <= upTo && nacked < budget; i++ {
		if f.receivedIndices[i] || f.numTimesIndexNacked[i] >= MaxPacketNacks {
			continue
		}
		rb.pendingNacks = append(rb.pendingNacks, nackRequest{id: f.id, index: i})
		f.numTimesIndexNacked[i]++
		f.lastNackedIndex = i
		nacked++
	}
	return nacked
}

// hasNackableIndex reports whether any original index after lastNackedIndex
// could still be nacked.
func (f *frame) hasNackableIndex() bool {
	for i := f.lastNackedIndex + 1; i < f.numOriginalPackets; i++ {
		if !f.receivedIndices[i] && f.numTimesIndexNacked[i] < MaxPacketNacks {
			return true
		}
	}
	return false
}

// acceptableStaleness bounds how long frame f may stay incomplete.
func acceptableStaleness(f *frame, latency time.Duration, bitrate int) time.Duration {
	var transmission time.Duration
	if bitrate > 0 {
		bits := float64(f.numOriginalPackets) * segmentBits
		transmission = time.Duration(bits / float64(bitrate) * float64(time.Second))
	}
	jitter := time.Duration(float64(latency) * JitterRatio)
	return min(max(transmission+latency+jitter, MinStaleness), MaxStaleness)
}

// checkStreamResetLocked decides whether a stream reset should be requested
// and for which failed ID.
func (rb *RingBuffer) checkStreamResetLocked(now time.Time, latency time.Duration, settings transport.NetworkSettings, nackingSucceeded bool) (int, bool) {
	if rb.maxID == -1 {
		return 0, false
	}

	nextID := rb.nextRenderIDLocked()
	reason := ""
	switch {
	case !nackingSucceeded:
		reason = "nacking saturated"
	case rb.maxID-nextID >= MaxUnsyncedFrames:
		reason = "too many unsynced frames"
	default:
		for id := nextID; id <= rb.maxID; id++ {
			f := rb.slot(id)
			if f.id != id || f.isReady() {
				continue
			}
			if now.Sub(f.createdAt) > acceptableStaleness(f, latency, settings.Bitrate) {
				reason = "stale frame"
				break
			}
		}
	}
	if reason == "" {
		return 0, false
	}

	lastFailedID := max(nextID, rb.maxID-1)
	if lastFailedID <= rb.lastStreamResetID {
		return 0, false
	}
	if !rb.lastStreamResetAt.IsZero() && now.Sub(rb.lastStreamResetAt) < StreamResetRequestInterval {
		return 0, false
	}

	logrus.WithFields(logrus.Fields{
		"function":       "RingBuffer.TryRecoveringMissingPacketsOrFrames",
		"type":           rb.packetType.String(),
		"reason":         reason,
		"last_failed_id": lastFailedID,
		"next_id":        nextID,
		"max_id":         rb.maxID,
	}).Warn("Requesting stream reset")

	rb.lastStreamResetAt = now
	rb.lastStreamResetID = lastFailedID
	rb.stats.StreamResetRequests++
	return lastFailedID, true
}
