package ringbuffer

// Statistics counts ring buffer events since the previous Statistics call.
type Statistics struct {
	PacketsReceived     int
	PacketsNacked       int
	FramesReceived      int
	FramesSkipped       int
	FramesRendered      int
	DuplicatePackets    int
	UnnecessaryPackets  int
	FECRecoveries       int
	RingBufferResets    int
	StreamResetRequests int
}

// Add accumulates other into s.
func (s *Statistics) Add(other Statistics) {
	s.PacketsReceived += other.PacketsReceived
	s.PacketsNacked += other.PacketsNacked
	s.FramesReceived += other.FramesReceived
	s.FramesSkipped += other.FramesSkipped
	s.FramesRendered += other.FramesRendered
	s.DuplicatePackets += other.DuplicatePackets
	s.UnnecessaryPackets += other.UnnecessaryPackets
	s.FECRecoveries += other.FECRecoveries
	s.RingBufferResets += other.RingBufferResets
	s.StreamResetRequests += other.StreamResetRequests
}

// Statistics returns the counters gathered since the last call and clears them.
func (rb *RingBuffer) Statistics() Statistics {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	s := rb.stats
	rb.stats = Statistics{}
	return s
}
