package transport

import "time"

// TimeProvider supplies the current time. Ping liveness here and the nack
// windows, staleness and reset throttling in ringbuffer all read the clock
// through it, so tests can drive them with a mock.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

// Now returns time.Now().
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

var defaultTimeProvider TimeProvider = RealTimeProvider{}

// SetDefaultTimeProvider replaces the clock used when Options leave
// TimeProvider nil. Passing nil restores the system clock.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	defaultTimeProvider = tp
}

// TimeProviderOrDefault returns tp, or the package default when tp is nil.
func TimeProviderOrDefault(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return defaultTimeProvider
}
