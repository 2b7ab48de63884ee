// Package mock has mocks for testing.
package mock

import (
	"sync"
	"time"
)

// RecordingStatter records counts for later inspection.
type RecordingStatter struct {
	lock   sync.Mutex
	Counts map[string]int64
}

// Count records the value against the named counter.
func (s *RecordingStatter) Count(name string, value int64, rate float64, tags ...string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Counts == nil {
		s.Counts = make(map[string]int64)
	}
	s.Counts[name] += value
}

// CountFor returns the recorded value for name.
func (s *RecordingStatter) CountFor(name string) int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Counts[name]
}

// Gauge is a no-op.
func (s *RecordingStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram is a no-op.
func (s *RecordingStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set is a no-op.
func (s *RecordingStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing is a no-op.
func (s *RecordingStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}
