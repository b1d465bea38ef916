package multipart

import (
	"sync"
	"time"
)

// Stats tracks part upload timings for hung detection and reporting.
type Stats struct {
	sum           time.Duration
	finishedParts int64
	failedTries   int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedParts++
}

// RecordFailure counts a failed part attempt.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedTries++
}

// Average returns the average upload duration of the finished parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedParts == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedParts)
}

// FinishedCount returns the number of finished part uploads.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedParts
}

// FailedAttempts returns the number of part attempts that failed and were retried or given up.
func (s *Stats) FailedAttempts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedTries
}

// TotalDuration returns the sum of all part upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
