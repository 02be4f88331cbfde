// Package stats aggregates per-command results into a run summary.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// digestCompression keeps roughly 100 centroids, enough for p99 on long runs.
const digestCompression = 100

// Summary accumulates ended commands. It is safe for concurrent use.
type Summary struct {
	mu            sync.Mutex
	digest        *tdigest.TDigest // nanoseconds; TDigest is not thread-safe
	succeeded     int
	failed        int
	spawnFailures int
	total         time.Duration
	minDuration   time.Duration
	maxDuration   time.Duration
	wall          time.Duration
	failures      []Failure
}

// Failure identifies a command that did not exit with status 0.
type Failure struct {
	ID       int
	Command  string
	ExitCode int
}

// Snapshot is a point-in-time copy of a Summary.
type Snapshot struct {
	Succeeded     int
	Failed        int
	SpawnFailures int
	Total         time.Duration
	Min           time.Duration
	Max           time.Duration
	P50           time.Duration
	P90           time.Duration
	P99           time.Duration
	Wall          time.Duration
	Failures      []Failure
}

// Count returns the number of commands recorded.
func (s Snapshot) Count() int {
	return s.Succeeded + s.Failed + s.SpawnFailures
}

// OK reports whether every recorded command succeeded.
func (s Snapshot) OK() bool {
	return s.Failed == 0 && s.SpawnFailures == 0
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{
		digest:      tdigest.NewWithCompression(digestCompression),
		minDuration: -1,
	}
}

// Record adds a process that ran and exited with exitCode after duration.
func (s *Summary) Record(id int, command string, exitCode int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exitCode == 0 {
		s.succeeded++
	} else {
		s.failed++
		s.failures = append(s.failures, Failure{ID: id, Command: command, ExitCode: exitCode})
	}

	s.digest.Add(float64(duration.Nanoseconds()), 1)
	s.total += duration
	if s.minDuration < 0 || duration < s.minDuration {
		s.minDuration = duration
	}
	if duration > s.maxDuration {
		s.maxDuration = duration
	}
}

// RecordSpawnFailure adds a command that could not be started. It has no
// duration and is left out of the percentiles.
func (s *Summary) RecordSpawnFailure(id int, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spawnFailures++
	s.failures = append(s.failures, Failure{ID: id, Command: command, ExitCode: -1})
}

// SetWallTime records how long the whole run took.
func (s *Summary) SetWallTime(d time.Duration) {
	s.mu.Lock()
	s.wall = d
	s.mu.Unlock()
}

// Snapshot returns the current totals and duration percentiles.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Succeeded:     s.succeeded,
		Failed:        s.failed,
		SpawnFailures: s.spawnFailures,
		Total:         s.total,
		Max:           s.maxDuration,
		Wall:          s.wall,
		Failures:      append([]Failure(nil), s.failures...),
	}
	if s.minDuration >= 0 {
		snap.Min = s.minDuration
	}
	if s.succeeded+s.failed > 0 {
		snap.P50 = s.quantile(0.50)
		snap.P90 = s.quantile(0.90)
		snap.P99 = s.quantile(0.99)
	}
	return snap
}

// quantile clamps the digest estimate to the observed range. Caller holds mu.
func (s *Summary) quantile(q float64) time.Duration {
	d := time.Duration(s.digest.Quantile(q))
	if d < s.minDuration {
		return s.minDuration
	}
	if d > s.maxDuration {
		return s.maxDuration
	}
	return d
}
