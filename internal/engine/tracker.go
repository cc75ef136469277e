package engine

import (
	"sync"
	"time"
)

// Tracker collects baseline usage metrics for the engine instance that owns
// it. It is an explicit per-engine object so two engines in one process
// never share counters.
type Tracker struct {
	mu         sync.Mutex
	adds       int
	recalls    int
	emptyHits  int
	resultsSum int
	since      time.Time
}

// TrackerStats is a point-in-time snapshot of the counters.
type TrackerStats struct {
	Adds          int       `json:"adds"`
	Recalls       int       `json:"recalls"`
	EmptyRecalls  int       `json:"empty_recalls"`
	AvgResultSize float64   `json:"avg_result_size"`
	Since         time.Time `json:"since"`
}

// NewTracker creates a tracker starting now.
func NewTracker() *Tracker {
	return &Tracker{since: time.Now()}
}

// RecordAdd counts one stored memory.
func (t *Tracker) RecordAdd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adds++
}

// RecordRecall counts one recall and its result size.
func (t *Tracker) RecordRecall(results int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recalls++
	t.resultsSum += results
	if results == 0 {
		t.emptyHits++
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	avg := 0.0
	if t.recalls > 0 {
		avg = float64(t.resultsSum) / float64(t.recalls)
	}
	return TrackerStats{
		Adds:          t.adds,
		Recalls:       t.recalls,
		EmptyRecalls:  t.emptyHits,
		AvgResultSize: avg,
		Since:         t.since,
	}
}

// Reset zeroes the counters and restarts the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adds = 0
	t.recalls = 0
	t.emptyHits = 0
	t.resultsSum = 0
	t.since = time.Now()
}
