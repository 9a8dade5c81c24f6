package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/costcluster/pkg/pipeline"
)

// RunMonitor keeps the most recent pipeline runs and tracks failures.
type RunMonitor struct {
	limit      int
	staleAfter time.Duration

	mu                sync.RWMutex
	runs              []*pipeline.Run // oldest first
	total             int
	failures          int
	consecutiveErrors int
	lastSuccess       time.Time
}

// NewRunMonitor creates a monitor keeping up to limit runs. A successful
// run older than staleAfter is reported stale.
func NewRunMonitor(limit int, staleAfter time.Duration) *RunMonitor {
	if limit < 1 {
		limit = 1
	}
	return &RunMonitor{limit: limit, staleAfter: staleAfter}
}

// Record adds a finished run, evicting the oldest beyond the limit.
func (rm *RunMonitor) Record(run *pipeline.Run) {
	if run == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.runs = append(rm.runs, run)
	if len(rm.runs) > rm.limit {
		rm.runs = rm.runs[len(rm.runs)-rm.limit:]
	}
	rm.total++
	if run.Error != "" {
		rm.failures++
		rm.consecutiveErrors++
		return
	}
	rm.consecutiveErrors = 0
	rm.lastSuccess = run.FinishedAt
}

// Latest returns the most recent run, or nil.
func (rm *RunMonitor) Latest() *pipeline.Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if len(rm.runs) == 0 {
		return nil
	}
	return rm.runs[len(rm.runs)-1]
}

// Get returns a retained run by id.
func (rm *RunMonitor) Get(id string) (*pipeline.Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for i := len(rm.runs) - 1; i >= 0; i-- {
		if rm.runs[i].ID == id {
			return rm.runs[i], true
		}
	}
	return nil, false
}

// List returns retained runs, newest first.
func (rm *RunMonitor) List() []*pipeline.Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*pipeline.Run, len(rm.runs))
	for i, r := range rm.runs {
		out[len(rm.runs)-1-i] = r
	}
	return out
}

// RunStatus is the health check view of a RunMonitor.
type RunStatus struct {
	Healthy           bool   `json:"healthy"`
	TotalRuns         int    `json:"total_runs"`
	Failures          int    `json:"failures,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastRunID         string `json:"last_run_id,omitempty"`
	LastBestMethod    string `json:"last_best_method,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastSuccess       string `json:"last_success,omitempty"`
	Stale             bool   `json:"stale"`
}

// Status summarizes run history. Runs are on demand, so having none is
// healthy. Health is lost once more than MaxConsecutiveFailures runs fail
// in a row and comes back with the next success.
func (rm *RunMonitor) Status() RunStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RunStatus{
		Healthy:           rm.consecutiveErrors <= MaxConsecutiveFailures,
		TotalRuns:         rm.total,
		Failures:          rm.failures,
		ConsecutiveErrors: rm.consecutiveErrors,
	}
	if n := len(rm.runs); n > 0 {
		last := rm.runs[n-1]
		status.LastRunID = last.ID
		status.LastBestMethod = last.BestMethod
		status.LastError = last.Error
	}
	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.Stale = rm.staleAfter > 0 && time.Since(rm.lastSuccess) > rm.staleAfter
	}
	return status
}
