package monitor

import (
	"sync"
	"time"
)

// RunMonitor tracks pipeline run health and enforces the one-run-at-a-time
// rule for triggered runs.
type RunMonitor struct {
	mu                  sync.RWMutex
	activeRunID         string
	lastRunID           string
	lastSuccess         time.Time
	lastAttempt         time.Time
	consecutiveFailures int
	lastError           string
}

// TryBegin marks a run as in flight. It returns false when another run is
// already active; the caller should reject the trigger.
func (rm *RunMonitor) TryBegin(runID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.activeRunID != "" {
		return false
	}
	rm.activeRunID = runID
	rm.lastAttempt = time.Now()
	return true
}

// Active returns the in-flight run's identifier, if any.
func (rm *RunMonitor) Active() (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.activeRunID, rm.activeRunID != ""
}

// RecordSuccess records a run where every layer completed.
func (rm *RunMonitor) RecordSuccess(runID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.finish(runID)
	rm.lastSuccess = time.Now()
	rm.consecutiveFailures = 0
	rm.lastError = ""
}

// RecordFailure records a run where one or more layers failed.
func (rm *RunMonitor) RecordFailure(runID string, err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.finish(runID)
	rm.consecutiveFailures++
	if err != nil {
		rm.lastError = err.Error()
	}
}

func (rm *RunMonitor) finish(runID string) {
	if rm.activeRunID == runID {
		rm.activeRunID = ""
	}
	rm.lastRunID = runID
	rm.lastAttempt = time.Now()
}

// IsHealthy returns true if runs are working properly. A service that has
// never run is healthy (idle); repeated failures are not.
func (rm *RunMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.consecutiveFailures <= 3
}

// RunStatus reports run health for status and health checks.
type RunStatus struct {
	Healthy             bool   `json:"healthy"`
	Running             bool   `json:"running"`
	ActiveRunID         string `json:"active_run_id,omitempty"`
	LastRunID           string `json:"last_run_id,omitempty"`
	LastSuccess         string `json:"last_success,omitempty"`
	TimeSinceSuccess    string `json:"time_since_success,omitempty"`
	LastAttempt         string `json:"last_attempt,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`
}

// Status returns the current run status.
func (rm *RunMonitor) Status() RunStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RunStatus{
		Healthy:     rm.consecutiveFailures <= 3,
		Running:     rm.activeRunID != "",
		ActiveRunID: rm.activeRunID,
		LastRunID:   rm.lastRunID,
	}

	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).String()
	}
	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}
	if rm.consecutiveFailures > 0 {
		status.ConsecutiveFailures = rm.consecutiveFailures
		status.LastError = rm.lastError
	}

	return status
}
