package monitor

import (
	"sync"
	"time"
)

// PollMonitor tracks sensor polling health and failures.
type PollMonitor struct {
	mu                sync.RWMutex
	interval          time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastReading       string
	consecutiveErrors int
	lastError         string
}

// NewPollMonitor creates a monitor for a poller ticking every interval.
func NewPollMonitor(interval time.Duration) *PollMonitor {
	return &PollMonitor{interval: interval}
}

// RecordSuccess records a stored reading, identified by its date and time.
func (pm *PollMonitor) RecordSuccess(stamp string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := time.Now()
	pm.lastSuccess = now
	pm.lastAttempt = now
	pm.lastReading = stamp
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a failed poll.
func (pm *PollMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// IsHealthy returns true if polling is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within three poll intervals
//   - More than 3 consecutive failures
func (pm *PollMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthy()
}

func (pm *PollMonitor) healthy() bool {
	if pm.lastSuccess.IsZero() {
		return false
	}
	if pm.interval > 0 && time.Since(pm.lastSuccess) > 3*pm.interval {
		return false
	}
	if pm.consecutiveErrors > 3 {
		return false
	}
	return true
}

// PollStatus is the poller section of the health response.
type PollStatus struct {
	Healthy           bool   `json:"healthy"`
	Interval          string `json:"interval"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastReading       string `json:"last_reading,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current polling status for health checks.
func (pm *PollMonitor) Status() PollStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := PollStatus{
		Healthy:  pm.healthy(),
		Interval: pm.interval.String(),
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(pm.lastSuccess).Round(time.Second).String()
		status.LastReading = pm.lastReading
	}

	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.Format(time.RFC3339)
	}

	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}

	return status
}
