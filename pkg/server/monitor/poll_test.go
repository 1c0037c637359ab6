package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestPollMonitor_RecordSuccess(t *testing.T) {
	pm := NewPollMonitor(time.Minute)
	pm.RecordSuccess("2024-03-01 10:00:00")

	status := pm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.LastReading != "2024-03-01 10:00:00" {
		t.Errorf("LastReading = %q, want %q", status.LastReading, "2024-03-01 10:00:00")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
}

func TestPollMonitor_RecordFailure(t *testing.T) {
	pm := NewPollMonitor(time.Minute)
	pm.RecordFailure(errors.New("sensor unreachable"))

	status := pm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "sensor unreachable" {
		t.Errorf("LastError = %q, want %q", status.LastError, "sensor unreachable")
	}
	if status.Healthy {
		t.Error("never succeeded, should be unhealthy")
	}
}

func TestPollMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*PollMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*PollMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(pm *PollMonitor) {
				pm.RecordSuccess("")
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(pm *PollMonitor) {
				pm.mu.Lock()
				pm.lastSuccess = time.Now().Add(-4 * time.Minute)
				pm.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "a few failures are tolerated",
			setup: func(pm *PollMonitor) {
				pm.RecordSuccess("")
				pm.RecordFailure(errors.New("error 1"))
				pm.RecordFailure(errors.New("error 2"))
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(pm *PollMonitor) {
				pm.RecordSuccess("")
				for i := 0; i < 4; i++ {
					pm.RecordFailure(errors.New("timeout"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := NewPollMonitor(time.Minute)
			tt.setup(pm)
			if got := pm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
