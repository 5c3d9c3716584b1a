// Package events provides an event system for pool lifecycle and job failure notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventPoolStarted is emitted when a pool has spawned its workers
	EventPoolStarted EventType = "pool_started"
	// EventPoolOversized is emitted when a pool is built larger than the recommended size
	EventPoolOversized EventType = "pool_oversized"
	// EventJobFailed is emitted when a job returns an error or panics
	EventJobFailed EventType = "job_failed"
	// EventPoolStopping is emitted when shutdown begins
	EventPoolStopping EventType = "pool_stopping"
	// EventPoolStopped is emitted when every worker has exited
	EventPoolStopped EventType = "pool_stopped"
	// EventPoolStalled is emitted when a pool has pending jobs but makes no progress
	EventPoolStalled EventType = "pool_stalled"
	// EventFaultInjected is emitted when a job is replaced by an injected fault
	EventFaultInjected EventType = "fault_injected"
)

// FaultKind represents the kind of injected job fault
type FaultKind string

const (
	FaultError FaultKind = "error"
	FaultPanic FaultKind = "panic"
	FaultDelay FaultKind = "delay"
)

// Event represents a pool event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Pool      string    `json:"pool,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	JobID       string    `json:"job_id,omitempty"`
	WorkerID    int       `json:"worker_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Panicked    bool      `json:"panicked,omitempty"`
	PoolSize    int       `json:"pool_size,omitempty"`
	CPUCount    int       `json:"cpu_count,omitempty"`
	PendingJobs int       `json:"pending_jobs,omitempty"`
	Fault       FaultKind `json:"fault,omitempty"`
	Delay       string    `json:"delay,omitempty"`
	StalledFor  string    `json:"stalled_for,omitempty"`
}

// NewPoolStartedEvent creates a pool started event
func NewPoolStartedEvent(pool string, size int) Event {
	return Event{
		Type:      EventPoolStarted,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			PoolSize: size,
		},
	}
}

// NewPoolOversizedEvent creates an advisory event for a pool larger than cpu*2
func NewPoolOversizedEvent(pool string, size, cpuCount int) Event {
	return Event{
		Type:      EventPoolOversized,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			PoolSize: size,
			CPUCount: cpuCount,
		},
	}
}

// NewJobFailedEvent creates a job failure event
func NewJobFailedEvent(pool, jobID string, workerID int, err error, panicked bool) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventJobFailed,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			JobID:    jobID,
			WorkerID: workerID,
			Error:    errMsg,
			Panicked: panicked,
		},
	}
}

// NewPoolStoppingEvent creates a shutdown-started event
func NewPoolStoppingEvent(pool string, pending int) Event {
	return Event{
		Type:      EventPoolStopping,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			PendingJobs: pending,
		},
	}
}

// NewPoolStoppedEvent creates a shutdown-completed event.
// err is set when the workers could not be joined.
func NewPoolStoppedEvent(pool string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventPoolStopped,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewPoolStalledEvent creates a stall event
func NewPoolStalledEvent(pool string, pending int, stalledFor time.Duration) Event {
	return Event{
		Type:      EventPoolStalled,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			PendingJobs: pending,
			StalledFor:  stalledFor.String(),
		},
	}
}

// NewFaultInjectedEvent creates a fault injection event
func NewFaultInjectedEvent(kind FaultKind) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Data: EventData{
			Fault: kind,
		},
	}
}

// NewDelayFaultEvent creates a fault injection event for an injected delay
func NewDelayFaultEvent(delay time.Duration) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Data: EventData{
			Fault: FaultDelay,
			Delay: delay.String(),
		},
	}
}
