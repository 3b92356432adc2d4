package discover

import (
	"sync"
	"time"
)

// HealthStatus summarizes how reliably the process table can be read.
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusUnhealthy
)

// String returns string representation of health status
func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

const defaultMaxScanFailures = 4

// Health tracks enumeration outcomes of a Scanner.
type Health struct {
	mu sync.RWMutex

	status           HealthStatus
	lastStatusChange time.Time

	lastSuccessfulScan  time.Time
	consecutiveFailures int
	totalFailures       int64
	lastError           error

	maxConsecutiveFailures int
}

// HealthReport is the serializable view of Health.
type HealthReport struct {
	Status              string    `json:"status"`
	Since               time.Time `json:"since"`
	LastSuccessfulScan  time.Time `json:"last_successful_scan,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// NewHealth creates a tracker that starts healthy.
func NewHealth() *Health {
	return &Health{
		status:                 HealthStatusHealthy,
		lastStatusChange:       time.Now(),
		maxConsecutiveFailures: defaultMaxScanFailures,
	}
}

// RecordSuccess records a successful enumeration.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastSuccessfulScan = time.Now()
	h.consecutiveFailures = 0
	h.updateStatus()
}

// RecordFailure records a failed enumeration.
func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.totalFailures++
	h.lastError = err
	h.updateStatus()
}

// updateStatus must be called with the lock held.
func (h *Health) updateStatus() {
	next := HealthStatusHealthy
	switch {
	case h.consecutiveFailures >= h.maxConsecutiveFailures:
		next = HealthStatusUnhealthy
	case h.consecutiveFailures >= h.maxConsecutiveFailures/2:
		next = HealthStatusDegraded
	}
	if next != h.status {
		h.status = next
		h.lastStatusChange = time.Now()
	}
}

// Status returns the current health status.
func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Report returns a snapshot for status endpoints.
func (h *Health) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := HealthReport{
		Status:              h.status.String(),
		Since:               h.lastStatusChange,
		LastSuccessfulScan:  h.lastSuccessfulScan,
		ConsecutiveFailures: h.consecutiveFailures,
		TotalFailures:       h.totalFailures,
	}
	if h.lastError != nil {
		r.LastError = h.lastError.Error()
	}
	return r
}
