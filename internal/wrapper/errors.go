package wrapper

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrorType categorizes supervision errors by how they propagate.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	SpawnFailure
	TerminationFailure
	DetectionFailure
	MonitorRegistrationFailure
)

func (t ErrorType) String() string {
	switch t {
	case SpawnFailure:
		return "spawn_failure"
	case TerminationFailure:
		return "termination_failure"
	case DetectionFailure:
		return "detection_failure"
	case MonitorRegistrationFailure:
		return "monitor_registration_failure"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadySpawned is returned by Start while the handle owns a live child.
	ErrAlreadySpawned = errors.New("process already spawned")
	// ErrPermissionDenied marks a kill the OS refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrExternalHandle is returned by Start on a handle that did not spawn
	// its process.
	ErrExternalHandle = errors.New("handle tracks an external process")
)

// ProcessError wraps errors with context and categorization
type ProcessError struct {
	Type      ErrorType
	Operation string // "spawn", "stop", "detect", "monitor"
	PID       int
	Message   string
	Err       error
	Timestamp time.Time
}

// Error implements error interface
func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed for PID %d: %s: %v", e.Operation, e.PID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed for PID %d: %s", e.Operation, e.PID, e.Message)
}

// Unwrap implements error unwrapping
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a new process error
func NewProcessError(errType ErrorType, operation string, pid int, message string, err error) *ProcessError {
	return &ProcessError{
		Type:      errType,
		Operation: operation,
		PID:       pid,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// IsType reports whether err carries a ProcessError of type t.
func IsType(err error, t ErrorType) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Type == t
}

// IsPermissionDenied reports whether the OS refused the operation.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, os.ErrPermission)
}

// IsFatal reports whether err must fail the caller's operation. Spawn and
// termination failures are surfaced; a refused kill of an external process,
// monitor registration and detection failures are absorbed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadySpawned) || errors.Is(err, ErrExternalHandle) {
		return true
	}
	var pe *ProcessError
	if !errors.As(err, &pe) {
		return true
	}
	switch pe.Type {
	case SpawnFailure:
		return true
	case TerminationFailure:
		return !(pe.Operation == opStopExternal && IsPermissionDenied(err))
	default:
		return false
	}
}

const (
	opSpawn        = "spawn"
	opStop         = "stop"
	opStopExternal = "stop_external"
	opDetect       = "detect"
	opMonitor      = "monitor"
)

// isGone reports whether a kill failed only because the process had
// already exited.
func isGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, os.ErrProcessDone)
}

// classifyKill turns a raw kill error into a ProcessError.
func classifyKill(op string, pid int, err error) error {
	if IsPermissionDenied(err) {
		return NewProcessError(TerminationFailure, op, pid, "kill refused", fmt.Errorf("%w: %v", ErrPermissionDenied, err))
	}
	return NewProcessError(TerminationFailure, op, pid, "kill failed", err)
}
