package config

import (
	"os/exec"
	"path/filepath"
	"time"
)

const (
	defaultLogLevel       = "info"
	defaultExecutableName = "syncthing"
	fallbackExecutable    = "/usr/bin/syncthing"
	defaultWebUIURL       = "http://localhost:8384"
	defaultPollInterval   = 2 * time.Second
	DefaultChildScanDelay = 500 * time.Millisecond
	DefaultStopTimeout    = 5 * time.Second
	defaultControlListen  = "127.0.0.1:8385"
	defaultRateLimit      = 5
	defaultBurst          = 2
	defaultJournalRetain  = 500
	defaultOTLPEndpoint   = "localhost:4318"
)

var defaultStartupArgs = []string{"--no-browser"}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		LogLevel:       defaultLogLevel,
		ExecutablePath: DefaultExecutablePath(),
		WebUIURL:       defaultWebUIURL,
		StartupArgs:    append([]string(nil), defaultStartupArgs...),
		ClosurePolicy:  CloseManaged,
		AutoLaunch:     false,
		PollInterval:   Duration(defaultPollInterval),
		ChildScanDelay: Duration(DefaultChildScanDelay),
		StopTimeout:    Duration(DefaultStopTimeout),
		Containment:    ContainGroup,
		Control: Control{
			Listen:    defaultControlListen,
			RateLimit: defaultRateLimit,
			Burst:     defaultBurst,
		},
		Metrics: Metrics{Enabled: true},
		Journal: Journal{
			Enabled: true,
			Retain:  defaultJournalRetain,
		},
		Tracing: Tracing{
			Enabled:  false,
			Endpoint: defaultOTLPEndpoint,
		},
	}
}

// DefaultExecutablePath returns the first syncthing binary on PATH, or the
// conventional install location.
func DefaultExecutablePath() string {
	if p, err := lookPath(defaultExecutableName); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return fallbackExecutable
}
