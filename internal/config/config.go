package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClosurePolicy decides which daemon processes are terminated when the
// supervisor exits.
type ClosurePolicy string

const (
	CloseAll     ClosurePolicy = "close_all"
	CloseManaged ClosurePolicy = "close_managed"
	DontClose    ClosurePolicy = "dont_close"
)

// ParseClosurePolicy accepts the config spelling and the CamelCase spelling.
func ParseClosurePolicy(s string) (ClosurePolicy, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "closeall":
		return CloseAll, nil
	case "closemanaged", "":
		return CloseManaged, nil
	case "dontclose", "none":
		return DontClose, nil
	}
	return "", fmt.Errorf("unknown closure policy %q (want close_all, close_managed or dont_close)", s)
}

// Containment selects how a spawned daemon tree is grouped for termination.
type Containment string

const (
	ContainGroup  Containment = "group"
	ContainCgroup Containment = "cgroup"
	ContainNone   Containment = "none"
)

// Duration is a time.Duration that reads and writes as "2s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the persisted supervisor configuration.
type Config struct {
	LogLevel       string        `yaml:"log_level" json:"log_level"`
	ExecutablePath string        `yaml:"executable_path" json:"executable_path"`
	WebUIURL       string        `yaml:"web_ui_url" json:"web_ui_url"`
	StartupArgs    []string      `yaml:"startup_args" json:"startup_args"`
	ClosurePolicy  ClosurePolicy `yaml:"closure_policy" json:"closure_policy"`
	AutoLaunch     bool          `yaml:"auto_launch" json:"auto_launch"`
	PollInterval   Duration      `yaml:"poll_interval" json:"poll_interval"`
	ChildScanDelay Duration      `yaml:"child_scan_delay" json:"child_scan_delay"`
	StopTimeout    Duration      `yaml:"stop_timeout" json:"stop_timeout"`
	Containment    Containment   `yaml:"containment" json:"containment"`
	Control        Control       `yaml:"control" json:"control"`
	Metrics        Metrics       `yaml:"metrics" json:"metrics"`
	Journal        Journal       `yaml:"journal" json:"journal"`
	Tracing        Tracing       `yaml:"tracing" json:"tracing"`
}

// Control configures the local control API.
type Control struct {
	Listen     string  `yaml:"listen" json:"listen"`
	APIKey     string  `yaml:"api_key" json:"-"`
	APIKeyHash string  `yaml:"api_key_hash" json:"-"`
	RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst      int     `yaml:"burst" json:"burst"`
}

// Metrics toggles the /metrics endpoint.
type Metrics struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Journal configures the transition journal.
type Journal struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Retain  int    `yaml:"retain" json:"retain"`
}

// Tracing configures OTLP trace export.
type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Validate checks the fields the supervisor cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ExecutablePath) == "" {
		problems = append(problems, "executable_path must not be empty")
	}
	if _, err := ParseClosurePolicy(string(c.ClosurePolicy)); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Containment {
	case ContainGroup, ContainCgroup, ContainNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown containment %q (want group, cgroup or none)", c.Containment))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.StopTimeout <= 0 {
		problems = append(problems, "stop_timeout must be positive")
	}
	if c.ChildScanDelay < 0 {
		problems = append(problems, "child_scan_delay must not be negative")
	}
	if c.Control.RateLimit < 0 || c.Control.Burst < 0 {
		problems = append(problems, "control rate_limit and burst must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Normalize rewrites accepted spellings into their canonical form.
func (c *Config) Normalize() {
	if p, err := ParseClosurePolicy(string(c.ClosurePolicy)); err == nil {
		c.ClosurePolicy = p
	}
	c.Containment = Containment(strings.ToLower(strings.TrimSpace(string(c.Containment))))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// LoadOrCreate reads the config at path. A missing file is created with
// defaults. Keys missing from an existing file (or set to null) take their
// default value and the merged result is written back.
func LoadOrCreate(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(path, &cfg); err != nil {
			return nil, false, err
		}
		return &cfg, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, missing, err := Parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if len(missing) > 0 {
		if err := Save(path, cfg); err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	}
	return cfg, false, nil
}

// Parse overlays the YAML document on Default and reports the top-level keys
// the document did not provide.
func Parse(data []byte) (*Config, []string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	for k, v := range raw {
		if v == nil {
			delete(raw, k)
		}
	}

	cfg := Default()
	if len(raw) > 0 {
		cleaned, err := yaml.Marshal(raw)
		if err != nil {
			return nil, nil, err
		}
		if err := yaml.Unmarshal(cleaned, &cfg); err != nil {
			return nil, nil, err
		}
	}
	cfg.Normalize()

	var missing []string
	for _, key := range knownKeys() {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	return &cfg, missing, nil
}

// Save writes cfg atomically (temp file + rename).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# syncwarden configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func knownKeys() []string {
	def := Default()
	data, err := yaml.Marshal(&def)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
