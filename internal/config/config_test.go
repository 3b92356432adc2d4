package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withExecutable(t *testing.T, path string) {
	t.Helper()
	prev := lookPath
	lookPath = func(string) (string, error) {
		if path == "" {
			return "", errors.New("not found")
		}
		return path, nil
	}
	t.Cleanup(func() { lookPath = prev })
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	withExecutable(t, "/opt/syncthing/syncthing")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, written, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "/opt/syncthing/syncthing", cfg.ExecutablePath)
	assert.Equal(t, CloseManaged, cfg.ClosurePolicy)
	assert.Equal(t, []string{"--no-browser"}, cfg.StartupArgs)
	assert.Equal(t, 2*time.Second, cfg.PollEvery())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "closure_policy: close_managed")
	assert.Contains(t, string(data), "poll_interval: 2s")
}

func TestLoadOrCreateMergesMissingFields(t *testing.T) {
	withExecutable(t, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	legacy := `log_level: debug
executable_path: /home/me/bin/syncthing
web_ui_url: http://127.0.0.1:9999
startup_args: []
auto_launch: ~
`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	cfg, written, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, written, "missing keys should trigger a rewrite")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/home/me/bin/syncthing", cfg.ExecutablePath)
	assert.Empty(t, cfg.StartupArgs, "explicit empty args must survive the merge")
	assert.False(t, cfg.AutoLaunch, "null takes the default")
	assert.Equal(t, CloseManaged, cfg.ClosurePolicy)

	again, written, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, written, "second load has nothing to merge")
	assert.Equal(t, cfg.ExecutablePath, again.ExecutablePath)
}

func TestParsePartialNestedSection(t *testing.T) {
	withExecutable(t, "")
	cfg, missing, err := Parse([]byte("control:\n  listen: 127.0.0.1:9000\nclosure_policy: CloseAll\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Control.Listen)
	assert.Equal(t, 2, cfg.Control.Burst, "nested defaults are kept")
	assert.Equal(t, CloseAll, cfg.ClosurePolicy)
	assert.Contains(t, missing, "executable_path")
	assert.NotContains(t, missing, "control")
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, _, err := Parse([]byte("poll_interval: soon\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	withExecutable(t, "")
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.ExecutablePath = " "
	cfg.ClosurePolicy = "sometimes"
	cfg.Containment = "jail"
	cfg.PollInterval = 0
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"executable_path", "closure policy", "containment", "poll_interval"} {
		assert.True(t, strings.Contains(err.Error(), want), "expected %q in %v", want, err)
	}
}

func TestParseClosurePolicy(t *testing.T) {
	cases := map[string]ClosurePolicy{
		"close_all":     CloseAll,
		"CloseAll":      CloseAll,
		"close_managed": CloseManaged,
		"":              CloseManaged,
		"DontClose":     DontClose,
		"dont_close":    DontClose,
	}
	for in, want := range cases {
		got, err := ParseClosurePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseClosurePolicy("close_some")
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	withExecutable(t, "")
	cfg := Default()
	v := viper.New()
	v.Set("log_level", "WARN")
	v.Set("auto_launch", true)
	v.Set("closure_policy", "dont_close")
	v.Set("control.listen", "")

	cfg.ApplyOverrides(v)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.AutoLaunch)
	assert.Equal(t, DontClose, cfg.ClosurePolicy)
	assert.Equal(t, "", cfg.Control.Listen, "an explicit empty listen address disables the API")
	assert.Equal(t, fallbackExecutable, cfg.ExecutablePath)
}

func TestDirs(t *testing.T) {
	base := t.TempDir()
	d := Dirs{Base: base}
	require.NoError(t, d.EnsureExists())
	assert.DirExists(t, d.LogDir())
	assert.Equal(t, filepath.Join(base, "config.yaml"), d.ConfigFile())
	assert.Equal(t, filepath.Join(base, "syncwarden.lock"), d.LockFile())

	wd, err := os.Getwd()
	require.NoError(t, err)
	portable, err := ResolveDirs(true)
	require.NoError(t, err)
	assert.Equal(t, wd, portable.Base)
}
