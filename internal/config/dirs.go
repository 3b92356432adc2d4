package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "syncwarden"

// Dirs locates the files the supervisor owns.
type Dirs struct {
	Base string
}

// ResolveDirs picks the application directory. Portable mode uses the
// working directory; otherwise the per-user config directory is used.
func ResolveDirs(portable bool) (Dirs, error) {
	if portable {
		wd, err := os.Getwd()
		if err != nil {
			return Dirs{}, fmt.Errorf("failed to get working directory for portable mode: %w", err)
		}
		return Dirs{Base: wd}, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return Dirs{}, fmt.Errorf("failed to determine application directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return Dirs{Base: filepath.Join(base, appName)}, nil
}

func (d Dirs) ConfigFile() string  { return filepath.Join(d.Base, "config.yaml") }
func (d Dirs) LogDir() string      { return filepath.Join(d.Base, "logs") }
func (d Dirs) LockFile() string    { return filepath.Join(d.Base, appName+".lock") }
func (d Dirs) JournalFile() string { return filepath.Join(d.Base, "journal.db") }

// EnsureExists creates the base and log directories.
func (d Dirs) EnsureExists() error {
	for _, dir := range []string{d.Base, d.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
