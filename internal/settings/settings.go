// Package settings persists the one user-adjustable value, the debounce
// threshold, in a small TOML file.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultDebounceMs is used when no valid saved value exists.
const DefaultDebounceMs = 100.0

// MaxDebounceMs is the largest threshold accepted from any source.
const MaxDebounceMs = 60000

const fileName = "settings.toml"

// Settings is the on-disk document.
type Settings struct {
	DebounceMs float64 `toml:"saved_debounce_time"`
}

// Threshold converts the saved milliseconds to a duration.
func (s Settings) Threshold() time.Duration {
	return time.Duration(s.DebounceMs * float64(time.Millisecond))
}

// Valid reports whether the saved value can be used as a threshold:
// finite, at most MaxDebounceMs, and at least one nanosecond.
func (s Settings) Valid() bool {
	if math.IsNaN(s.DebounceMs) || math.IsInf(s.DebounceMs, 0) {
		return false
	}
	if s.DebounceMs <= 0 || s.DebounceMs > MaxDebounceMs {
		return false
	}
	return s.Threshold() > 0
}

// Store loads and saves Settings.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileStore keeps Settings in a TOML file.
type FileStore struct {
	Path string
}

// NewFileStore returns a store at path, or at the default location when path is empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = filepath.Join(ConfigDir(), fileName)
	}
	return &FileStore{Path: path}
}

// Load reads the file. A missing file, a missing key, or a non-positive
// value yields the default without error; a malformed file is an error
// alongside the default.
func (f *FileStore) Load() (Settings, error) {
	def := Settings{DebounceMs: DefaultDebounceMs}

	var s Settings
	md, err := toml.DecodeFile(f.Path, &s)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, fmt.Errorf("read settings %s: %w", f.Path, err)
	}
	if !md.IsDefined("saved_debounce_time") || !s.Valid() {
		log.Printf("settings: no usable saved_debounce_time in %s, using %vms", f.Path, DefaultDebounceMs)
		return def, nil
	}
	return s, nil
}

// Save writes the file, creating its directory if needed.
func (f *FileStore) Save(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// ConfigDir returns $XDG_CONFIG_HOME/clickguard, falling back to ~/.config/clickguard.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, "clickguard")
}
