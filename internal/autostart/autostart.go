// Package autostart registers clickguard to start at login through an XDG
// autostart desktop entry.
package autostart

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sweeney/clickguard/internal/settings"
)

// EntryName is the desktop entry file name.
const EntryName = "clickguard.desktop"

var entryTmpl = template.Must(template.New("entry").Parse(`[Desktop Entry]
Type=Application
Name=clickguard
Comment=Suppress middle-button double clicks
Exec={{.Exec}}
Terminal=false
X-GNOME-Autostart-enabled=true
`))

// Manager enables and disables the autostart entry.
type Manager struct {
	// Dir is the autostart directory, normally $XDG_CONFIG_HOME/autostart.
	Dir string

	// Executable and Args form the Exec line.
	Executable string
	Args       []string
}

// NewManager returns a Manager for the current executable in the default directory.
func NewManager(args ...string) (*Manager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &Manager{
		Dir:        DefaultDir(),
		Executable: exe,
		Args:       args,
	}, nil
}

// DefaultDir returns $XDG_CONFIG_HOME/autostart.
func DefaultDir() string {
	return filepath.Join(filepath.Dir(settings.ConfigDir()), "autostart")
}

// Path returns the full path of the entry file.
func (m *Manager) Path() string {
	return filepath.Join(m.Dir, EntryName)
}

// IsEnabled reports whether the entry exists.
func (m *Manager) IsEnabled() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}

// Enable writes the entry, replacing any previous one.
func (m *Manager) Enable() error {
	if m.Executable == "" {
		return errors.New("autostart: no executable")
	}

	var buf bytes.Buffer
	if err := entryTmpl.Execute(&buf, struct{ Exec string }{m.execLine()}); err != nil {
		return fmt.Errorf("autostart: render entry: %w", err)
	}

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("autostart: %w", err)
	}
	tmp := m.Path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("autostart: %w", err)
	}
	if err := os.Rename(tmp, m.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("autostart: %w", err)
	}
	return nil
}

// Disable removes the entry. A missing entry is not an error.
func (m *Manager) Disable() error {
	err := os.Remove(m.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("autostart: %w", err)
	}
	return nil
}

// Set enables or disables the entry.
func (m *Manager) Set(enabled bool) error {
	if enabled {
		return m.Enable()
	}
	return m.Disable()
}

func (m *Manager) execLine() string {
	parts := make([]string, 0, 1+len(m.Args))
	parts = append(parts, quoteExec(m.Executable))
	for _, a := range m.Args {
		parts = append(parts, quoteExec(a))
	}
	return strings.Join(parts, " ")
}

// quoteExec quotes an Exec argument per the desktop entry spec when it
// contains reserved characters.
func quoteExec(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\><~|&;$*?#()`") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}
