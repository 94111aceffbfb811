// Package permissions checks whether the process can reach the input
// devices it needs and explains how to fix it when it cannot.
package permissions

import (
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/gocapability/capability"
)

// UinputPath is the device used to create the virtual mouse.
const UinputPath = "/dev/uinput"

// Status is the outcome of a probe.
type Status int

const (
	Granted Status = iota
	Denied
	NotFound
	Unknown
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// ProbeResult describes access to one device node.
type ProbeResult struct {
	Path     string
	Status   Status
	Message  string
	Guidance string
}

// OK reports whether the device can be used.
func (r ProbeResult) OK() bool {
	return r.Status == Granted
}

// Prober opens device nodes and inspects process capabilities.
type Prober struct {
	// Open tries to open path the way the event source will.
	Open func(path string) error

	// HasDACOverride reports whether the process may bypass file permissions.
	HasDACOverride func() (bool, error)
}

// NewProber returns a Prober backed by the real filesystem and process caps.
func NewProber() *Prober {
	return &Prober{
		Open:           openDevice,
		HasDACOverride: hasDACOverride,
	}
}

// openFlags matches the source: input devices are read, uinput is written.
func openFlags(path string) int {
	if path == UinputPath {
		return os.O_WRONLY
	}
	return os.O_RDONLY
}

func openDevice(path string) error {
	return openWith(path, openFlags(path))
}

func openWith(path string, flag int) error {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func access(path string) string {
	if path == UinputPath {
		return "writable"
	}
	return "readable"
}

func hasDACOverride() (bool, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, err
	}
	if err := caps.Load(); err != nil {
		return false, err
	}
	return caps.Get(capability.EFFECTIVE, capability.CAP_DAC_OVERRIDE), nil
}

// Probe checks one device node.
func (p *Prober) Probe(path string) ProbeResult {
	r := ProbeResult{Path: path}

	err := p.Open(path)
	switch {
	case err == nil:
		r.Status = Granted
		r.Message = fmt.Sprintf("%s is %s", path, access(path))
		return r
	case errors.Is(err, os.ErrNotExist):
		r.Status = NotFound
		r.Message = fmt.Sprintf("%s does not exist", path)
		if path == UinputPath {
			r.Guidance = "load the uinput kernel module: sudo modprobe uinput"
		} else {
			r.Guidance = "check the device path; list candidates with: ls /dev/input/by-id/"
		}
		return r
	case errors.Is(err, os.ErrPermission):
		r.Status = Denied
	default:
		r.Status = Unknown
		r.Message = fmt.Sprintf("%s: %v", path, err)
		return r
	}

	r.Message = fmt.Sprintf("permission denied opening %s", path)
	if p.HasDACOverride != nil {
		if ok, cerr := p.HasDACOverride(); cerr == nil && !ok {
			r.Message += " (process lacks CAP_DAC_OVERRIDE)"
		}
	}
	if path == UinputPath {
		r.Guidance = `add a udev rule: KERNEL=="uinput", GROUP="input", MODE="0660", then reload udev`
	} else {
		r.Guidance = "add your user to the input group (sudo usermod -aG input $USER) and log in again"
	}
	return r
}

// ProbeAll checks each path in order.
func (p *Prober) ProbeAll(paths ...string) []ProbeResult {
	results := make([]ProbeResult, 0, len(paths))
	for _, path := range paths {
		results = append(results, p.Probe(path))
	}
	return results
}
