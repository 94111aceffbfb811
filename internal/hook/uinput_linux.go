//go:build linux

package hook

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// uinput ioctl requests (linux/uinput.h).
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiSetMscBit  = 0x40045568
)

const uinputPath = "/dev/uinput"

// VirtualMouse is a uinput device that re-emits forwarded pointer events.
type VirtualMouse struct {
	f *os.File
}

// NewVirtualMouse creates a virtual pointer with buttons, motion and wheels.
func NewVirtualMouse(name string) (*VirtualMouse, error) {
	fd, err := unix.Open(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(uinputPath, err)
	}

	setup := []struct {
		req  uint
		vals []uint16
	}{
		{uiSetEvBit, []uint16{EvSyn, EvKey, EvRel, EvMsc}},
		{uiSetKeyBit, buttonCodes()},
		{uiSetRelBit, []uint16{RelX, RelY, RelHWheel, RelWheel, RelWheelHiRes, RelHWheelHiRes}},
		{uiSetMscBit, []uint16{MscScan}},
	}
	for _, s := range setup {
		for _, v := range s.vals {
			if err := unix.IoctlSetInt(fd, s.req, int(v)); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("uinput setup %#x/%d: %w", s.req, v, err)
			}
		}
	}

	if _, err := unix.Write(fd, encodeUserDev(name, 0x1d6b, 0x0104)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uinput write device description: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uinput create device: %w", err)
	}

	return &VirtualMouse{f: os.NewFile(uintptr(fd), uinputPath)}, nil
}

// Write emits events as-is. The caller supplies the trailing SYN_REPORT.
func (v *VirtualMouse) Write(events []InputEvent) error {
	if len(events) == 0 {
		return nil
	}
	if _, err := v.f.Write(EncodeEvents(events)); err != nil {
		return fmt.Errorf("uinput write: %w", err)
	}
	return nil
}

// Button emits a single button transition followed by a sync.
func (v *VirtualMouse) Button(code uint16, pressed bool) error {
	var value int32
	if pressed {
		value = 1
	}
	return v.Write([]InputEvent{
		{Type: EvKey, Code: code, Value: value},
		{Type: EvSyn, Code: SynReport},
	})
}

// Close destroys the virtual device.
func (v *VirtualMouse) Close() error {
	var errs []error
	if raw, err := v.f.SyscallConn(); err == nil {
		raw.Control(func(fd uintptr) {
			if err := unix.IoctlSetInt(int(fd), uiDevDestroy, 0); err != nil {
				errs = append(errs, fmt.Errorf("uinput destroy: %w", err))
			}
		})
	}
	if err := v.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close uinput: %w", err))
	}
	return errors.Join(errs...)
}

func buttonCodes() []uint16 {
	codes := make([]uint16, 0, BtnTask-BtnLeft+1)
	for c := BtnLeft; c <= BtnTask; c++ {
		codes = append(codes, c)
	}
	return codes
}

// openError maps access failures to ErrPermissionDenied.
func openError(path string, err error) error {
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("open %s: %w (%v)", path, ErrPermissionDenied, err)
	}
	return fmt.Errorf("open %s: %w", path, err)
}
