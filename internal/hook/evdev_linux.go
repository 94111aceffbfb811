//go:build linux

package hook

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// eviocGrab is EVIOCGRAB (_IOW('E', 0x90, int)).
const eviocGrab = 0x40044590

// eviocSClockID is EVIOCSCLOCKID (_IOW('E', 0xa0, int)).
const eviocSClockID = 0x400445a0

// VirtualDeviceName is the name the re-emitting uinput device registers under.
const VirtualDeviceName = "clickguard virtual mouse"

// EvdevSource grabs a pointer device exclusively and re-emits every event
// the handler does not drop through a uinput virtual mouse.
type EvdevSource struct {
	path string

	mu       sync.Mutex
	file     *os.File
	out      *VirtualMouse
	stopping atomic.Bool
	wg       sync.WaitGroup
	disabled chan error
}

// NewEvdevSource resolves the device path or glob. The device is not opened until Start.
func NewEvdevSource(pattern string) (*EvdevSource, error) {
	path, err := ResolveDevice(pattern)
	if err != nil {
		return nil, err
	}
	return &EvdevSource{
		path:     path,
		disabled: make(chan error, 1),
	}, nil
}

// Name reports the backend and device.
func (s *EvdevSource) Name() string {
	return "evdev:" + s.path
}

// Disabled reports unexpected loss of the device.
func (s *EvdevSource) Disabled() <-chan error {
	return s.disabled
}

// Start grabs the device and begins the read loop.
func (s *EvdevSource) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return ErrAlreadyStarted
	}

	fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return openError(s.path, err)
	}

	out, err := NewVirtualMouse(VirtualDeviceName)
	if err != nil {
		unix.Close(fd)
		return err
	}

	if err := unix.IoctlSetInt(fd, eviocGrab, 1); err != nil {
		out.Close()
		unix.Close(fd)
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("grab %s: device already grabbed by another process: %w", s.path, err)
		}
		return fmt.Errorf("grab %s: %w", s.path, err)
	}

	// Kernel timestamps on the monotonic clock let each frame carry its own time.
	kernelClock := true
	if err := unix.IoctlSetPointerInt(fd, eviocSClockID, unix.CLOCK_MONOTONIC); err != nil {
		log.Printf("hook: %s: cannot select monotonic event clock, using read time: %v", s.path, err)
		kernelClock = false
	}

	// A nonblocking fd registers with the runtime poller, so Close unblocks Read.
	s.file = os.NewFile(uintptr(fd), s.path)
	s.out = out
	s.stopping.Store(false)

	s.wg.Add(1)
	go s.readLoop(s.file, out, h, kernelClock)
	return nil
}

// Stop releases the grab and destroys the virtual device.
func (s *EvdevSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	s.stopping.Store(true)
	var errs []error
	if raw, err := s.file.SyscallConn(); err == nil {
		raw.Control(func(fd uintptr) {
			// Ungrab fails harmlessly if the device is already gone.
			unix.IoctlSetInt(int(fd), eviocGrab, 0)
		})
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.path, err))
	}
	s.wg.Wait()
	if err := s.out.Close(); err != nil {
		errs = append(errs, err)
	}

	s.file = nil
	s.out = nil
	return errors.Join(errs...)
}

func (s *EvdevSource) readLoop(f *os.File, out *VirtualMouse, h Handler, kernelClock bool) {
	defer s.wg.Done()

	buf := make([]byte, eventSize*64)
	frame := make([]InputEvent, 0, 16)
	resync := false

	for {
		n, err := f.Read(buf)
		if err != nil {
			if s.stopping.Load() {
				return
			}
			log.Printf("hook: %s: read failed, tap disabled: %v", s.path, err)
			reportDisabled(s.disabled, fmt.Errorf("read %s: %w", s.path, err))
			return
		}

		readAt := time.Now()
		kernelNow, clockErr := monotonicNow()
		for _, ev := range DecodeEvents(buf[:n]) {
			if ev.Type == EvSyn && ev.Code == SynDropped {
				// Kernel buffer overran: discard until the next report.
				frame = frame[:0]
				resync = true
				continue
			}
			if resync {
				if ev.Type == EvSyn && ev.Code == SynReport {
					resync = false
				}
				continue
			}

			frame = append(frame, ev)
			if ev.Type != EvSyn || ev.Code != SynReport {
				continue
			}

			at := readAt
			if kernelClock && clockErr == nil {
				at = EventTime(ev, readAt, kernelNow)
			}
			if err := out.Write(FilterFrame(frame, h, at)); err != nil {
				if s.stopping.Load() {
					return
				}
				log.Printf("hook: %s: re-emit failed, tap disabled: %v", s.path, err)
				reportDisabled(s.disabled, err)
				return
			}
			frame = frame[:0]
		}
	}
}

func monotonicNow() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
