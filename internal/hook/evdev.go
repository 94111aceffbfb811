package hook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sweeney/clickguard/internal/logic"
)

// Linux input event types and codes (linux/input-event-codes.h).
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
	EvMsc uint16 = 0x04

	SynReport  uint16 = 0
	SynDropped uint16 = 3

	MscScan uint16 = 0x04

	BtnLeft   uint16 = 0x110
	BtnRight  uint16 = 0x111
	BtnMiddle uint16 = 0x112
	BtnSide   uint16 = 0x113
	BtnExtra  uint16 = 0x114
	BtnTask   uint16 = 0x117

	RelX           uint16 = 0x00
	RelY           uint16 = 0x01
	RelHWheel      uint16 = 0x06
	RelWheel       uint16 = 0x08
	RelWheelHiRes  uint16 = 0x0b
	RelHWheelHiRes uint16 = 0x0c
)

// DefaultDevicePattern matches USB/Bluetooth mice exposed by udev.
const DefaultDevicePattern = "/dev/input/by-id/*-event-mouse"

// eventSize is sizeof(struct input_event) on 64-bit Linux.
const eventSize = 24

// userDevSize is sizeof(struct uinput_user_dev).
const userDevSize = 80 + 8 + 4 + 4*64*4

const busVirtual = 0x06

// InputEvent mirrors struct input_event.
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// DecodeEvents parses whole input_event records from b. Trailing partial
// records are ignored.
func DecodeEvents(b []byte) []InputEvent {
	n := len(b) / eventSize
	events := make([]InputEvent, n)
	for i := 0; i < n; i++ {
		r := b[i*eventSize:]
		events[i] = InputEvent{
			Sec:   int64(binary.NativeEndian.Uint64(r[0:8])),
			Usec:  int64(binary.NativeEndian.Uint64(r[8:16])),
			Type:  binary.NativeEndian.Uint16(r[16:18]),
			Code:  binary.NativeEndian.Uint16(r[18:20]),
			Value: int32(binary.NativeEndian.Uint32(r[20:24])),
		}
	}
	return events
}

// EncodeEvents serializes events as consecutive input_event records.
func EncodeEvents(events []InputEvent) []byte {
	b := make([]byte, len(events)*eventSize)
	for i, e := range events {
		r := b[i*eventSize:]
		binary.NativeEndian.PutUint64(r[0:8], uint64(e.Sec))
		binary.NativeEndian.PutUint64(r[8:16], uint64(e.Usec))
		binary.NativeEndian.PutUint16(r[16:18], e.Type)
		binary.NativeEndian.PutUint16(r[18:20], e.Code)
		binary.NativeEndian.PutUint32(r[20:24], uint32(e.Value))
	}
	return b
}

// encodeUserDev builds the legacy uinput_user_dev setup record.
func encodeUserDev(name string, vendor, product uint16) []byte {
	b := make([]byte, userDevSize)
	copy(b[:79], name)
	binary.NativeEndian.PutUint16(b[80:82], busVirtual)
	binary.NativeEndian.PutUint16(b[82:84], vendor)
	binary.NativeEndian.PutUint16(b[84:86], product)
	binary.NativeEndian.PutUint16(b[86:88], 1)
	return b
}

// EventTime converts an event's CLOCK_MONOTONIC kernel timestamp to a
// time.Time. readAt and kernelNow are sampled together just after the read;
// the event is placed its age before readAt, so frames delivered in one
// read keep their own spacing.
func EventTime(ev InputEvent, readAt time.Time, kernelNow time.Duration) time.Time {
	stamp := time.Duration(ev.Sec)*time.Second + time.Duration(ev.Usec)*time.Microsecond
	age := kernelNow - stamp
	if age < 0 {
		age = 0
	}
	return readAt.Add(-age)
}

// buttonID maps a BTN_* code to the engine's button numbering.
// Returns false for anything that is not a mouse button.
func buttonID(code uint16) (int, bool) {
	if code < BtnLeft || code > BtnTask {
		return 0, false
	}
	return int(code - BtnLeft), true
}

// FilterFrame asks h about every button transition in one SYN_REPORT frame
// and returns the events that should be re-emitted. A frame left with nothing
// but sync and scan-code events after a drop is discarded entirely.
func FilterFrame(frame []InputEvent, h Handler, now time.Time) []InputEvent {
	out := make([]InputEvent, 0, len(frame))
	dropped := false
	meaningful := false

	for _, ev := range frame {
		if ev.Type == EvKey && (ev.Value == 0 || ev.Value == 1) {
			if id, ok := buttonID(ev.Code); ok {
				kind := logic.Up
				if ev.Value == 1 {
					kind = logic.Down
				}
				if h.HandleButton(logic.RawEvent{Button: id, Kind: kind, Time: now}) == logic.Suppress {
					dropped = true
					continue
				}
			}
		}
		if ev.Type != EvSyn && ev.Type != EvMsc {
			meaningful = true
		}
		out = append(out, ev)
	}

	if dropped && !meaningful {
		return nil
	}
	return out
}

// ResolveDevice expands a device path or glob to a single device node.
// The lexically first match wins so restarts pick the same device.
func ResolveDevice(pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultDevicePattern
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("bad device pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", errors.New("no input device matches " + pattern)
	}
	sort.Strings(matches)
	return matches[0], nil
}
