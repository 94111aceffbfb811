package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/clickguard/internal/hook"
	"github.com/sweeney/clickguard/internal/logic"
	"github.com/sweeney/clickguard/internal/mqtt"
	"github.com/sweeney/clickguard/internal/permissions"
	"github.com/sweeney/clickguard/internal/settings"
	"github.com/sweeney/clickguard/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type loopEnv struct {
	src       *hook.FakeSource
	engine    *logic.Engine
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	refresh   chan time.Time
	heartbeat chan time.Time
	sig       chan os.Signal
	errCh     chan error
}

// startLoop runs runLoop against fakes with the source already started.
func startLoop(t *testing.T, setup ...func(*loopEnv)) *loopEnv {
	t.Helper()
	engine, err := logic.NewEngine(logic.DefaultThreshold, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e := &loopEnv{
		src:       hook.NewFakeSource(),
		engine:    engine,
		pub:       mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(t0, status.Config{Source: "fake"}),
		refresh:   make(chan time.Time),
		heartbeat: make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		errCh:     make(chan error, 1),
	}
	if err := e.src.Start(engine); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.tracker.SetRunning(true)
	for _, f := range setup {
		f(e)
	}

	clock := fakeClock(t0, time.Minute)
	go func() {
		e.errCh <- runLoop(e.src, e.engine, e.pub, e.pub, e.tracker, clock, e.refresh, e.heartbeat, e.sig)
	}()
	return e
}

func (e *loopEnv) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

func (e *loopEnv) click(t *testing.T, at time.Duration) logic.Decision {
	t.Helper()
	d, err := e.src.Emit(logic.RawEvent{Button: logic.MiddleButton, Kind: logic.Down, Time: t0.Add(at)})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	return d
}

func decodeStatus(t *testing.T, payload []byte) status.StatusInner {
	t.Helper()
	var sj status.StatusJSON
	if err := json.Unmarshal(payload, &sj); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	return sj.Status
}

func TestRunLoopShutdownOnSignal(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			e := startLoop(t)
			e.sig <- tt.sig
			if err := e.wait(t); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if e.src.Started {
				t.Error("source should be stopped")
			}
			if len(e.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(e.pub.SystemEvents))
			}
			ev := e.pub.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.want || !ev.Retained {
				t.Errorf("shutdown event: %+v", ev)
			}
			inner := decodeStatus(t, ev.RawPayload)
			if inner.Event != "SHUTDOWN" || inner.Reason != tt.want {
				t.Errorf("payload event/reason: %s/%s", inner.Event, inner.Reason)
			}
			if inner.Running {
				t.Error("payload should report running=false")
			}
		})
	}
}

func TestRunLoopSourceDisabled(t *testing.T) {
	e := startLoop(t)
	e.src.Disable(errors.New("device unplugged"))

	err := e.wait(t)
	if !errors.Is(err, errSourceDisabled) {
		t.Fatalf("expected errSourceDisabled, got %v", err)
	}
	if !strings.Contains(err.Error(), "device unplugged") {
		t.Errorf("error should carry the cause: %v", err)
	}
	if e.src.StopCalls == 0 {
		t.Error("source should be stopped after disablement")
	}

	names := e.pub.SystemEventNames()
	if len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Fatalf("system events: %v", names)
	}
	if e.pub.SystemEvents[0].Reason != "SOURCE_DISABLED" {
		t.Errorf("reason: got %s", e.pub.SystemEvents[0].Reason)
	}
	if e.tracker.Snapshot().Running {
		t.Error("tracker should report not running")
	}
}

func TestRunLoopCountsReachTracker(t *testing.T) {
	e := startLoop(t)

	if d := e.click(t, 0); d != logic.Forward {
		t.Errorf("first click: got %v", d)
	}
	if d := e.click(t, 30*time.Millisecond); d != logic.Suppress {
		t.Errorf("bounce: got %v", d)
	}
	if d := e.click(t, 300*time.Millisecond); d != logic.Forward {
		t.Errorf("later click: got %v", d)
	}

	// Two sends: the second cannot complete until the first was handled.
	e.refresh <- time.Time{}
	e.refresh <- time.Time{}

	counts := e.tracker.Snapshot().Counts
	if counts.Forwarded != 2 || counts.Dropped != 1 {
		t.Errorf("tracker counts: %+v", counts)
	}

	e.sig <- syscall.SIGTERM
	e.wait(t)
}

func TestRunLoopHeartbeat(t *testing.T) {
	e := startLoop(t, func(e *loopEnv) { e.pub.Connected = true })
	e.click(t, 0)
	e.click(t, 10*time.Millisecond)

	e.heartbeat <- time.Time{}
	e.sig <- syscall.SIGTERM
	if err := e.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	names := e.pub.SystemEventNames()
	if !reflect.DeepEqual(names, []string{"HEARTBEAT", "SHUTDOWN"}) {
		t.Fatalf("system events: %v", names)
	}

	hb := e.pub.SystemEvents[0]
	if hb.Retained {
		t.Error("heartbeat should not be retained")
	}
	inner := decodeStatus(t, hb.RawPayload)
	if inner.Event != "HEARTBEAT" {
		t.Errorf("event: got %s", inner.Event)
	}
	if inner.Counts.Forwarded != 1 || inner.Counts.Dropped != 1 {
		t.Errorf("counts: %+v", inner.Counts)
	}
	if !inner.MQTT.Connected {
		t.Error("heartbeat should report MQTT connected")
	}
	if inner.DebounceMs != 100 {
		t.Errorf("debounce_ms: got %v", inner.DebounceMs)
	}
}

func TestRunLoopShutdownPublishErrorStillReturns(t *testing.T) {
	e := startLoop(t, func(e *loopEnv) { e.pub.PublishSystemError = errors.New("broker gone") })

	e.sig <- syscall.SIGTERM
	if err := e.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %s, want %s", tt.sig, got, tt.want)
		}
	}
}

func TestInitialThreshold(t *testing.T) {
	tests := []struct {
		name     string
		saved    float64
		loadErr  error
		override string
		want     time.Duration
		wantErr  bool
	}{
		{"saved", 150, nil, "", 150 * time.Millisecond, false},
		{"fractional", 12.5, nil, "", 12500 * time.Microsecond, false},
		{"invalid saved", -3, nil, "", logic.DefaultThreshold, false},
		{"saved below clock resolution", 1e-7, nil, "", logic.DefaultThreshold, false},
		{"saved overflows duration", 1e20, nil, "", logic.DefaultThreshold, false},
		{"saved above max", 60001, nil, "", logic.DefaultThreshold, false},
		{"load error", 0, errors.New("bad toml"), "", logic.DefaultThreshold, false},
		{"override", 150, nil, "40", 40 * time.Millisecond, false},
		{"override with unit", 150, nil, "75ms", 75 * time.Millisecond, false},
		{"bad override", 150, nil, "zero", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := settings.NewFakeStore(settings.Settings{DebounceMs: tt.saved})
			store.LoadError = tt.loadErr

			got, err := initialThreshold(store, tt.override)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if len(store.Saves) != 0 {
				t.Error("startup must not write settings")
			}
		})
	}
}

func TestNewSourceUnknown(t *testing.T) {
	if _, err := newSource(options{source: "bluetooth"}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRunCheck(t *testing.T) {
	denied := map[string]bool{permissions.UinputPath: true}
	p := &permissions.Prober{
		Open: func(path string) error {
			if denied[path] {
				return os.ErrPermission
			}
			return nil
		},
		HasDACOverride: func() (bool, error) { return false, nil },
	}

	var buf bytes.Buffer
	err := runCheck(&buf, p, options{source: "gpio", gpioChip: "gpiochip0"})
	if err == nil {
		t.Fatal("expected error when uinput is denied")
	}

	out := buf.String()
	for _, want := range []string{"/dev/gpiochip0: granted", "/dev/uinput: denied", "fix: "} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	delete(denied, permissions.UinputPath)
	buf.Reset()
	if err := runCheck(&buf, p, options{source: "gpio", gpioChip: "gpiochip0"}); err != nil {
		t.Errorf("all granted: %v", err)
	}
}

func TestRunCheckNoDevice(t *testing.T) {
	var buf bytes.Buffer
	err := runCheck(&buf, permissions.NewProber(), options{source: "evdev", device: t.TempDir() + "/none-*"})
	if err == nil {
		t.Fatal("expected error when no device matches")
	}
	if !strings.Contains(buf.String(), "by-id") {
		t.Errorf("output should suggest where to look:\n%s", buf.String())
	}
}

type fakeAutostart struct {
	enabled bool
	err     error
}

func (f *fakeAutostart) Set(enabled bool) error {
	if f.err != nil {
		return f.err
	}
	f.enabled = enabled
	return nil
}

func (f *fakeAutostart) Path() string { return "/tmp/autostart/clickguard.desktop" }

func TestRunAutostart(t *testing.T) {
	var buf bytes.Buffer
	m := &fakeAutostart{}

	if err := runAutostart(&buf, m, "enable"); err != nil || !m.enabled {
		t.Fatalf("enable: err=%v enabled=%v", err, m.enabled)
	}
	if !strings.Contains(buf.String(), "clickguard.desktop") {
		t.Errorf("output: %s", buf.String())
	}
	if err := runAutostart(&buf, m, "disable"); err != nil || m.enabled {
		t.Fatalf("disable: err=%v enabled=%v", err, m.enabled)
	}
	if err := runAutostart(&buf, m, "toggle"); err == nil {
		t.Error("expected error for unknown action")
	}

	m.err = errors.New("read-only home")
	if err := runAutostart(&buf, m, "on"); err == nil {
		t.Error("expected Set error to surface")
	}
}

func TestAutostartArgs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"-autostart", "enable"}, []string{}},
		{[]string{"-autostart=enable", "-http", ":8080"}, []string{"-http", ":8080"}},
		{[]string{"-source", "gpio", "--autostart", "enable", "-measure"}, []string{"-source", "gpio", "-measure"}},
		{[]string{"-broker", "tcp://h:1883"}, []string{"-broker", "tcp://h:1883"}},
	}
	for _, tt := range tests {
		if got := autostartArgs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("autostartArgs(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
