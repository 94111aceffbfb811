// Command clickguard suppresses accidental middle-button double clicks and
// optionally measures the interval between consecutive middle clicks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/clickguard/internal/autostart"
	"github.com/sweeney/clickguard/internal/control"
	"github.com/sweeney/clickguard/internal/hook"
	"github.com/sweeney/clickguard/internal/logic"
	"github.com/sweeney/clickguard/internal/mqtt"
	"github.com/sweeney/clickguard/internal/notify"
	"github.com/sweeney/clickguard/internal/permissions"
	"github.com/sweeney/clickguard/internal/settings"
	"github.com/sweeney/clickguard/internal/status"
	"github.com/sweeney/clickguard/internal/web"
)

// errSourceDisabled makes the process exit non-zero so a supervisor restarts it.
var errSourceDisabled = errors.New("event source disabled")

type options struct {
	source    string
	device    string
	gpioChip  string
	gpioLine  int
	debounce  string
	settings  string
	measure   bool
	broker    string
	clientID  string
	httpAddr  string
	heartbeat time.Duration
	autostart string
	check     bool
}

func main() {
	var o options
	flag.StringVar(&o.source, "source", "evdev", "Event source: evdev or gpio")
	flag.StringVar(&o.device, "device", hook.DefaultDevicePattern, "evdev device path or glob")
	flag.StringVar(&o.gpioChip, "gpio-chip", hook.DefaultGPIOChip, "GPIO chip for -source gpio")
	flag.IntVar(&o.gpioLine, "gpio-line", hook.DefaultGPIOLine, "GPIO line offset for -source gpio")
	flag.StringVar(&o.debounce, "debounce", "", `Debounce threshold, e.g. "100" or "125ms" (empty uses the saved value)`)
	flag.StringVar(&o.settings, "settings", "", "Settings file (default $XDG_CONFIG_HOME/clickguard/settings.toml)")
	flag.BoolVar(&o.measure, "measure", false, "Start with measurement mode on")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.clientID, "client-id", "clickguard", "MQTT client ID")
	flag.StringVar(&o.httpAddr, "http", "127.0.0.1:8470", "HTTP status address (empty to disable)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.autostart, "autostart", "", "enable or disable start at login, then exit")
	flag.BoolVar(&o.check, "check", false, "Check device permissions and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	if o.autostart != "" {
		m, err := autostart.NewManager(autostartArgs(os.Args[1:])...)
		if err != nil {
			return err
		}
		return runAutostart(os.Stdout, m, o.autostart)
	}

	if o.check {
		return runCheck(os.Stdout, permissions.NewProber(), o)
	}

	src, err := newSource(o)
	if err != nil {
		return fmt.Errorf("init source: %w", err)
	}

	store := settings.NewFileStore(o.settings)
	o.settings = store.Path
	threshold, err := initialThreshold(store, o.debounce)
	if err != nil {
		return err
	}

	// Status tracker first so every consumer sees the same snapshot.
	tracker := status.NewTracker(time.Now(), status.Config{
		Source:      src.Name(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
		Settings:    o.settings,
	})

	dispatcher := notify.New(tracker, notify.NewLogObserver(time.Second, 5))
	engine, err := logic.NewEngine(threshold, dispatcher)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	tracker.Update(engine.Threshold(), false, engine.Counts())

	ctrl := control.New(engine, store, tracker)
	if o.measure {
		ctrl.SetMeasurement(true)
	}

	// MQTT is optional; without a broker everything is discarded.
	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = mqtt.Discard{}
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             o.broker,
			ClientID:           o.clientID,
			OnCommand:          ctrl.HandlePayload,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = p
		dispatcher.Register(mqtt.Forwarder{Pub: p})
	}
	defer publisher.Close()

	// Start HTTP status server
	if o.httpAddr != "" {
		hub := web.NewHub()
		dispatcher.Register(hub)
		srv := web.New(o.httpAddr, tracker, ctrl, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dispatched := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatched)
	}()
	defer func() {
		cancel()
		<-dispatched
	}()

	if err := src.Start(engine); err != nil {
		if errors.Is(err, hook.ErrPermissionDenied) {
			printGuidance(os.Stderr, permissions.NewProber(), o)
		}
		return fmt.Errorf("start %s: %w", src.Name(), err)
	}
	defer src.Stop()
	tracker.SetRunning(true)

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	log.Printf("started: source=%s debounce=%v measure=%v broker=%q heartbeat=%v",
		src.Name(), engine.Threshold(), engine.MeasurementEnabled(), o.broker, o.heartbeat)

	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		hb := time.NewTicker(o.heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(src, engine, publisher, publisher, tracker, time.Now, refresh.C, heartbeat, sigCh)
}

func runLoop(src hook.Source, engine *logic.Engine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	syncTracker := func() {
		tracker.Update(engine.Threshold(), engine.MeasurementEnabled(), engine.Counts())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	shutdown := func(reason string) {
		if err := src.Stop(); err != nil {
			log.Printf("stop %s: %v", src.Name(), err)
		}
		tracker.SetRunning(false)
		syncTracker()

		snap := tracker.Snapshot()
		event := mqtt.SystemEvent{
			Timestamp:  now(),
			Event:      "SHUTDOWN",
			Reason:     reason,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			shutdown(signalName(s))
			return nil

		case err := <-src.Disabled():
			log.Printf("%s stopped delivering events: %v", src.Name(), err)
			shutdown("SOURCE_DISABLED")
			return fmt.Errorf("%w: %v", errSourceDisabled, err)

		case <-refresh:
			syncTracker()

		case <-heartbeat:
			syncTracker()
			snap := tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v forwarded=%d dropped=%d passed=%d",
				snap.Uptime().Truncate(time.Second), snap.Counts.Forwarded, snap.Counts.Dropped, snap.Counts.Passed)

			hbEvent := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func newSource(o options) (hook.Source, error) {
	switch o.source {
	case "evdev":
		s, err := hook.NewEvdevSource(o.device)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gpio":
		s, err := hook.NewGPIOSource(o.gpioChip, o.gpioLine)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown source %q (want evdev or gpio)", o.source)
}

// initialThreshold returns the saved threshold, or the -debounce override
// when given. The override is not persisted.
func initialThreshold(store settings.Store, override string) (time.Duration, error) {
	s, err := store.Load()
	if err != nil {
		log.Printf("settings: %v (using %gms)", err, s.DebounceMs)
	}
	threshold := logic.DefaultThreshold
	if s.Valid() {
		threshold = s.Threshold()
	}

	if override == "" {
		return threshold, nil
	}
	ms, err := control.ParseDebounce(override)
	if err != nil {
		return 0, fmt.Errorf("-debounce: %w", err)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// devicesToProbe lists the nodes the chosen source needs.
func devicesToProbe(o options) ([]string, error) {
	if o.source == "gpio" {
		return []string{"/dev/" + o.gpioChip, permissions.UinputPath}, nil
	}
	dev, err := hook.ResolveDevice(o.device)
	if err != nil {
		return nil, err
	}
	return []string{dev, permissions.UinputPath}, nil
}

func runCheck(w io.Writer, p *permissions.Prober, o options) error {
	paths, err := devicesToProbe(o)
	if err != nil {
		fmt.Fprintf(w, "device: %v\n", err)
		fmt.Fprintln(w, "  list candidates with: ls /dev/input/by-id/")
		return err
	}

	failed := 0
	for _, r := range p.ProbeAll(paths...) {
		fmt.Fprintf(w, "%s: %s\n", r.Path, r.Status)
		if !r.OK() {
			failed++
			fmt.Fprintf(w, "  %s\n", r.Message)
			if r.Guidance != "" {
				fmt.Fprintf(w, "  fix: %s\n", r.Guidance)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices not accessible", failed, len(paths))
	}
	return nil
}

func printGuidance(w io.Writer, p *permissions.Prober, o options) {
	paths, err := devicesToProbe(o)
	if err != nil {
		return
	}
	for _, r := range p.ProbeAll(paths...) {
		if !r.OK() && r.Guidance != "" {
			fmt.Fprintf(w, "%s\n  fix: %s\n", r.Message, r.Guidance)
		}
	}
}

type autostarter interface {
	Set(enabled bool) error
	Path() string
}

func runAutostart(w io.Writer, m autostarter, action string) error {
	switch action {
	case "enable", "on":
		if err := m.Set(true); err != nil {
			return err
		}
		fmt.Fprintf(w, "autostart enabled: %s\n", m.Path())
	case "disable", "off":
		if err := m.Set(false); err != nil {
			return err
		}
		fmt.Fprintln(w, "autostart disabled")
	default:
		return fmt.Errorf("-autostart: want enable or disable, got %q", action)
	}
	return nil
}

// autostartArgs drops the -autostart flag so the login entry starts the daemon.
func autostartArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := strings.TrimPrefix(strings.TrimPrefix(args[i], "-"), "-")
		switch {
		case a == "autostart":
			i++ // skip the value
		case strings.HasPrefix(a, "autostart="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}
