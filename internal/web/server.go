// Package web provides an HTTP status and settings server for the clickguard daemon.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sweeney/clickguard/internal/control"
	"github.com/sweeney/clickguard/internal/status"
)

// Controller is the configuration surface the settings forms drive.
type Controller interface {
	SetDebounce(s string) error
	SetMeasurement(on bool)
	ClearIntervals()
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	hub        *Hub
}

// New creates a Server that reads state from the given tracker.
// ctrl may be nil, in which case the settings endpoints answer 503.
// hub may be nil, in which case /ws is not served.
func New(addr string, tracker *status.Tracker, ctrl Controller, hub *Hub) *Server {
	s := &Server{tracker: tracker, ctrl: ctrl, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/debounce", s.handleDebounce)
	mux.HandleFunc("/measurement", s.handleMeasurement)
	mux.HandleFunc("/intervals/clear", s.handleClear)
	if hub != nil {
		mux.Handle("/ws", hub)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.hub != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// settingsRequest checks method and controller availability for the POST endpoints.
func (s *Server) settingsRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if !sameOrigin(r) {
		http.Error(w, "cross-origin request refused", http.StatusForbidden)
		return false
	}
	if s.ctrl == nil {
		http.Error(w, "settings unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// sameOrigin reports whether a browser request came from a page served by
// this server, using Origin and falling back to Referer. Requests carrying
// neither (curl, scripts) are allowed.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleDebounce(w http.ResponseWriter, r *http.Request) {
	if !s.settingsRequest(w, r) {
		return
	}
	if err := s.ctrl.SetDebounce(r.FormValue("ms")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, control.ErrInvalidConfiguration) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleMeasurement(w http.ResponseWriter, r *http.Request) {
	if !s.settingsRequest(w, r) {
		return
	}
	switch r.FormValue("enabled") {
	case "on", "true", "1":
		s.ctrl.SetMeasurement(true)
	case "off", "false", "0":
		s.ctrl.SetMeasurement(false)
	default:
		http.Error(w, `enabled must be "on" or "off"`, http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.settingsRequest(w, r) {
		return
	}
	s.ctrl.ClearIntervals()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
