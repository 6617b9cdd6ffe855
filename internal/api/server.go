// Package api serves the display page and the gate's HTTP endpoints.
package api

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/futureproathletes/timing-gates/internal/broadcast"
	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/httputil"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
	"github.com/futureproathletes/timing-gates/internal/version"
)

//go:embed static/*
var staticFiles embed.FS

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Gate is the part of the polling loop the API needs.
type Gate interface {
	Snapshot() gate.Snapshot
	RequestReset()
}

// Readiness reports whether the sensor is producing readings.
type Readiness interface {
	Serving() bool
}

// Options configures a Server. Hub and Gate are required.
type Options struct {
	Gate         Gate
	Hub          *broadcast.Hub
	Health       Readiness
	Gatherer     prom.Gatherer
	WriteTimeout time.Duration
}

type Server struct {
	gate     Gate
	hub      *broadcast.Hub
	health   Readiness
	gatherer prom.Gatherer
	ws       *broadcast.Handler
}

func NewServer(opts Options) *Server {
	s := &Server{
		gate:     opts.Gate,
		hub:      opts.Hub,
		health:   opts.Health,
		gatherer: opts.Gatherer,
	}
	s.ws = &broadcast.Handler{
		Hub:          opts.Hub,
		OnCommand:    s.handleCommand,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration. WebSocket
// upgrades bypass the wrapper, which cannot be hijacked.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(static)))
	mux.Handle("/ws", s.ws)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/reset", s.resetHandler)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/healthz", s.healthz)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleCommand(msg broadcast.ClientMessage) {
	switch msg.Type {
	case broadcast.TypeReset:
		s.gate.RequestReset()
	default:
		monitoring.Logf("api: ignoring display command %q", msg.Type)
	}
}

// State is the body of GET /api/state.
type State struct {
	gate.Snapshot
	Displays int `json:"displays"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, State{
		Snapshot: s.gate.Snapshot(),
		Displays: s.hub.Count(),
	})
}

// resetHandler queues a reset. The loop applies it on its next tick, so the
// response does not wait for the reset frame.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.gate.RequestReset()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health.Serving() {
		httputil.ServiceUnavailable(w, "sensor readings are stale")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}
