// Package web provides the HTTP status and control server.
package web

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/command"
	"github.com/sweeney/tank-controller/internal/metrics"
	"github.com/sweeney/tank-controller/internal/status"
)

// maxCommandBytes bounds a POST /control body.
const maxCommandBytes = 4 << 10

// Server serves controller status, metrics and the command endpoint.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	commands   chan<- command.Command
	accessLog  *io.PipeWriter
	log        *logrus.Entry
}

// New creates a Server that reads state from tracker and forwards accepted
// commands to cmds. m may be nil, in which case /metrics is not routed.
func New(addr string, tracker *status.Tracker, m *metrics.Metrics, cmds chan<- command.Command) *Server {
	log := logrus.WithField("component", "http")
	s := &Server{
		tracker:   tracker,
		metrics:   m,
		commands:  cmds,
		accessLog: log.WriterLevel(logrus.DebugLevel),
		log:       log,
	}

	r := mux.NewRouter()
	r.Handle("/index.json", m.WrapHandler("/index.json", http.HandlerFunc(s.handleJSON))).Methods(http.MethodGet)
	r.Handle("/control", m.WrapHandler("/control", http.HandlerFunc(s.handleControl))).Methods(http.MethodPost)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(s.accessLog, r),
	}
	return s
}

// Handler returns the routed handler. Useful for tests.
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
	err := s.httpServer.Shutdown(ctx)
	s.accessLog.Close()
	return err
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	cmd, err := command.Parse(body)
	if err != nil {
		s.log.WithError(err).Warn("rejected control request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd.Source = "http"

	select {
	case s.commands <- cmd:
		w.WriteHeader(http.StatusAccepted)
	default:
		s.log.WithField("kind", cmd.Kind).Warn("command queue full, dropping request")
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
	}
}
