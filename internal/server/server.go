// Package server is the dashboard's HTTP surface: a small REST API over
// the state snapshot, a server-sent-events stream of the event log, and a
// static SPA fallback for the browser UI.
//
// The server never mutates orchestrator state. Answers are delivered by
// writing drop-files into the answer inbox; everything else is read-only.
// It runs in two modes with identical routes: in-process inside the
// orchestrator (events arrive via direct injection) or standalone in its
// own process (events arrive via the file tailer).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/roadmap"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// ErrPortInUse is returned by Start when the port is already bound. The
// launcher distinguishes it from other startup failures to pick another
// port or report a precise diagnosis.
var ErrPortInUse = errors.New("port already in use")

// shutdownDrain is how long the /api/shutdown handler waits before exiting
// so the 200 response flushes to the client.
const shutdownDrain = 200 * time.Millisecond

// StateSource yields the latest state snapshot.
type StateSource interface {
	Get() (state.AutopilotState, error)
}

// EventSource feeds the SSE endpoint: a replay ring plus a live
// subscription.
type EventSource interface {
	Ring() []ipc.Event
	Subscribe() (<-chan ipc.Event, func())
}

// srvLogger is the minimal logging interface the server needs.
type srvLogger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
}

// Options wires the server's collaborators.
type Options struct {
	State  StateSource
	Events EventSource

	// AnswersDir is where POST /api/questions/:id drops answer files.
	AnswersDir string

	// HeartbeatFile backs the liveness field of /api/status.
	HeartbeatFile string

	// RoadmapPath backs the read-only milestone view. Empty disables it.
	RoadmapPath string

	// StaticDir, when non-empty, serves the SPA with index.html fallback.
	StaticDir string

	// Exit terminates the process after /api/shutdown's drain. Defaults to
	// a real process exit; injectable for tests.
	Exit func()

	Logger srvLogger
}

// Server is the dashboard HTTP server.
type Server struct {
	opts      Options
	router    chi.Router
	startedAt time.Time

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	clients  map[int]chan struct{} // per-SSE-client close signals
	nextID   int
}

// New constructs a server and wires its routes.
func New(opts Options) *Server {
	s := &Server{
		opts:      opts,
		startedAt: time.Now(),
		clients:   map[int]chan struct{}{},
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/phases", s.handlePhases)
		r.Get("/milestones", s.handleMilestones)
		r.Get("/questions", s.handleQuestions)
		r.Get("/questions/{id}", s.handleQuestion)
		r.Post("/questions/{id}", s.handleAnswer)
		r.Post("/shutdown", s.handleShutdown)
		r.Get("/log/stream", s.handleLogStream)
	})
	if opts.StaticDir != "" {
		r.NotFound(s.handleSPA)
	}
	s.router = r
	return s
}

// Handler exposes the route tree (useful for httptest).
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the port and serves until Close. A port that is already
// bound returns ErrPortInUse.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.router}
	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	if s.opts.Logger != nil {
		s.opts.Logger.Info("dashboard listening", "addr", "http://"+addr)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", addr, err)
	}
	return nil
}

// Close ends every SSE stream, then stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	srv := s.httpSrv
	s.mu.Unlock()

	if srv != nil {
		return srv.Close()
	}
	return nil
}

// --- handlers ---------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := s.opts.State.Get()
	if err != nil {
		// No snapshot yet: report an idle, dead autopilot rather than 500;
		// the dashboard may be up before the first run.
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       string(state.StatusIdle),
			"currentPhase": 0,
			"currentStep":  string(state.StepIdle),
			"progress":     0,
			"alive":        false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        string(st.Status),
		"currentPhase":  st.CurrentPhase,
		"currentStep":   string(st.CurrentStep),
		"progress":      st.Progress(),
		"startedAt":     st.StartedAt,
		"lastUpdatedAt": st.LastUpdatedAt,
		"alive":         ipc.Alive(s.opts.HeartbeatFile, time.Now()),
	})
}

func (s *Server) handlePhases(w http.ResponseWriter, _ *http.Request) {
	st, err := s.opts.State.Get()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"phases": []state.Phase{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases": st.Phases})
}

// handleMilestones serves the roadmap's progress counters. A missing or
// unconfigured roadmap reports zeroes; this view is informational only.
func (s *Server) handleMilestones(w http.ResponseWriter, _ *http.Request) {
	counters := roadmap.Counters{}
	if s.opts.RoadmapPath != "" {
		if data, err := os.ReadFile(s.opts.RoadmapPath); err == nil {
			counters = roadmap.ParseMilestones(string(data))
		}
	}
	writeJSON(w, http.StatusOK, counters)
}

func (s *Server) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	st, err := s.opts.State.Get()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"questions": []state.Question{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": st.PendingQuestions})
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.opts.State.Get()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	q := st.PendingQuestion(id)
	if q == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleAnswer validates the body and writes an answer drop-file. It does
// not mutate state itself; the orchestrator's inbox poller does the rest.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Answers map[string]string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Answers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "body must be {\"answers\": {<question>: <label>, ...}}",
		})
		return
	}

	st, err := s.opts.State.Get()
	if err != nil || st.PendingQuestion(id) == nil {
		http.NotFound(w, r)
		return
	}

	if err := ipc.WriteAnswer(s.opts.AnswersDir, ipc.Answer{
		QuestionID: id,
		Answers:    body.Answers,
		AnsweredAt: time.Now().UTC(),
	}); err != nil {
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("writing answer file", "id", id, "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to record answer"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleShutdown responds 200 first, then exits after a short drain so the
// response flushes.
func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	exit := s.opts.Exit
	go func() {
		time.Sleep(shutdownDrain)
		if exit != nil {
			exit()
		}
	}()
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// isAddrInUse detects the bind-failure flavor of a listen error across
// platforms.
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "address already in use") ||
			strings.Contains(opErr.Err.Error(), "Only one usage of each socket address")
	}
	return false
}
