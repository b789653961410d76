package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
	apimw "github.com/netprobe-io/netprobe/internal/httpapi/middleware"
	"github.com/netprobe-io/netprobe/internal/repo"
	"github.com/netprobe-io/netprobe/internal/session"
)

// Defaults fill in session fields the caller omits.
type Defaults struct {
	Interval             time.Duration
	Timeout              time.Duration
	Concurrency          int
	Window               int
	ResolveFailThreshold int
}

type Server struct {
	Logger   *zap.Logger
	Results  repo.ResultStore
	Defaults Defaults

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewServer(l *zap.Logger, results repo.ResultStore, defaults Defaults) *Server {
	return &Server{
		Logger:   l,
		Results:  results,
		Defaults: defaults,
		sessions: make(map[string]*session.Session),
	}
}

func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// read endpoints: public or admin key
	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAny(keys))
		r.Use(apimw.RateLimit(pubRPM, pubBurst))
		r.Get("/api/sessions/{id}", s.handleSessionInfo)
		r.Get("/api/sessions/{id}/snapshot", s.handleSnapshot)
		r.Get("/api/sessions/{id}/events", s.handleEvents)
		r.Get("/api/targets/{id}/results", s.handleRecentResults)
	})

	// control endpoints: admin key only
	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys))
		r.Use(apimw.RateLimit(admRPM, admBurst))
		r.Post("/api/sessions", s.handleConfigure)
		r.Post("/api/sessions/{id}/start", s.handleStart)
		r.Post("/api/sessions/{id}/stop", s.handleStop)
	})

	return r
}

type targetPayload struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Port    int    `json:"port,omitempty"`
}

type configurePayload struct {
	Targets     []targetPayload `json:"targets"`
	IntervalMS  int             `json:"interval_ms,omitempty"`
	TimeoutMS   int             `json:"timeout_ms,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
	DurationMS  int             `json:"duration_ms,omitempty"`
	MaxTicks    int             `json:"max_ticks,omitempty"`
	Window      int             `json:"window,omitempty"`
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var p configurePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	cfg := session.Config{
		Interval:             s.Defaults.Interval,
		Timeout:              s.Defaults.Timeout,
		Concurrency:          s.Defaults.Concurrency,
		Window:               s.Defaults.Window,
		ResolveFailThreshold: s.Defaults.ResolveFailThreshold,
		MaxTicks:             p.MaxTicks,
	}
	if p.IntervalMS > 0 {
		cfg.Interval = time.Duration(p.IntervalMS) * time.Millisecond
	}
	if p.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	if p.Concurrency > 0 {
		cfg.Concurrency = p.Concurrency
	}
	if p.DurationMS > 0 {
		cfg.Duration = time.Duration(p.DurationMS) * time.Millisecond
	}
	if p.Window > 0 {
		cfg.Window = p.Window
	}
	for _, t := range p.Targets {
		cfg.Targets = append(cfg.Targets, domain.Target{
			ID:      domain.TargetID(t.ID),
			Address: t.Address,
			Kind:    domain.ProbeKind(t.Kind),
			Port:    t.Port,
		})
	}

	sess, err := session.Configure(s.Logger, cfg)
	if err != nil {
		if errors.Is(err, session.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "could not configure session")
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.Logger.Info("session_configured",
		zap.String("session_id", sess.ID),
		zap.Int("targets", len(cfg.Targets)),
		zap.Duration("interval", cfg.Interval),
		zap.Int("concurrency", cfg.Concurrency),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	// subscribe before Start so the first tick's results cannot slip past
	// the store
	events, cancel := sess.Subscribe()
	if err := sess.Start(); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	// record every completed probe while the session runs
	go s.recordResults(sess, events, cancel)

	s.Logger.Info("session_started", zap.String("session_id", sess.ID))
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State(),
		"abandoned":  sess.Abandoned(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snaps := sess.SnapshotAll()
	out := make(map[string]domain.TargetStats, len(snaps))
	for id, st := range snaps {
		out[string(id)] = st
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     sess.State(),
		"abandoned": sess.Abandoned(),
		"targets":   out,
	})
}

// handleEvents streams live probe results as server-sent events until the
// client disconnects or the session stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := sess.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case res, open := <-events:
			if !open {
				return
			}
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

func (s *Server) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.Results.RecentByTarget(r.Context(), domain.TargetID(id), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) recordResults(sess *session.Session, events <-chan domain.ProbeResult, cancel func()) {
	defer cancel()
	for res := range events {
		r := res
		if err := s.Results.Append(context.Background(), sess.ID, &r); err != nil {
			s.Logger.Warn("result_append_error",
				zap.String("session_id", sess.ID),
				zap.String("target_id", string(r.TargetID)),
				zap.Error(err),
			)
		}
	}
}

// SnapshotAll merges stats across every running session so background
// consumers such as the alerter see the whole server. Target IDs are
// expected to be unique across concurrent sessions; a duplicate keeps the
// last writer.
func (s *Server) SnapshotAll() map[domain.TargetID]domain.TargetStats {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make(map[domain.TargetID]domain.TargetStats)
	for _, sess := range sessions {
		if sess.State() != session.StateRunning {
			continue
		}
		for id, st := range sess.SnapshotAll() {
			out[id] = st
		}
	}
	return out
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
