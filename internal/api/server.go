// Package api exposes the daemon's control surface over HTTP: status and
// session reads, link actions and a server-sent event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codeberg.org/mutker/treadlink/internal/coordinator"
	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/events"
	"codeberg.org/mutker/treadlink/internal/link"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/session"
)

// Link is the slice of the link manager the API drives.
type Link interface {
	Status() link.Status
	StartScanning()
	Retry()
	Forget()
}

// Sessions is the slice of the coordinator the API reads and saves.
type Sessions interface {
	Session() session.DailySession
	LastSample() protocol.Frame
	SaveSession(ctx context.Context, now time.Time) (session.DailySession, error)
}

type handlers struct {
	link     Link
	sessions Sessions
	hub      *eventHub
}

// NewRouter wires the REST routes and subscribes the SSE hub to the bus.
func NewRouter(lnk Link, sessions Sessions, bus *events.Bus) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	h := &handlers{
		link:     lnk,
		sessions: sessions,
		hub:      newEventHub(bus),
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/status", h.handleStatus)
		r.Get("/session", h.handleSession)
		r.Post("/scan", h.handleScan)
		r.Post("/retry", h.handleRetry)
		r.Post("/forget", h.handleForget)
		r.Post("/save", h.handleSave)
		r.Get("/events", h.handleSSE)
	})

	return r
}

type statusResponse struct {
	Link    linkStatus     `json:"link"`
	Sample  protocol.Frame `json:"sample"`
	Session sessionSummary `json:"session"`
}

type linkStatus struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type sessionSummary struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Steps    uint64  `json:"steps"`
	Distance float64 `json:"distance"`
	Calories uint64  `json:"calories"`
	Segments int     `json:"segments"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.link.Status()
	s := h.sessions.Session()

	writeJSON(w, http.StatusOK, statusResponse{
		Link:   linkStatus{State: status.State.String(), Reason: status.Reason},
		Sample: h.sessions.LastSample(),
		Session: sessionSummary{
			ID:       s.ID,
			Date:     s.StartDate,
			Steps:    s.Steps,
			Distance: s.Distance,
			Calories: s.Calories,
			Segments: len(s.Segments),
		},
	})
}

func (h *handlers) handleSession(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Session()
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) handleScan(w http.ResponseWriter, _ *http.Request) {
	h.link.StartScanning()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

func (h *handlers) handleRetry(w http.ResponseWriter, _ *http.Request) {
	h.link.Retry()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (h *handlers) handleForget(w http.ResponseWriter, _ *http.Request) {
	h.link.Forget()
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

func (h *handlers) handleSave(w http.ResponseWriter, r *http.Request) {
	saved, err := h.sessions.SaveSession(r.Context(), time.Now())
	if err != nil {
		code := http.StatusBadGateway
		switch errors.CodeOf(err) {
		case coordinator.ErrNothingToSave, coordinator.ErrSessionInvalid:
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// Server wraps the HTTP listener for the daemon lifecycle.
type Server struct {
	srv *http.Server
}

func NewServer(listen string, router chi.Router) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	logger.Info().Str("listen", s.srv.Addr).Msg("HTTP API listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
