package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tutorlink/internal/app/connection"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
	"tutorlink/pkg/middleware"
)

// ConnectionView is the read side of the connection manager.
type ConnectionView interface {
	State() connection.State
	Actor() domain.Actor
	LastError() error
}

type CallView interface {
	Session() domain.CallSession
}

type ConversationView interface {
	OpenRoom() (roomID, peerID string, ok bool)
}

type UnreadView interface {
	TotalUnread() int
}

type NotificationView interface {
	UnreadCount() int
}

// Views bundles what the debug endpoints read. Nil members are skipped.
type Views struct {
	Connection    ConnectionView
	Calls         CallView
	Conversation  ConversationView
	Sidebar       UnreadView
	Notifications NotificationView
}

// Server exposes health, a state snapshot and metrics of the running client.
type Server struct {
	log     *slog.Logger
	addr    string
	app     string
	views   Views
	metrics http.Handler
	srv     *http.Server
}

func NewServer(log *slog.Logger, addr, app string, views Views, metrics http.Handler) *Server {
	s := &Server{
		log:     log,
		addr:    addr,
		app:     app,
		views:   views,
		metrics: metrics,
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.TracerMiddleware(s.app))

	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("server - debug - listening", slog.String("addr", s.addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	Connection string `json:"connection,omitempty"`
}

// handleHealth reports 503 once reconnecting has given up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if s.views.Connection != nil {
		state := s.views.Connection.State()
		resp.Connection = string(state)
		if state == connection.StateFailed {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

type stateResponse struct {
	Connection          string              `json:"connection"`
	LastError           string              `json:"lastError,omitempty"`
	Actor               *domain.Actor       `json:"actor,omitempty"`
	OpenRoom            string              `json:"openRoom,omitempty"`
	OpenPeer            string              `json:"openPeer,omitempty"`
	Call                *domain.CallSession `json:"call,omitempty"`
	UnreadMessages      int                 `json:"unreadMessages"`
	UnreadNotifications int                 `json:"unreadNotifications"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var resp stateResponse
	if v := s.views.Connection; v != nil {
		resp.Connection = string(v.State())
		if err := v.LastError(); err != nil {
			resp.LastError = err.Error()
		}
		if actor := v.Actor(); !actor.IsZero() {
			resp.Actor = &actor
		}
	}
	if v := s.views.Conversation; v != nil {
		if roomID, peerID, ok := v.OpenRoom(); ok {
			resp.OpenRoom, resp.OpenPeer = roomID, peerID
		}
	}
	if v := s.views.Calls; v != nil {
		call := v.Session()
		resp.Call = &call
	}
	if v := s.views.Sidebar; v != nil {
		resp.UnreadMessages = v.TotalUnread()
	}
	if v := s.views.Notifications; v != nil {
		resp.UnreadNotifications = v.UnreadCount()
	}
	logging.FromContext(r.Context()).Debug("server - state - served", slog.String("connection", resp.Connection))
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
