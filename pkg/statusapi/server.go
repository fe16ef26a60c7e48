// pkg/statusapi/server.go
//
// Read-mostly HTTP surface of a running governor: health, status, recent
// events, metrics and a rate-limited on-demand tick.

package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/audit"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/version"
	cerr "github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Governor is the loop the API reports on and triggers.
type Governor interface {
	Tick(ctx context.Context) (scheduler.TickReport, error)
	Status() scheduler.Status
}

// Events is the recent-event history.
type Events interface {
	Recent(n int) []governor.RemediationEvent
	LastNotification() (audit.Notification, bool)
}

type Config struct {
	Listen    string
	TickRate  float64
	TickBurst int
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	scheduler.Status
	Version          string                      `json:"version"`
	RecentEvents     []governor.RemediationEvent `json:"recent_events"`
	LastNotification *audit.Notification         `json:"last_notification,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Server struct {
	gov     Governor
	events  Events
	metrics http.Handler
	limiter *rate.Limiter
	router  *mux.Router
	srv     *http.Server
	ln      net.Listener
}

// New builds the router. metrics may be nil.
func New(gov Governor, events Events, metrics http.Handler, cfg Config) *Server {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 0.2
	}
	if cfg.TickBurst <= 0 {
		cfg.TickBurst = 1
	}
	s := &Server{
		gov:     gov,
		events:  events,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Limit(cfg.TickRate), cfg.TickBurst),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/events", s.recentEvents).Methods(http.MethodGet)
	api.HandleFunc("/tick", s.tick).Methods(http.MethodPost)

	r.Use(recovery)
	r.Use(logging)
	s.router = r

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves in the background. The returned address is the
// bound one, which differs from Listen when the port is 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", cerr.Wrapf(err, "failed to listen on %s", s.srv.Addr)
	}
	s.ln = ln
	addr := ln.Addr().String()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !cerr.Is(err, http.ErrServerClosed) {
			otelzap.Ctx(ctx).Error("Status API stopped", zap.Error(err))
		}
	}()
	otelzap.Ctx(ctx).Info("Status API listening", zap.String("addr", addr))
	return addr, nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.gov.Status()
	writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"state":   st.State,
		"running": st.Running,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:       s.gov.Status(),
		Version:      version.Version,
		RecentEvents: []governor.RemediationEvent{},
	}
	if s.events != nil {
		resp.RecentEvents = s.events.Recent(defaultEventLimit)
		if n, ok := s.events.LastNotification(); ok {
			resp.LastNotification = &n
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(r.Context(), w, http.StatusBadRequest, cerr.Newf("invalid limit %q", raw), "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events := []governor.RemediationEvent{}
	if s.events != nil {
		events = s.events.Recent(limit)
	}
	writeJSON(r.Context(), w, http.StatusOK, events)
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "5")
		writeError(r.Context(), w, http.StatusTooManyRequests, cerr.New("tick rate limit exceeded"), "Manual ticks are rate limited")
		return
	}

	// A triggered tick runs to completion even if the caller goes away.
	report, err := s.gov.Tick(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(r.Context(), w, http.StatusOK, report)
	case cerr.Is(err, governor.ErrTickInProgress):
		writeError(r.Context(), w, http.StatusConflict, err, "A tick is already running")
	case governor.IsSamplingError(err):
		writeError(r.Context(), w, http.StatusServiceUnavailable, err, "Host metrics unavailable, tick skipped")
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, err, "Tick failed")
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		otelzap.Ctx(ctx).Warn("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error, message string) {
	writeJSON(ctx, w, status, ErrorResponse{Error: err.Error(), Message: message})
}
