package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookdrop/internal/api"
	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
	"bookdrop/internal/staging"
	"bookdrop/internal/telegram"
)

const maxRequestBytes = 64 << 10

// service is the daemon surface the HTTP API exposes.
type service interface {
	Status(ctx context.Context) Status
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome
	Refresh(ctx context.Context, req delivery.Request) delivery.Outcome
	InvalidateHandle(ctx context.Context, bookID int64, format books.Format) error
	Handles(ctx context.Context, limit int) ([]handlecache.Entry, error)
	StagedFiles(ctx context.Context) ([]staging.File, error)
	Sweep(ctx context.Context) eviction.SweepResult
	HandleUpdate(update telegram.Update) bool
	MetricsHandler() http.Handler
}

var _ service = (*Daemon)(nil)

// APIServer serves the daemon HTTP API.
type APIServer struct {
	bind          string
	logger        *slog.Logger
	svc           service
	webhookSecret string
	now           func() time.Time

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP API for d. It returns nil when no bind address
// is configured.
func NewAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *APIServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &APIServer{
		bind:          bind,
		logger:        logger,
		svc:           d,
		webhookSecret: cfg.Telegram.WebhookSecret,
		now:           time.Now,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken, cfg.Telegram.WebhookPath),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *APIServer) routes(token, webhookPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("POST /api/deliver", authMiddleware(token, s.handleDeliver))
	mux.HandleFunc("POST /api/refresh", authMiddleware(token, s.handleRefresh))
	mux.HandleFunc("GET /api/cache", authMiddleware(token, s.handleListHandles))
	mux.HandleFunc("DELETE /api/cache/{id}/{format}", authMiddleware(token, s.handleInvalidate))
	mux.HandleFunc("GET /api/staging", authMiddleware(token, s.handleStaging))
	mux.HandleFunc("POST /api/staging/sweep", authMiddleware(token, s.handleSweep))
	if metricsHandler := s.svc.MetricsHandler(); metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if webhookPath != "" {
		mux.HandleFunc("POST "+webhookPath, s.handleWebhook)
	}
	return mux
}

// Start begins serving until ctx is cancelled.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *APIServer) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.svc.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		StagingDir:   status.StagingDir,
		StagedFiles:  status.StagedFiles,
		StagedBytes:  status.StagedBytes,
		Handles:      status.Handles,
		Sweeps:       status.Sweeps,
	}
	if status.Sweeps > 0 {
		payload.LastSweep = api.FromSweepResult(status.LastSweep, status.LastSweepAt)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *APIServer) handleDeliver(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDeliveryRequest(w, r)
	if !ok {
		return
	}
	s.writeOutcome(w, s.svc.Deliver(r.Context(), req))
}

func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDeliveryRequest(w, r)
	if !ok {
		return
	}
	s.writeOutcome(w, s.svc.Refresh(r.Context(), req))
}

func (s *APIServer) handleListHandles(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.svc.Handles(r.Context(), limit)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.HandleListResponse{Items: api.FromHandleEntries(entries)})
}

func (s *APIServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}
	format, err := books.ParseFormat(r.PathValue("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.InvalidateHandle(r.Context(), id, format); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleStaging(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.StagedFiles(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStagedFiles(files, s.now()))
}

func (s *APIServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	result := s.svc.Sweep(r.Context())
	s.writeJSON(w, http.StatusOK, api.FromSweepResult(result, s.now()))
}

func (s *APIServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := telegram.VerifyWebhook(r, s.webhookSecret); err != nil {
		s.log().Warn("rejected webhook call", logging.String("remote", r.RemoteAddr))
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	update, err := telegram.DecodeUpdate(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.svc.HandleUpdate(*update) {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not running")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *APIServer) decodeDeliveryRequest(w http.ResponseWriter, r *http.Request) (delivery.Request, bool) {
	var payload api.DeliveryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return delivery.Request{}, false
	}
	format, err := books.ParseFormat(payload.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return delivery.Request{}, false
	}
	if payload.BookID <= 0 || payload.ChatID == 0 {
		s.writeError(w, http.StatusBadRequest, "bookId and chatId are required")
		return delivery.Request{}, false
	}
	return delivery.Request{
		BookID: payload.BookID,
		Format: format,
		To: delivery.Recipient{
			ChatID:        payload.ChatID,
			ReplyTo:       payload.ReplyTo,
			EditMessageID: payload.EditMessageID,
		},
	}, true
}

// writeOutcome always answers 200: a failed delivery is a valid result whose
// reason is in the body.
func (s *APIServer) writeOutcome(w http.ResponseWriter, outcome delivery.Outcome) {
	s.writeJSON(w, http.StatusOK, api.FromOutcome(outcome))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTransientNetwork), errors.Is(err, services.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *APIServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
