// Package gateway binds the dialect converters, transcript repair, and the
// authenticated upstream client behind an HTTP surface.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/dialect/responses"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/transcript"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// Server is the gateway's HTTP front end.
type Server struct {
	cfg      *config.Manager
	logger   *slog.Logger
	metrics  *observability.Metrics
	auth     *auth.Manager
	upstream *upstream.Client
	store    *responses.Store

	models []string

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg *config.Manager, logger *slog.Logger, metrics *observability.Metrics, am *auth.Manager, client *upstream.Client) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		auth:     am,
		upstream: client,
		store:    responses.NewStore(),
	}
}

// Start fetches the upstream model list and begins serving. It returns once
// the listener is bound; Serve runs in the background.
func (s *Server) Start(ctx context.Context) error {
	models, err := s.upstream.FetchModels(ctx)
	if err != nil {
		s.logger.Warn("model list unavailable", "error", err)
	}
	s.models = models

	addr := s.cfg.Get(config.KeyListenAddr)
	if addr == "" {
		addr = config.DefaultListenAddr
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", addr)
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

// Routes assembles the HTTP surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("GET /v1/models", s.instrument("models", s.handleModels))
	mux.HandleFunc("GET /v1/model/info", s.instrument("model_info", s.handleModelInfo))
	mux.HandleFunc("POST /v1/chat/completions", s.instrument("chat_completions", s.handleChatCompletions))
	mux.HandleFunc("POST /v1/messages", s.instrument("messages", s.handleMessages))
	mux.HandleFunc("POST /v1/responses", s.instrument("responses", s.handleCreateResponse))
	mux.HandleFunc("GET /v1/responses/{id}", s.instrument("responses_get", s.handleGetResponse))
	mux.HandleFunc("DELETE /v1/responses/{id}", s.instrument("responses_delete", s.handleDeleteResponse))
	mux.HandleFunc("POST /v1/spend/calculate", s.instrument("spend_calculate", s.handleSpendCalculate))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument tags each request with a correlation id and records the
// endpoint/status counter once the handler returns.
func (s *Server) instrument(endpoint string, h func(http.ResponseWriter, *http.Request, *slog.Logger)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("request_id", uuid.NewString(), "endpoint", endpoint)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, logger)
		s.metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
	}
}

// repair runs transcript repair and counts conversations that needed it.
func (s *Server) repair(msgs []model.Message, logger *slog.Logger) []model.Message {
	repaired := transcript.Repair(msgs, logger)
	if len(repaired) != len(msgs) {
		s.metrics.TranscriptRepair.Inc()
	}
	return repaired
}

// modelAvailable reports whether name is served upstream. An empty list
// (model discovery unavailable and no configured default) is permissive.
func (s *Server) modelAvailable(name string) bool {
	if len(s.models) == 0 {
		return true
	}
	for _, m := range s.models {
		if m == name {
			return true
		}
	}
	return false
}

// statusWriter records the response status for metrics while keeping the
// flushing behaviour the SSE writers rely on.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
