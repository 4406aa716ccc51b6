// Package gateway hosts the HTTP surface: health, Prometheus metrics, and
// the token-verified webhook receiver that triggers workflows.
package gateway

import (
	"context"
	"crypto/subtle"
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/valet/internal/notify"
	"github.com/haasonsaas/valet/internal/workflow"
)

// maxWebhookBody bounds webhook payloads (1MB).
const maxWebhookBody = 1 << 20

// WorkflowService is the slice of the workflow manager the gateway needs.
type WorkflowService interface {
	Run(ctx context.Context, name string, workflowCtx map[string]any) ([]workflow.StepResult, error)
}

// Config configures the gateway server.
type Config struct {
	Host    string
	Port    int
	Version string

	// WebhookSecret, when set, requires Authorization: Bearer <secret> on
	// webhook deliveries.
	WebhookSecret string
}

// Server is the HTTP gateway.
type Server struct {
	config     Config
	workflows  WorkflowService
	dispatcher *notify.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the gateway. workflows may be nil when the workflow
// subsystem is not wired; webhook deliveries then answer 503.
func NewServer(config Config, workflows WorkflowService, dispatcher *notify.Dispatcher, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		workflows:  workflows,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/webhooks/", s.handleWebhook)
	return mux
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := strings.TrimPrefix(r.URL.Path, "/webhooks/")

	status := s.serveWebhook(w, r, name)

	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(name, strconv.Itoa(status)).Inc()
		s.metrics.WebhookDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) serveWebhook(w http.ResponseWriter, r *http.Request, name string) int {
	if r.Method != http.MethodPost {
		return writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
	if name == "" || strings.Contains(name, "/") {
		return writeError(w, http.StatusNotFound, "unknown webhook")
	}

	if s.config.WebhookSecret != "" {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.logger.Warn("webhook missing bearer token", "workflow", name, "remote", r.RemoteAddr)
			return writeError(w, http.StatusUnauthorized, "authorization required")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.WebhookSecret)) != 1 {
			s.logger.Warn("webhook token mismatch", "workflow", name, "remote", r.RemoteAddr)
			return writeError(w, http.StatusForbidden, "invalid token")
		}
	}

	if s.workflows == nil {
		return writeError(w, http.StatusServiceUnavailable, "workflows not available")
	}

	workflowCtx := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return writeError(w, http.StatusBadRequest, "read body: "+err.Error())
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &workflowCtx); err != nil {
			return writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
	}

	results, err := s.workflows.Run(r.Context(), name, workflowCtx)
	if err != nil {
		var unknown *workflow.ErrUnknownWorkflow
		var disabled *workflow.ErrWorkflowDisabled
		switch {
		case errors.As(err, &unknown):
			return writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &disabled):
			return writeError(w, http.StatusConflict, err.Error())
		default:
			return writeError(w, http.StatusInternalServerError, err.Error())
		}
	}

	if s.metrics != nil {
		for _, r := range results {
			s.metrics.WorkflowSteps.WithLabelValues(name, string(r.Status)).Inc()
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Send(workflow.Summarize(name, results), false)
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"workflow": name,
		"results":  results,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("write response failed", "error", err)
	}
	return status
}

func writeError(w http.ResponseWriter, status int, message string) int {
	return writeJSON(w, status, map[string]any{"status": "error", "error": message})
}
