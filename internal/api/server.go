// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketpulse/review-analysis/internal/analysis"
	"github.com/marketpulse/review-analysis/internal/cache"
	"github.com/marketpulse/review-analysis/internal/config"
	"github.com/marketpulse/review-analysis/internal/metrics"
)

// Orchestrator is the analysis surface the HTTP layer depends on.
type Orchestrator interface {
	Request(ctx context.Context, in analysis.RequestInput) (analysis.Submission, error)
	Status(ctx context.Context, productID string) (analysis.Task, error)
	Result(ctx context.Context, productID string) (analysis.Task, error)
	HandleCallback(ctx context.Context, p analysis.CallbackPayload) error
	Invalidate(ctx context.Context, productID, taskID string) (int, error)
}

// Server wires HTTP handlers to the orchestrator and cache.
type Server struct {
	router chi.Router
	svc    Orchestrator
	store  cache.Store
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The engine
// callback route stays outside API-key auth so webhook delivery never
// depends on our credentials.
func NewServer(svc Orchestrator, store cache.Store, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/analyze", func(r chi.Router) {
		r.Post("/callback", s.handleCallback)

		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Post("/", s.handleAnalyze)
			r.Get("/status/{product_id}", s.handleStatus)
			r.Get("/result/{product_id}", s.handleResult)
			r.Post("/{product_id}/invalidate", s.handleInvalidate)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The cache is fail-open, so a degraded cache never blocks readiness;
	// its health is reported for operators.
	payload := map[string]any{"status": "ready"}
	if s.store != nil {
		health := s.store.HealthCheck(r.Context())
		if health.Healthy {
			payload["cache"] = "healthy"
			payload["cache_latency_ms"] = health.Latency.Milliseconds()
		} else {
			payload["cache"] = "unhealthy"
		}
		if stats, ok := s.store.Stats(r.Context()); ok {
			payload["cache_keys"] = stats.KeyCount
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type analyzeRequest struct {
	ProductID string   `json:"product_id"`
	URL       string   `json:"url,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, analysis.NewError(analysis.CodeValidation, "invalid JSON"))
		return
	}
	submission, err := s.svc.Request(r.Context(), analysis.RequestInput{
		ProductID: req.ProductID,
		URL:       req.URL,
		Keywords:  req.Keywords,
		UserID:    req.UserID,
		Force:     req.Force,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submission)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	task, err := s.svc.Status(r.Context(), productID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:               task.Status,
		Progress:             task.Progress,
		EstimatedTimeSeconds: task.EstimatedTimeSeconds,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	task, err := s.svc.Result(r.Context(), productID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var payload analysis.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIError(w, analysis.NewError(analysis.CodeValidation, "invalid JSON"))
		return
	}
	// HandleCallback absorbs every failure mode; the engine always sees an
	// idempotent acknowledgement.
	if err := s.svc.HandleCallback(r.Context(), payload); err != nil {
		s.logger.Error("callback handling failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

type invalidateRequest struct {
	TaskID string `json:"task_id,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, analysis.NewError(analysis.CodeValidation, "invalid JSON"))
		return
	}
	deleted, err := s.svc.Invalidate(r.Context(), productID, req.TaskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

type statusResponse struct {
	Status               analysis.Status `json:"status"`
	Progress             int             `json:"progress"`
	EstimatedTimeSeconds int             `json:"estimated_time_seconds,omitempty"`
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := analysis.AsError(err); ok {
		if apiErr.HTTPStatus() >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.String("code", string(apiErr.Code)),
				zap.Error(err),
			)
		}
		writeAPIError(w, apiErr)
		return
	}
	s.logger.Error("unclassified request failure", zap.String("path", r.URL.Path), zap.Error(err))
	writeAPIError(w, analysis.NewError(analysis.CodeInternal, "internal server error"))
}

func writeAPIError(w http.ResponseWriter, apiErr *analysis.Error) {
	writeJSON(w, apiErr.HTTPStatus(), map[string]any{
		"error": map[string]string{
			"code":    string(apiErr.Code),
			"message": apiErr.Message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
