// Package api implements the Router façade (spec component K): it exposes
// Lemonade's HTTP surface and dispatches each request to ensure_loaded plus
// forward_request/forward_streaming on the resolved WrappedServer.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siavashhub/lemonade/internal/health"
	"github.com/siavashhub/lemonade/internal/infra/catalog"
	"github.com/siavashhub/lemonade/internal/infra/engine"
	"github.com/siavashhub/lemonade/internal/infra/registry"
)

// Server is Lemonade's HTTP API server.
type Server struct {
	manager        *engine.ModelManager
	models         *registry.Manager
	checker        *health.Checker
	metricsEnabled bool
	onShutdown     func()
}

// NewServer creates a Router façade over a ModelManager and model catalog.
func NewServer(manager *engine.ModelManager, models *registry.Manager, checker *health.Checker) *Server {
	return &Server{manager: manager, models: models, checker: checker}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// OnShutdown registers the callback invoked asynchronously after
// POST /internal/shutdown has already answered the client.
func (s *Server) OnShutdown(fn func()) { s.onShutdown = fn }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleCompletion)
		r.Post("/completions", s.handleCompletion)
		r.Post("/embeddings", s.handleNonStreaming)
		r.Post("/rerank", s.handleNonStreaming)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/pull", s.handlePull)
		r.Post("/delete", s.handleDelete)
		r.Get("/health", s.handleHealth)
	})

	r.Post("/internal/shutdown", s.handleShutdown)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.checker.Statuses()
	status := http.StatusOK
	if !s.checker.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": healthLabel(s.checker.IsHealthy()),
		"checks": statuses,
	})
}

func healthLabel(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if s.onShutdown != nil {
		go func() {
			time.Sleep(50 * time.Millisecond) // let the response flush before teardown
			s.onShutdown()
		}()
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	showAll := r.URL.Query().Get("show_all") == "true"

	downloaded, err := s.models.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	downloadedSet := make(map[string]bool, len(downloaded))
	for _, m := range downloaded {
		downloadedSet[m.ID] = true
	}

	type modelEntry struct {
		Name        string `json:"id"`
		Family      string `json:"family,omitempty"`
		Parameters  string `json:"parameters,omitempty"`
		Downloaded  bool   `json:"downloaded"`
		Recipe      string `json:"recipe,omitempty"`
		Description string `json:"description,omitempty"`
	}

	var out []modelEntry
	if showAll {
		for _, entry := range catalog.Catalog {
			out = append(out, modelEntry{
				Name:        entry.Name,
				Family:      entry.Family,
				Parameters:  entry.Parameters,
				Downloaded:  downloadedSet[entry.Name],
				Recipe:      string(entry.EffectiveRecipe()),
				Description: entry.Description,
			})
		}
	} else {
		for _, m := range downloaded {
			out = append(out, modelEntry{
				Name:       m.ID,
				Downloaded: true,
				Recipe:     string(m.Recipe),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   out,
	})
}

type pullRequest struct {
	Model string `json:"model"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	if err := s.models.Pull(req.Model, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "pull_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "model": req.Model})
}

type deleteRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	_ = s.manager.Unload(r.Context(), req.Model)
	if err := s.models.Remove(req.Model); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "model": req.Model})
}
