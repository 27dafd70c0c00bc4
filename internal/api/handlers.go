package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/siavashhub/lemonade/internal/domain"
)

// requestShape is the minimal JSON surface the router needs to dispatch —
// everything else in the body is forwarded to the backend untouched.
type requestShape struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func peekRequest(r *http.Request) (requestShape, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return requestShape{}, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var shape requestShape
	if len(body) > 0 {
		if err := json.Unmarshal(body, &shape); err != nil {
			return requestShape{}, err
		}
	}
	return shape, nil
}

func (s *Server) resolveServer(w http.ResponseWriter, r *http.Request) (domain.WrappedServer, requestShape, bool) {
	shape, err := peekRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return nil, shape, false
	}
	if shape.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return nil, shape, false
	}

	dispatchID := uuid.New().String()[:8]
	slog.Debug("dispatching request", "dispatch_id", dispatchID, "model", shape.Model, "path", r.URL.Path)

	backend, err := s.manager.EnsureLoaded(r.Context(), shape.Model)
	if err != nil {
		writeDispatchError(w, err)
		return nil, shape, false
	}
	return backend, shape, true
}

// handleCompletion dispatches /v1/chat/completions and /v1/completions:
// forward_streaming when the caller asked for stream=true, else
// forward_request.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	backend, shape, ok := s.resolveServer(w, r)
	if !ok {
		return
	}
	if shape.Stream {
		_ = backend.ForwardStreaming(w, r)
		return
	}
	_ = backend.ForwardRequest(w, r)
}

// handleNonStreaming dispatches /v1/embeddings and /v1/rerank, which are
// never streamed.
func (s *Server) handleNonStreaming(w http.ResponseWriter, r *http.Request) {
	backend, _, ok := s.resolveServer(w, r)
	if !ok {
		return
	}
	_ = backend.ForwardRequest(w, r)
}

func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownModel):
		writeError(w, http.StatusNotFound, "unknown_model", err.Error())
	case errors.Is(err, domain.ErrModelNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "model_not_loaded", err.Error())
	case errors.Is(err, domain.ErrNoFreePort):
		writeError(w, http.StatusInternalServerError, "no_free_port", err.Error()+" — retry shortly")
	default:
		var startErr *domain.BackendStartError
		if errors.As(err, &startErr) {
			writeError(w, http.StatusInternalServerError, "backend_error", startErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
