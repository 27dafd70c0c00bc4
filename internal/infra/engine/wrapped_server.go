package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/siavashhub/lemonade/internal/domain"
	"github.com/siavashhub/lemonade/internal/infra/metrics"
)

const (
	readyPollInterval   = 100 * time.Millisecond
	readyPollCeiling    = 10 * time.Minute
	readyLogCadence     = 10 * time.Second
	terminateGracePeriod = 5 * time.Second
	healthProbeTimeout  = 1 * time.Second
)

// argvBuilder produces the executable and flags for a concrete backend
// given its assigned port (component G's contribution to the template).
type argvBuilder func(port int) []string

// readyLogger receives periodic "still waiting" notices during startup.
type readyLogger func(waited time.Duration)

// server is the shared template-method implementation behind every concrete
// WrappedServer (LlamaBackend, AudioBackend, AcceleratorBackend): one
// instance wraps exactly one subprocess.
type server struct {
	name      string
	model     domain.Model
	buildArgv argvBuilder
	healthPaths []string
	onWaiting readyLogger
	approxTokens bool

	mu        sync.RWMutex
	port      int
	proc      *ProcessHandle
	ready     bool
	baseURL   string
	telemetry domain.Telemetry
	haveTelemetry bool

	proxy *StreamingProxy
}

func newServer(name string, model domain.Model, buildArgv argvBuilder, healthPaths []string, onWaiting readyLogger, approxTokens bool) *server {
	return &server{
		name:        name,
		model:       model,
		buildArgv:   buildArgv,
		healthPaths: healthPaths,
		onWaiting:   onWaiting,
		approxTokens: approxTokens,
		proxy:       NewStreamingProxy(),
	}
}

// Start chooses a port, spawns the subprocess, and blocks until it reports
// ready or fails.
func (s *server) Start(ctx context.Context) error {
	port, err := FindFreePort(8700)
	if err != nil {
		return err
	}

	argv := s.buildArgv(port)

	proc, err := Spawn(argv, nil, "")
	if err != nil {
		return &domain.BackendStartError{Reason: err.Error()}
	}

	s.mu.Lock()
	s.port = port
	s.proc = proc
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.mu.Unlock()

	if err := s.waitForReady(ctx); err != nil {
		proc.Terminate(terminateGracePeriod)
		if code, exited := proc.ExitCode(); exited {
			return &domain.BackendStartError{Reason: err.Error(), ExitCode: code, HasExit: true}
		}
		return &domain.BackendStartError{Reason: err.Error()}
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// waitForReady polls the health endpoints at readyPollInterval up to
// readyPollCeiling, returning early if the process exits.
func (s *server) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyPollCeiling)
	lastLog := time.Now()
	start := time.Now()

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not become ready within %s", s.name, readyPollCeiling)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.proc.Done():
			code, _ := s.proc.ExitCode()
			return fmt.Errorf("%s exited before becoming ready (exit code %d): %s", s.name, code, s.proc.StderrTail())
		default:
		}

		for _, path := range s.healthPaths {
			if IsReachable(ctx, s.baseURL+path, healthProbeTimeout) {
				return nil
			}
		}

		if s.onWaiting != nil && time.Since(lastLog) >= readyLogCadence {
			s.onWaiting(time.Since(start))
			lastLog = time.Now()
		}

		time.Sleep(readyPollInterval)
	}
}

// Stop terminates the subprocess and waits for it to be reaped.
func (s *server) Stop(ctx context.Context) error {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		return nil
	}
	proc.Terminate(terminateGracePeriod)
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return nil
}

// Ready reports whether the backend passed its startup probe and its
// process is still running; a crash after startup flips this back to false,
// which is how ModelManager.ReapDead recognizes a dead slot.
func (s *server) Ready() bool {
	s.mu.RLock()
	ready := s.ready
	proc := s.proc
	s.mu.RUnlock()

	if !ready {
		return false
	}
	if proc != nil && !proc.IsRunning() {
		return false
	}
	return true
}

func (s *server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// ForwardRequest proxies a single non-streaming request, wrapping both
// transport failures and non-2xx backend responses into a JSON error body
// the caller can inspect without re-parsing the raw backend text.
func (s *server) ForwardRequest(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	client := NewHTTPClient(0)
	status, respBody, err := client.Post(r.Context(), s.BaseURL()+r.URL.Path, body)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "network_error", err.Error())
		return nil
	}
	if status < 200 || status >= 300 {
		writeBackendError(w, &domain.BackendError{
			StatusCode: status,
			Response:   string(respBody),
			Category:   domain.CategoryBackendError,
		})
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(respBody)
	return err
}

// ForwardStreaming delegates to StreamingProxy with the process-wide
// unbounded inference timeout and records the resulting telemetry.
func (s *server) ForwardStreaming(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.proxy.ForwardStreaming(r.Context(), s.BaseURL()+r.URL.Path, body, r.Header, w, s.approxTokens, func(t domain.Telemetry) {
		s.mu.Lock()
		s.telemetry = t
		s.haveTelemetry = true
		s.mu.Unlock()

		metrics.InferenceLatency.WithLabelValues(s.model.ID).Observe(time.Since(start).Seconds())
		metrics.InferenceTokens.WithLabelValues(s.model.ID, "prompt").Add(float64(t.InputTokens))
		metrics.InferenceTokens.WithLabelValues(s.model.ID, "completion").Add(float64(t.OutputTokens))
	})
	return err
}

func (s *server) LastTelemetry() (domain.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetry, s.haveTelemetry
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}

// writeBackendError mirrors a non-2xx backend response back to the caller,
// surfacing the original status and body as distinct fields rather than
// collapsing them into a single message string.
func writeBackendError(w http.ResponseWriter, be *domain.BackendError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(be.StatusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":     be.Error(),
			"type":        string(be.Category),
			"status_code": be.StatusCode,
			"response":    be.Response,
		},
	})
}
