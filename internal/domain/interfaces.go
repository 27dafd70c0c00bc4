package domain

import (
	"context"
	"net/http"
)

// ModelStore is the read side of the model catalog: everything above the
// registry (the router, the CLI) depends on this instead of a concrete
// storage type.
type ModelStore interface {
	Get(ctx context.Context, modelID string) (Model, error)
	List(ctx context.Context) ([]Model, error)
	MarkDownloaded(ctx context.Context, modelID string, artifactPath string) error
}

// WrappedServer is the capability interface every backend wrapper satisfies:
// start, stop, forward_request, forward_streaming, ready, base_url,
// telemetry. An interface rather than a class hierarchy, since Go has no
// inheritance.
type WrappedServer interface {
	// Start spawns the backend subprocess and blocks until it is ready to
	// accept requests or ctx is cancelled / the process exits early.
	Start(ctx context.Context) error

	// Stop terminates the backend, waiting up to its configured grace period
	// before escalating to a forceful kill.
	Stop(ctx context.Context) error

	// Ready reports whether the backend has completed its readiness check.
	Ready() bool

	// BaseURL returns the backend's local HTTP endpoint.
	BaseURL() string

	// ForwardRequest proxies a single non-streaming request. A 2xx backend
	// response body is copied onto w; a non-2xx response or a transport
	// failure is written onto w as a JSON error body.
	ForwardRequest(w http.ResponseWriter, r *http.Request) error

	// ForwardStreaming proxies a server-sent-events request, forwarding each
	// frame as it arrives and accumulating telemetry along the way.
	ForwardStreaming(w http.ResponseWriter, r *http.Request) error

	// LastTelemetry returns the telemetry recorded by the most recently
	// completed request, if any.
	LastTelemetry() (Telemetry, bool)
}
