package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/siavashhub/lemonade/internal/domain"
)

func TestStreamingProxy_ForwardRequest_CopiesBodyAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "llama-server")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	proxy := NewStreamingProxy()
	rec := httptest.NewRecorder()
	err := proxy.ForwardRequest(context.Background(), upstream.URL, []byte(`{"model":"x"}`), http.Header{}, rec)
	if err != nil {
		t.Fatalf("ForwardRequest() error: %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Backend") != "llama-server" {
		t.Error("expected X-Backend header to be forwarded")
	}
	if rec.Header().Get("Connection") != "" {
		t.Error("hop-by-hop Connection header should not be forwarded")
	}
}

func TestStreamingProxy_ForwardRequest_UpstreamUnreachable(t *testing.T) {
	proxy := NewStreamingProxy()
	rec := httptest.NewRecorder()
	err := proxy.ForwardRequest(context.Background(), "http://127.0.0.1:1", []byte(`{}`), http.Header{}, rec)
	if err == nil {
		t.Fatal("expected error when upstream is unreachable")
	}
	if _, ok := err.(*domain.NetworkError); !ok {
		t.Errorf("error = %T, want *domain.NetworkError", err)
	}
}

func TestStreamingProxy_ForwardRequest_ContextCancelled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	proxy := NewStreamingProxy()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	err := proxy.ForwardRequest(ctx, upstream.URL, []byte(`{}`), http.Header{}, rec)
	if err == nil {
		t.Fatal("expected error on client disconnect via context cancellation")
	}
}

func TestStreamingProxy_ForwardStreaming_ExtractsUsageTelemetry(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		frames := []string{
			`data: {"choices":[{"delta":{"content":"hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"usage":{"prompt_tokens":10,"completion_tokens":2}}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			w.Write([]byte(f + "\n\n"))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	proxy := NewStreamingProxy()
	rec := httptest.NewRecorder()

	var got domain.Telemetry
	err := proxy.ForwardStreaming(context.Background(), upstream.URL, []byte(`{}`), http.Header{}, rec, true, func(tel domain.Telemetry) {
		got = tel
	})
	if err != nil {
		t.Fatalf("ForwardStreaming() error: %v", err)
	}

	if got.InputTokens != 10 {
		t.Errorf("InputTokens = %d, want 10", got.InputTokens)
	}
	if got.OutputTokens != 2 {
		t.Errorf("OutputTokens = %d, want 2 (real usage wins over approximation)", got.OutputTokens)
	}
	if !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Error("byte stream should still contain the raw [DONE] sentinel forwarded verbatim")
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", rec.Header().Get("Content-Type"))
	}
}

func TestStreamingProxy_ForwardStreaming_ApproximatesWithoutUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"12345678"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: [DONE]` + "\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	proxy := NewStreamingProxy()
	rec := httptest.NewRecorder()

	var got domain.Telemetry
	err := proxy.ForwardStreaming(context.Background(), upstream.URL, []byte(`{}`), http.Header{}, rec, true, func(tel domain.Telemetry) {
		got = tel
	})
	if err != nil {
		t.Fatalf("ForwardStreaming() error: %v", err)
	}
	if got.OutputTokens != domain.ApproximateTokenCount(8) {
		t.Errorf("OutputTokens = %d, want %d", got.OutputTokens, domain.ApproximateTokenCount(8))
	}
}

func TestStreamingProxy_ForwardStreaming_NoApproximationWhenDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"12345678"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: [DONE]` + "\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	proxy := NewStreamingProxy()
	rec := httptest.NewRecorder()

	var got domain.Telemetry
	err := proxy.ForwardStreaming(context.Background(), upstream.URL, []byte(`{}`), http.Header{}, rec, false, func(tel domain.Telemetry) {
		got = tel
	})
	if err != nil {
		t.Fatalf("ForwardStreaming() error: %v", err)
	}
	if got.OutputTokens != 0 {
		t.Errorf("OutputTokens = %d, want 0 when approximation disabled", got.OutputTokens)
	}
}
