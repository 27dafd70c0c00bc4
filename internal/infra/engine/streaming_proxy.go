package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siavashhub/lemonade/internal/domain"
)

// StreamingProxy forwards a request to a backend and writes the response to
// a sink, either verbatim (byte-stream forward) or while extracting
// telemetry from an SSE stream.
type StreamingProxy struct {
	client *http.Client
}

// NewStreamingProxy builds a proxy whose upstream client has no timeout;
// completion calls may legitimately take minutes.
func NewStreamingProxy() *StreamingProxy {
	return &StreamingProxy{client: &http.Client{Timeout: 0}}
}

var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeaders(dst http.Header, src http.Header) {
	for key, values := range src {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// flushWriter flushes the underlying ResponseWriter after every write so
// bytes reach the client as soon as they arrive from upstream.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

func newFlushWriter(w http.ResponseWriter) flushWriter {
	f, _ := w.(http.Flusher)
	return flushWriter{w: w, f: f}
}

// ForwardRequest opens a POST against url, writes bytes unchanged to w as
// they arrive (byte-stream forward mode), and returns once the upstream
// response is fully copied or the request context is cancelled.
func (p *StreamingProxy) ForwardRequest(ctx context.Context, url string, body []byte, headers http.Header, w http.ResponseWriter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.NetworkError{Op: "forward_request", Err: err}
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	fw := newFlushWriter(w)
	_, err = io.Copy(fw, resp.Body)
	return err
}

// sseEvent accumulates data: lines for a single SSE event.
type sseEvent struct {
	dataLines []string
}

func (e *sseEvent) data() string { return strings.Join(e.dataLines, "\n") }
func (e *sseEvent) empty() bool  { return len(e.dataLines) == 0 }

// ForwardStreaming opens a POST against url, writes every byte unchanged to
// w (SSE forward mode) while a line-oriented parser running over a copy of
// the stream extracts telemetry. onTelemetry is invoked once, after the
// stream completes, with the finalized record. approximateTokens enables
// the 4-characters-per-token fallback when a frame carries no usage object.
func (p *StreamingProxy) ForwardStreaming(ctx context.Context, url string, body []byte, headers http.Header, w http.ResponseWriter, approximateTokens bool, onTelemetry func(domain.Telemetry)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		writeStreamError(w, err)
		return nil
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	fw := newFlushWriter(w)
	tee := io.TeeReader(resp.Body, fw)

	telemetry, parseErr := scanSSE(ctx, tee, approximateTokens)
	if parseErr != nil && parseErr != io.EOF && parseErr != context.Canceled {
		writeStreamError(w, parseErr)
	}
	if onTelemetry != nil {
		onTelemetry(telemetry)
	}
	return nil
}

// scanSSE parses data: frames from r, folding multi-line events together
// and tolerating mixed \n/\r\n line endings and ":" keep-alive comments.
func scanSSE(ctx context.Context, r io.Reader, approximateTokens bool) (domain.Telemetry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		telemetry     domain.Telemetry
		start         = time.Now()
		firstTokenAt  time.Time
		haveUsage     bool
		approxTokens  int
	)

	cur := &sseEvent{}
	flushEvent := func() {
		if cur.empty() {
			return
		}
		raw := cur.data()
		cur = &sseEvent{}

		if raw == "[DONE]" {
			return
		}

		if firstTokenAt.IsZero() {
			firstTokenAt = time.Now()
			telemetry.TimeToFirstTokenSeconds = firstTokenAt.Sub(start).Seconds()
		}

		var frame map[string]any
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			return
		}

		if usage, ok := frame["usage"].(map[string]any); ok {
			if v, ok := usage["prompt_tokens"].(float64); ok {
				telemetry.InputTokens = int(v)
			}
			if v, ok := usage["completion_tokens"].(float64); ok {
				telemetry.OutputTokens = int(v)
			}
			haveUsage = true
			return
		}

		if approximateTokens && !haveUsage {
			if text := extractDeltaText(frame); text != "" {
				approxTokens += domain.ApproximateTokenCount(len(text))
			}
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return telemetry, ctx.Err()
		default:
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case line == "":
			flushEvent()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment, ignored
		case strings.HasPrefix(line, "data:"):
			cur.dataLines = append(cur.dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// ignore event:/id:/retry: fields, not used by this protocol
		}
	}
	flushEvent()

	if !haveUsage && approximateTokens {
		telemetry.OutputTokens = approxTokens
	}
	if !firstTokenAt.IsZero() {
		elapsed := time.Since(firstTokenAt).Seconds()
		if elapsed > 0 {
			telemetry.TokensPerSecond = float64(telemetry.OutputTokens) / elapsed
		}
	}

	return telemetry, scanner.Err()
}

func extractDeltaText(frame map[string]any) string {
	choices, ok := frame["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return ""
	}
	text, _ := delta["content"].(string)
	return text
}

// writeStreamError writes a terminal SSE error frame rather than letting the
// failure propagate into the HTTP server after headers are already sent.
func writeStreamError(w http.ResponseWriter, err error) {
	fmt.Fprintf(w, "data: {\"error\":{\"message\":%q,\"type\":\"streaming_error\"}}\n\n", err.Error())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
