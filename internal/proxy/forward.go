// Package proxy implements the request dispatch engine: the streaming
// forwarder for the primary path, the SSE accountant that taps token usage
// off the response stream, and the fire-and-forget compare dispatcher.
//
// DESIGN: The primary path streams bytes verbatim. No parsing or
// transformation happens between the upstream socket and the client; the
// accountant only observes a copy of each chunk. This keeps SSE formatting,
// field ordering, and whitespace byte-identical end to end.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/ryanolson/cc-proxy/internal/config"
	"github.com/ryanolson/cc-proxy/internal/stats"
	"github.com/ryanolson/cc-proxy/internal/telemetry"
)

// hopByHopHeaders are connection-scoped and never forwarded. content-length
// is included because the rewritten body has a new length; host because the
// outbound URL names the upstream.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

// Upstream is an immutable description of one forwarding destination.
// Each upstream owns its own HTTP client so that connection-pool exhaustion
// on one never starves the other.
type Upstream struct {
	Name            string
	BaseURL         string
	Timeout         time.Duration
	PassthroughAuth bool

	client *http.Client
}

// NewUpstream builds an upstream with a dedicated client. The timeout
// bounds receipt of the response head only; body reads after that point
// run without a total deadline so long streams are never cut off.
func NewUpstream(name, baseURL string, timeout time.Duration, passthroughAuth bool) *Upstream {
	return &Upstream{
		Name:            name,
		BaseURL:         strings.TrimSuffix(baseURL, "/"),
		Timeout:         timeout,
		PassthroughAuth: passthroughAuth,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   32,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// MessagesURL is the outbound endpoint for dispatching rewritten bodies.
func (u *Upstream) MessagesURL() string {
	return u.BaseURL + "/v1/messages"
}

// Forwarder streams /v1/messages requests to an upstream and the response
// back to the client, recording usage into the shared counters.
type Forwarder struct {
	Stats *stats.Counters
}

// Forward sends body to up's /v1/messages endpoint and relays the response
// verbatim to w.
//
// recordStats selects whether the response contributes to the counters:
// SSE responses stream through an Accountant; JSON responses are teed into
// a bounded buffer and parsed at EOF. In both cases the bytes written to
// the client are exactly the bytes read from the upstream.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, up *Upstream, headers http.Header, body []byte, correlationID string, recordStats bool) {
	start := time.Now()
	span := trace.SpanFromContext(r.Context())

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, up.MessagesURL(), bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("request_id", correlationID).Msg("failed to build upstream request")
		writeUpstreamError(w, correlationID, "upstream_protocol")
		return
	}
	copyRequestHeaders(req.Header, headers, up.PassthroughAuth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := up.client.Do(req)
	if err != nil {
		kind := classifyUpstreamError(err)
		log.Error().Err(err).
			Str("request_id", correlationID).
			Str("upstream", up.Name).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("kind", kind).
			Msg("upstream request failed")
		writeUpstreamError(w, correlationID, kind)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	log.Info().
		Str("request_id", correlationID).
		Str("upstream", up.Name).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("forward complete")

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set(CorrelationHeader, correlationID)
	if reqID := resp.Header.Get("x-request-id"); reqID != "" {
		telemetry.RecordUpstreamRequestID(span, reqID)
	}
	telemetry.RecordUpstreamStatus(span, up.Name, resp.StatusCode)
	w.WriteHeader(resp.StatusCode)

	isSSE := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	telemetry.RecordStreaming(span, isSSE)
	usage := f.relay(w, resp.Body, start, span, recordStats, isSSE, correlationID)

	if recordStats && f.Stats != nil {
		f.Stats.Add(usage.InputTokens, usage.OutputTokens, usage.ToolCalls)
	}
	telemetry.RecordUsage(span, usage.InputTokens, usage.OutputTokens, usage.ToolCalls)
}

// relay copies the upstream body to the client chunk by chunk, flushing
// after every write, and returns the usage observed on the way through.
// It returns whatever was accumulated at the point of any failure so the
// caller can commit partial usage.
func (f *Forwarder) relay(w http.ResponseWriter, upstream io.Reader, start time.Time, span trace.Span, recordStats, isSSE bool, correlationID string) Usage {
	flusher, canFlush := w.(http.Flusher)

	var accountant *Accountant
	var captured []byte
	if recordStats {
		if isSSE {
			accountant = NewAccountant()
		} else {
			captured = make([]byte, 0, config.DefaultBufferSize)
		}
	}

	firstChunk := true
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if firstChunk {
				firstChunk = false
				telemetry.RecordTTFT(span, time.Since(start))
			}
			if accountant != nil {
				accountant.Feed(chunk)
			}
			if captured != nil && len(captured) < config.MaxCapturedResponseSize {
				captured = append(captured, chunk...)
			}
			if _, writeErr := w.Write(chunk); writeErr != nil {
				log.Debug().Err(writeErr).Str("request_id", correlationID).Msg("client disconnected mid-stream")
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Warn().Err(readErr).Str("request_id", correlationID).Msg("upstream stream interrupted")
			}
			break
		}
	}
	telemetry.RecordDuration(span, time.Since(start))

	if accountant != nil {
		return accountant.Finish()
	}
	if captured != nil {
		return extractJSONUsage(captured)
	}
	return Usage{}
}

// ForwardRaw relays an arbitrary request (any method, any path) to the
// upstream base URL, preserving status, headers, and body. Used by the
// catch-all fallback; no stats, no accounting.
func (u *Upstream) ForwardRaw(w http.ResponseWriter, r *http.Request, correlationID string) {
	start := time.Now()
	url := u.BaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		writeUpstreamError(w, correlationID, "upstream_protocol")
		return
	}
	copyRequestHeaders(req.Header, r.Header, u.PassthroughAuth)
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := u.client.Do(req)
	if err != nil {
		kind := classifyUpstreamError(err)
		log.Warn().Err(err).
			Str("request_id", correlationID).
			Str("path", r.URL.Path).
			Str("kind", kind).
			Msg("fallback forward failed")
		writeUpstreamError(w, correlationID, kind)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set(CorrelationHeader, correlationID)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}

	log.Debug().
		Str("request_id", correlationID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("fallback forward complete")
}

// copyRequestHeaders copies inbound headers minus the hop-by-hop set.
// Credentials are stripped unless the upstream forwards client auth; the
// target uses its own credential scheme.
func copyRequestHeaders(dst, src http.Header, passthroughAuth bool) {
	for name, values := range src {
		lower := strings.ToLower(name)
		if _, skip := hopByHopHeaders[lower]; skip {
			continue
		}
		if lower == strings.ToLower(CorrelationHeader) {
			continue
		}
		if !passthroughAuth && (lower == "authorization" || lower == "x-api-key") {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// copyResponseHeaders relays upstream response headers minus hop-by-hop.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := hopByHopHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func classifyUpstreamError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "upstream_timeout"
	}
	return "upstream_connect"
}

// writeUpstreamError emits the terse 502 error body carrying the
// correlation ID so the client can cite it.
func writeUpstreamError(w http.ResponseWriter, correlationID, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(CorrelationHeader, correlationID)
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": kind, "request_id": correlationID},
	})
}
