// Compare dispatcher: fire-and-forget POST of the rewritten request bytes
// to the target's /v1/messages for comparison logging.
//
// Every dispatch is detached from the originating request. Failures of any
// kind, including panics inside the task, are logged at warn and swallowed;
// the client-visible primary response is never affected. Requests beyond
// the concurrency bound are dropped, never queued.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/ryanolson/cc-proxy/internal/config"
)

// CompareDispatcher dispatches bounded fire-and-forget requests at the
// target upstream and consumes the responses for logging only.
type CompareDispatcher struct {
	upstream  *Upstream
	sem       *semaphore.Weighted
	wallClock time.Duration
	inFlight  atomic.Int64
}

// NewCompareDispatcher sizes the semaphore by maxConcurrent. The wall
// clock bounds each task end to end so a hung target cannot hold a permit
// forever.
func NewCompareDispatcher(up *Upstream, maxConcurrent int64) *CompareDispatcher {
	return &CompareDispatcher{
		upstream:  up,
		sem:       semaphore.NewWeighted(maxConcurrent),
		wallClock: config.CompareWallClock,
	}
}

// InFlight returns the number of compare tasks currently holding a permit.
func (d *CompareDispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// TryDispatch attempts a non-blocking permit acquire and, on success,
// spawns the compare task. At capacity the request is logged as skipped
// and dropped. Returns immediately in both cases.
func (d *CompareDispatcher) TryDispatch(headers http.Header, body []byte, correlationID string) {
	if !d.sem.TryAcquire(1) {
		log.Warn().
			Str("request_id", correlationID).
			Msg("compare dispatcher at capacity, skipping request")
		return
	}
	d.inFlight.Add(1)

	// The task owns copies: the originating request's buffers are not
	// safe to touch after its handler returns.
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)
	headersCopy := headers.Clone()

	go d.run(headersCopy, bodyCopy, correlationID)
}

func (d *CompareDispatcher) run(headers http.Header, body []byte, correlationID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("request_id", correlationID).
				Interface("panic", r).
				Msg("compare task panicked")
		}
		d.inFlight.Add(-1)
		d.sem.Release(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.wallClock)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.upstream.MessagesURL(), bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("request_id", correlationID).Msg("compare request build failed")
		return
	}
	copyRequestHeaders(req.Header, headers, d.upstream.PassthroughAuth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := d.upstream.client.Do(req)
	if err != nil {
		log.Warn().Err(err).
			Str("request_id", correlationID).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Msg("compare request failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	usage, bodySize, errSnippet := d.consume(resp)
	if resp.StatusCode >= 400 {
		log.Warn().
			Str("request_id", correlationID).
			Int("status", resp.StatusCode).
			Str("body", errSnippet).
			Msg("compare request rejected by target")
	}
	log.Info().
		Str("request_id", correlationID).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Int("body_size", bodySize).
		Uint64("input_tokens", usage.InputTokens).
		Uint64("output_tokens", usage.OutputTokens).
		Uint64("tool_calls", usage.ToolCalls).
		Msg("compare request complete")
}

// consume reads the full response, buffering up to MaxCompareResponseSize
// and discarding the rest, then extracts usage for the log line. Compare
// usage is never merged into the shared counters.
func (d *CompareDispatcher) consume(resp *http.Response) (Usage, int, string) {
	limited := io.LimitReader(resp.Body, config.MaxCompareResponseSize)
	buffered, err := io.ReadAll(limited)
	if err != nil {
		log.Warn().Err(err).Msg("compare response read failed")
		return Usage{}, len(buffered), snippet(buffered)
	}
	discarded, _ := io.Copy(io.Discard, resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		acct := NewAccountant()
		acct.Feed(buffered)
		return acct.Finish(), len(buffered) + int(discarded), snippet(buffered)
	}
	return extractJSONUsage(buffered), len(buffered) + int(discarded), snippet(buffered)
}

func snippet(body []byte) string {
	if len(body) > config.MaxErrorBodyLogLen {
		body = body[:config.MaxErrorBodyLogLen]
	}
	return string(body)
}
