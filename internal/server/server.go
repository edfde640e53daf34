// Package server wires the HTTP surface: the /v1/messages dispatch path,
// the control-plane endpoints, and the catch-all passthrough relay.
package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ryanolson/cc-proxy/internal/config"
	"github.com/ryanolson/cc-proxy/internal/mode"
	"github.com/ryanolson/cc-proxy/internal/proxy"
	"github.com/ryanolson/cc-proxy/internal/rewrite"
	"github.com/ryanolson/cc-proxy/internal/stats"
	"github.com/ryanolson/cc-proxy/internal/telemetry"
)

// Server owns the request router and its collaborators.
type Server struct {
	mode        *mode.Runtime
	stats       *stats.Counters
	target      *proxy.Upstream
	passthrough *proxy.Upstream
	compare     *proxy.CompareDispatcher
	rewriter    *rewrite.Rewriter
	forwarder   *proxy.Forwarder
	tracing     *telemetry.Toggle
	telemetry   *telemetry.Runtime
}

// New assembles a Server from fully constructed collaborators.
func New(rt *mode.Runtime, counters *stats.Counters, target, passthrough *proxy.Upstream, dispatcher *proxy.CompareDispatcher, rw *rewrite.Rewriter, toggle *telemetry.Toggle, tel *telemetry.Runtime) *Server {
	return &Server{
		mode:        rt,
		stats:       counters,
		target:      target,
		passthrough: passthrough,
		compare:     dispatcher,
		rewriter:    rw,
		forwarder:   &proxy.Forwarder{Stats: counters},
		tracing:     toggle,
		telemetry:   tel,
	}
}

// Routes builds the chi router. Unmatched paths fall through to the
// passthrough relay rather than a 404.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/v1/messages", s.handleMessages)

	r.Get("/health", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/mode", s.handleGetMode)
	r.Put("/api/mode", s.handlePutMode)
	r.Get("/api/tracing", s.handleGetTracing)
	r.Put("/api/tracing", s.handlePutTracing)

	r.NotFound(s.handleFallback)
	r.MethodNotAllowed(s.handleFallback)

	return r
}

// handleMessages is the primary dispatch path. The body is buffered in
// full before any upstream work: the rewriter needs the complete JSON, and
// the compare dispatcher needs a copy it can own.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	correlationID := proxy.NewCorrelationID()

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Warn().
				Str("request_id", correlationID).
				Int64("limit", maxErr.Limit).
				Msg("request body too large")
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", correlationID)
			return
		}
		log.Warn().Err(err).Str("request_id", correlationID).Msg("request body read failed")
		writeJSONError(w, http.StatusBadRequest, "invalid_request", correlationID)
		return
	}

	rewritten, model := s.rewriter.Rewrite(body)
	s.stats.IncrRequests()

	ctx, span := s.telemetry.StartRequestSpan(r.Context(), correlationID, model)
	defer span.End()
	telemetry.RecordRequestPayload(span, s.tracing, rewritten)
	r = r.WithContext(ctx)

	current := s.mode.Get()
	log.Info().
		Str("request_id", correlationID).
		Str("mode", current.String()).
		Str("model", model).
		Int("body_size", len(rewritten)).
		Msg("dispatching request")

	switch current {
	case mode.TargetOnly:
		s.forwarder.Forward(w, r, s.target, r.Header, rewritten, correlationID, true)
	case mode.Compare:
		s.compare.TryDispatch(r.Header, rewritten, correlationID)
		s.forwarder.Forward(w, r, s.passthrough, r.Header, rewritten, correlationID, true)
	case mode.AnthropicOnly:
		s.forwarder.Forward(w, r, s.passthrough, r.Header, rewritten, correlationID, true)
	}
}

// handleFallback relays any unmatched request to the passthrough upstream.
// The relay ignores the routing mode and never touches the counters.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	correlationID := proxy.NewCorrelationID()
	s.passthrough.ForwardRaw(w, r, correlationID)
}
