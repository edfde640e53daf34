// Control-plane endpoints: health, stats, and the two runtime toggles.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ryanolson/cc-proxy/internal/mode"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.mode.Get().String()})
}

func (s *Server) handlePutMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	next, err := mode.Parse(req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_mode", "")
		return
	}

	previous := s.mode.Get()
	if err := s.mode.Set(next); err != nil {
		if errors.Is(err, mode.ErrPermissionDenied) {
			log.Warn().
				Str("requested_mode", next.String()).
				Msg("mode change denied, anthropic-only not permitted")
			writeJSONError(w, http.StatusForbidden, "permission_denied", "")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal", "")
		return
	}

	log.Info().
		Str("previous_mode", previous.String()).
		Str("mode", next.String()).
		Msg("routing mode changed")
	writeJSON(w, http.StatusOK, map[string]string{"mode": next.String()})
}

func (s *Server) handleGetTracing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.tracing.Enabled()})
}

func (s *Server) handlePutTracing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	s.tracing.Set(req.Enabled)
	log.Info().Bool("enabled", req.Enabled).Msg("payload tracing toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

// writeJSONError mirrors the upstream error shape so clients see one
// format everywhere. The request_id field is omitted when empty.
func writeJSONError(w http.ResponseWriter, status int, kind, correlationID string) {
	inner := map[string]string{"type": kind}
	if correlationID != "" {
		inner["request_id"] = correlationID
	}
	writeJSON(w, status, map[string]any{"error": inner})
}
