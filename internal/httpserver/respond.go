package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

const maxBodyBytes = 1 << 20

type errorEnvelope struct {
	Error         string                 `json:"error"`
	Code          string                 `json:"code"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlationId"`
}

// writeJSON writes the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body. Malformed bodies are the caller's
// fault, never a server fault.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperror.ErrValidation("invalid JSON body", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}

// writeError is the central error mapper: every handler error funnels here,
// gets logged with its correlation id, and leaves as the stable envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.As(err)

	correlationID := ""
	log := s.logger
	if rc, ok := tenancy.From(r.Context()); ok {
		correlationID = rc.CorrelationID
		log = rc.Logger
	}

	status := appErr.HTTPStatus()
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error().Err(appErr.Unwrap())
	}
	event.
		Str("kind", string(appErr.Kind)).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(appErr.Message)

	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(string(appErr.Kind)).Inc()
	}

	_ = writeJSON(w, status, errorEnvelope{
		Error:         appErr.Message,
		Code:          string(appErr.Kind),
		Details:       appErr.Details,
		CorrelationID: correlationID,
	})
}
