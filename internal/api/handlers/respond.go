package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/rs/zerolog/log"
)

// Envelope is the uniform response shape of every non-streaming endpoint.
// code mirrors the HTTP status; any non-200 value carries a localized
// error_msg.
type Envelope struct {
	Code     int    `json:"code"`
	Message  any    `json:"message"`
	Msg      string `json:"msg,omitempty"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

func (h *Handlers) respondOK(w http.ResponseWriter, message any) {
	writeEnvelope(w, http.StatusOK, Envelope{Code: http.StatusOK, Message: message, Msg: "ok"})
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Stack().Err(err).Str("kind", string(kind)).Msg("Request failed")
	} else {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Request rejected")
	}
	writeEnvelope(w, status, Envelope{
		Code:     status,
		Msg:      errs.Message(err),
		ErrorMsg: h.Msgs.ErrorMessage(kind),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// decode parses a JSON request body; an unreadable body maps to
// invalid_request.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.InvalidRequest, err, "invalid request body")
	}
	return nil
}
