package api

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/voicecoach/internal/observe"
	"github.com/MrWong99/voicecoach/internal/voice"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail    string     `json:"detail"`
	ErrorCode voice.Kind `json:"error_code"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind voice.Kind) int {
	switch kind {
	case voice.KindInvalidInput:
		return http.StatusBadRequest
	case voice.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes the matching error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := voice.KindOf(err)
	status := StatusFor(kind)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error_code", kind, "err", err)
	} else {
		log.Debug("request rejected", "error_code", kind, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Detail: err.Error(), ErrorCode: kind})
}

// writeStatus writes an error response for a failure detected in the handler
// itself, before the pipeline ran.
func writeStatus(w http.ResponseWriter, r *http.Request, status int, kind voice.Kind, detail string) {
	observe.Logger(r.Context()).Debug("request rejected", "status", status, "detail", detail)
	writeJSON(w, status, ErrorResponse{Detail: detail, ErrorCode: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
