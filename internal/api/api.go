// Package api exposes the voice pipeline over HTTP.
//
// Routes:
//
//	POST /api/v1/voice/transcribe      multipart upload, returns the correction result
//	POST /api/v1/voice/text-to-speech  JSON {"text"}, returns {"audio_url"}
//	GET  /api/v1/voice/audio/{audio_id} streams a stored clip
//
// Errors are JSON bodies of the form {"detail": "...", "error_code": "..."}
// where error_code is the stable kind tag from [voice.KindOf].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/voicecoach/internal/assets"
	"github.com/MrWong99/voicecoach/internal/observe"
	"github.com/MrWong99/voicecoach/internal/voice"
)

const (
	// DefaultMaxUploadBytes caps the recording size when no limit is configured.
	DefaultMaxUploadBytes = 25 << 20

	// formOverhead is allowed on top of the recording for the other form
	// fields and multipart framing.
	formOverhead = 1 << 20

	// maxFormMemory is how much of a multipart body is held in memory; the
	// rest spills to temporary files.
	maxFormMemory = 8 << 20

	// maxJSONBytes caps the text-to-speech request body.
	maxJSONBytes = 64 << 10
)

// Service is the subset of [voice.Pipeline] the handlers use.
type Service interface {
	Transcribe(ctx context.Context, req voice.Request) (*voice.Result, error)
	Speak(ctx context.Context, text string) (voice.Speech, error)
	Audio(ctx context.Context, id string) (io.ReadCloser, assets.Asset, error)
}

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithMaxUploadBytes caps the size of an uploaded recording. Non-positive
// values keep the default.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// Handler serves the voice API.
type Handler struct {
	svc       Service
	maxUpload int64
}

// NewHandler creates a [Handler] backed by svc.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the voice routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/voice/transcribe", h.Transcribe)
	mux.HandleFunc("POST /api/v1/voice/text-to-speech", h.TextToSpeech)
	mux.HandleFunc("GET /api/v1/voice/audio/{audio_id}", h.Audio)
}

// Transcribe handles POST /api/v1/voice/transcribe.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeStatus(w, r, http.StatusRequestEntityTooLarge, voice.KindInvalidInput,
				"upload exceeds "+strconv.FormatInt(maxErr.Limit-formOverhead, 10)+" bytes")
			return
		}
		writeStatus(w, r, http.StatusUnprocessableEntity, voice.KindInvalidInput, "malformed multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeStatus(w, r, http.StatusUnprocessableEntity, voice.KindInvalidInput, "audio_file is required")
		return
	}
	defer file.Close()
	if header.Size > h.maxUpload {
		writeStatus(w, r, http.StatusRequestEntityTooLarge, voice.KindInvalidInput,
			"upload exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
		return
	}
	if _, ok := r.MultipartForm.Value["expected_text"]; !ok {
		writeStatus(w, r, http.StatusUnprocessableEntity, voice.KindInvalidInput, "expected_text is required")
		return
	}

	res, err := h.svc.Transcribe(r.Context(), voice.Request{
		Audio:        file,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		ExpectedText: r.FormValue("expected_text"),
		Language:     strings.TrimSpace(r.FormValue("language")),
		Prompt:       r.FormValue("prompt"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type speechRequest struct {
	Text *string `json:"text"`
}

type speechResponse struct {
	AudioURL string `json:"audio_url"`
}

// TextToSpeech handles POST /api/v1/voice/text-to-speech.
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, r, http.StatusUnprocessableEntity, voice.KindInvalidInput, "malformed JSON body: "+err.Error())
		return
	}
	if req.Text == nil {
		writeStatus(w, r, http.StatusUnprocessableEntity, voice.KindInvalidInput, "text is required")
		return
	}

	sp, err := h.svc.Speak(r.Context(), *req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, speechResponse{AudioURL: sp.URL})
}

// Audio handles GET /api/v1/voice/audio/{audio_id}.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("audio_id")
	rc, asset, err := h.svc.Audio(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", assets.ContentType(asset.Format))
	w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; the client sees a short body.
		observe.Logger(r.Context()).Warn("audio stream interrupted", "audio_id", id, "err", err)
	}
}
