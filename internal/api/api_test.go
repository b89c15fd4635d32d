package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/MrWong99/voicecoach/internal/api"
	"github.com/MrWong99/voicecoach/internal/assets"
	"github.com/MrWong99/voicecoach/internal/correction"
	"github.com/MrWong99/voicecoach/internal/voice"
	sttmock "github.com/MrWong99/voicecoach/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voicecoach/pkg/provider/tts/mock"
)

// ---- helpers ----

type server struct {
	mux   *http.ServeMux
	stt   *sttmock.Provider
	tts   *ttsmock.Provider
	store *assets.Store
}

func newServer(t *testing.T, transcript string, opts ...api.Option) *server {
	t.Helper()
	s := &server{
		mux:   http.NewServeMux(),
		stt:   &sttmock.Provider{Text: transcript},
		tts:   &ttsmock.Provider{},
		store: assets.NewBucketStore(memblob.OpenBucket(nil)),
	}
	t.Cleanup(func() { _ = s.store.Close() })
	p := voice.New(s.stt, s.tts, s.store, voice.Config{ScratchDir: t.TempDir()})
	api.NewHandler(p, opts...).Register(s.mux)
	return s
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

type part struct {
	field, filename, contentType, body string
}

// multipartRequest builds a transcribe request from the given parts. A part
// with a filename becomes a file field.
func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			if err := mw.WriteField(p.field, p.body); err != nil {
				t.Fatalf("write field: %v", err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		io.WriteString(w, p.body)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest("POST", "/api/v1/voice/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func audioPart(contentType string) part {
	return part{field: "audio_file", filename: "attempt.mp3", contentType: contentType, body: "ID3\x04fake-mp3"}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (raw %q)", err, rec.Body.String())
	}
	return body
}

// ---- transcribe ----

func TestTranscribe_ReturnsChangesWithPlayableAudio(t *testing.T) {
	s := newServer(t, "the fax sat")

	rec := s.do(multipartRequest(t,
		audioPart("audio/mpeg"),
		part{field: "expected_text", body: "the fox sat"},
		part{field: "language", body: "en"},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var res struct {
		TranscribedText string              `json:"transcribed_text"`
		ExpectedText    string              `json:"expected_text"`
		Changes         []correction.Change `json:"changes"`
		ConfidenceScore *float64            `json:"confidence_score"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.TranscribedText != "the fax sat" || res.ExpectedText != "the fox sat" {
		t.Errorf("texts = %q / %q", res.TranscribedText, res.ExpectedText)
	}
	if res.ConfidenceScore != nil {
		t.Errorf("confidence_score = %v, want null", *res.ConfidenceScore)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %+v, want one", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind != correction.KindReplaced || c.Original != "fax" || c.Replacement != "fox" {
		t.Errorf("change = %+v", c)
	}
	if !strings.HasPrefix(c.AudioURL, "/api/v1/voice/audio/") {
		t.Fatalf("replacement_audio_url = %q", c.AudioURL)
	}

	// The URL in the result is served by the same handler.
	audio := s.do(httptest.NewRequest("GET", c.AudioURL, nil))
	if audio.Code != http.StatusOK {
		t.Fatalf("GET %s: status = %d", c.AudioURL, audio.Code)
	}
	if got := audio.Body.String(); got != "mock-audio:fax" {
		t.Errorf("audio body = %q, want mock-audio:fax", got)
	}
}

func TestTranscribe_EmptyChangesIsArray(t *testing.T) {
	s := newServer(t, "hello world")
	rec := s.do(multipartRequest(t, audioPart("audio/wav"), part{field: "expected_text", body: "hello world"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"changes":[]`) {
		t.Errorf("body = %s, want an empty changes array", rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"confidence_score":null`) {
		t.Errorf("body = %s, want confidence_score null", rec.Body)
	}
}

func TestTranscribe_PassesFormFieldsToProvider(t *testing.T) {
	s := newServer(t, "bonjour")
	rec := s.do(multipartRequest(t,
		audioPart("audio/mpeg"),
		part{field: "expected_text", body: "bonjour"},
		part{field: "language", body: " fr "},
		part{field: "prompt", body: "greetings"},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	calls := s.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("stt calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Language != "fr" || calls[0].Req.Prompt != "greetings" {
		t.Errorf("stt request = %+v", calls[0].Req)
	}
	if string(calls[0].Audio) != "ID3\x04fake-mp3" {
		t.Errorf("staged audio = %q", calls[0].Audio)
	}
}

func TestTranscribe_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name: "non-audio upload",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t,
					part{field: "audio_file", filename: "notes.txt", contentType: "text/plain", body: "hi"},
					part{field: "expected_text", body: "hi"})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "blank expected text",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, audioPart("audio/mpeg"), part{field: "expected_text", body: "  "})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing expected text",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, audioPart("audio/mpeg"))
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "missing audio file",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, part{field: "expected_text", body: "hello"})
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest("POST", "/api/v1/voice/transcribe", strings.NewReader(`{}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, "hello")
			rec := s.do(tt.req(t))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if body := decodeError(t, rec); body.ErrorCode != voice.KindInvalidInput || body.Detail == "" {
				t.Errorf("error body = %+v", body)
			}
			if n := len(s.stt.Calls()); n != 0 {
				t.Errorf("stt called %d times for a rejected request", n)
			}
		})
	}
}

func TestTranscribe_UploadTooLarge(t *testing.T) {
	s := newServer(t, "hello", api.WithMaxUploadBytes(4))
	rec := s.do(multipartRequest(t, audioPart("audio/mpeg"), part{field: "expected_text", body: "hello"}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if n := len(s.stt.Calls()); n != 0 {
		t.Errorf("stt called %d times for an oversized upload", n)
	}
}

func TestTranscribe_ProviderFailure(t *testing.T) {
	s := newServer(t, "")
	s.stt.TranscribeErr = errors.New("upstream 503")

	rec := s.do(multipartRequest(t, audioPart("audio/mpeg"), part{field: "expected_text", body: "hello"}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorCode != voice.KindTranscription {
		t.Errorf("error_code = %q, want %q", body.ErrorCode, voice.KindTranscription)
	}
}

// ---- text-to-speech ----

func TestTextToSpeech_RoundTrip(t *testing.T) {
	s := newServer(t, "")
	rec := s.do(httptest.NewRequest("POST", "/api/v1/voice/text-to-speech", strings.NewReader(`{"text":"hello there"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	audio := s.do(httptest.NewRequest("GET", body.AudioURL, nil))
	if audio.Code != http.StatusOK {
		t.Fatalf("GET %s: status = %d", body.AudioURL, audio.Code)
	}
	if ct := audio.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	if cl := audio.Header().Get("Content-Length"); cl != fmt.Sprint(len("mock-audio:hello there")) {
		t.Errorf("Content-Length = %q", cl)
	}
	if got := audio.Body.String(); got != "mock-audio:hello there" {
		t.Errorf("body = %q", got)
	}
}

func TestTextToSpeech_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		ttsErr     error
		wantStatus int
		wantCode   voice.Kind
	}{
		{name: "malformed json", body: `{"text":`, wantStatus: http.StatusUnprocessableEntity, wantCode: voice.KindInvalidInput},
		{name: "missing text", body: `{}`, wantStatus: http.StatusUnprocessableEntity, wantCode: voice.KindInvalidInput},
		{name: "empty text", body: `{"text":"   "}`, wantStatus: http.StatusBadRequest, wantCode: voice.KindInvalidInput},
		{name: "synthesis failure", body: `{"text":"hi"}`, ttsErr: errors.New("quota"), wantStatus: http.StatusInternalServerError, wantCode: voice.KindSynthesis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, "")
			s.tts.SynthesizeErr = tt.ttsErr
			rec := s.do(httptest.NewRequest("POST", "/api/v1/voice/text-to-speech", strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if body := decodeError(t, rec); body.ErrorCode != tt.wantCode {
				t.Errorf("error_code = %q, want %q", body.ErrorCode, tt.wantCode)
			}
		})
	}
}

// ---- audio ----

func TestAudio_Errors(t *testing.T) {
	s := newServer(t, "")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   voice.Kind
	}{
		{name: "unknown id", path: "/api/v1/voice/audio/does-not-exist", wantStatus: http.StatusNotFound, wantCode: voice.KindNotFound},
		{name: "invalid id", path: "/api/v1/voice/audio/clip.mp3", wantStatus: http.StatusNotFound, wantCode: voice.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decodeError(t, rec); body.ErrorCode != tt.wantCode {
				t.Errorf("error_code = %q, want %q", body.ErrorCode, tt.wantCode)
			}
		})
	}
}

// fakeService returns canned errors for status mapping.
type fakeService struct{ err error }

func (f fakeService) Transcribe(context.Context, voice.Request) (*voice.Result, error) {
	return nil, f.err
}
func (f fakeService) Speak(context.Context, string) (voice.Speech, error) { return voice.Speech{}, f.err }
func (f fakeService) Audio(context.Context, string) (io.ReadCloser, assets.Asset, error) {
	return nil, assets.Asset{}, f.err
}

func TestAudio_CorruptAsset(t *testing.T) {
	mux := http.NewServeMux()
	api.NewHandler(fakeService{err: fmt.Errorf("%w: abc is empty", assets.ErrCorrupt)}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/voice/audio/abc", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorCode != voice.KindCorrupt {
		t.Errorf("error_code = %q, want corrupt", body.ErrorCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind voice.Kind
		want int
	}{
		{voice.KindInvalidInput, http.StatusBadRequest},
		{voice.KindNotFound, http.StatusNotFound},
		{voice.KindCorrupt, http.StatusInternalServerError},
		{voice.KindStorage, http.StatusInternalServerError},
		{voice.KindTranscription, http.StatusInternalServerError},
		{voice.KindSynthesis, http.StatusInternalServerError},
		{voice.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.StatusFor(tt.kind); got != tt.want {
			t.Errorf("StatusFor(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
