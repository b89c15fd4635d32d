package voice

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/MrWong99/voicecoach/internal/assets"
	"github.com/MrWong99/voicecoach/internal/correction"
	sttmock "github.com/MrWong99/voicecoach/pkg/provider/stt/mock"
	"github.com/MrWong99/voicecoach/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecoach/pkg/provider/tts/mock"
)

// ---- helpers ----

type fixture struct {
	stt     *sttmock.Provider
	tts     *ttsmock.Provider
	store   *assets.Store
	scratch string
	p       *Pipeline
}

func newFixture(t *testing.T, transcript string, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		stt:     &sttmock.Provider{Text: transcript},
		tts:     &ttsmock.Provider{},
		store:   assets.NewBucketStore(memblob.OpenBucket(nil)),
		scratch: t.TempDir(),
	}
	t.Cleanup(func() { _ = f.store.Close() })
	cfg.ScratchDir = f.scratch
	f.p = New(f.stt, f.tts, f.store, cfg)
	return f
}

func upload(expected string) Request {
	return Request{
		Audio:        strings.NewReader("ID3\x04fake-mp3-bytes"),
		Filename:     "attempt.mp3",
		ContentType:  "audio/mpeg",
		ExpectedText: expected,
	}
}

// assertScratchEmpty fails if any staged upload survived the invocation.
func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("scratch file left behind: %s", e.Name())
	}
}

// ---- transcription scenarios ----

func TestTranscribe_ReplacedWordGetsAudio(t *testing.T) {
	f := newFixture(t, "The quick brown fax", Config{})
	ctx := context.Background()

	res, err := f.p.Transcribe(ctx, upload("The quick brown fox"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.TranscribedText != "The quick brown fax" || res.ExpectedText != "The quick brown fox" {
		t.Errorf("texts = %q / %q", res.TranscribedText, res.ExpectedText)
	}
	if res.ConfidenceScore != nil {
		t.Errorf("confidence = %v, want nil", *res.ConfidenceScore)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %+v, want 1", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind != correction.KindReplaced || c.Original != "fax" || c.Replacement != "fox" {
		t.Fatalf("change = %+v, want replaced fax→fox", c)
	}
	id, ok := strings.CutPrefix(c.AudioURL, "/api/v1/voice/audio/")
	if !ok || id == "" {
		t.Fatalf("audio url = %q, want /api/v1/voice/audio/<id>", c.AudioURL)
	}

	data, a, err := f.store.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("stored clip: %v", err)
	}
	if string(data) != "mock-audio:fax" || a.Format != "mp3" {
		t.Errorf("clip = %q/%s, want the synthesized original", data, a.Format)
	}
	if got := f.tts.Texts(); len(got) != 1 || got[0] != "fax" {
		t.Errorf("tts texts = %v, want [fax]", got)
	}
	assertScratchEmpty(t, f.scratch)
}

func TestTranscribe_SynthesisFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, "The quick brown fax", Config{})
	f.tts.SynthesizeErr = errors.New("tts quota exceeded")

	res, err := f.p.Transcribe(context.Background(), upload("The quick brown fox"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %+v, want 1", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind != correction.KindReplaced || c.Original != "fax" || c.Replacement != "fox" {
		t.Errorf("change = %+v, want replaced fax→fox", c)
	}
	if c.AudioURL != "" {
		t.Errorf("audio url = %q, want empty after synthesis failure", c.AudioURL)
	}
	assertScratchEmpty(t, f.scratch)
}

func TestTranscribe_SynthesisTimeoutDegradesChange(t *testing.T) {
	f := newFixture(t, "the quick brown fax", Config{SynthesizeTimeout: 50 * time.Millisecond})
	f.tts.Delay = 2 * time.Second

	start := time.Now()
	res, err := f.p.Transcribe(context.Background(), upload("the quick brown fox"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Transcribe took %v, synthesis timeout not applied", elapsed)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %+v, want 1", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind != correction.KindReplaced || c.Original != "fax" || c.Replacement != "fox" {
		t.Errorf("change = %+v, want replaced fax→fox", c)
	}
	if c.AudioURL != "" {
		t.Errorf("audio url = %q, want empty after synthesis timeout", c.AudioURL)
	}
	if n := f.tts.CallCount(); n != 1 {
		t.Errorf("tts called %d times, want 1", n)
	}
	assertScratchEmpty(t, f.scratch)
}

func TestTranscribe_PartialSynthesisFailureKeepsOrder(t *testing.T) {
	f := newFixture(t, "the fax sat on the map", Config{})
	f.tts.FailFor = map[string]error{"map": errors.New("voice unavailable")}

	res, err := f.p.Transcribe(context.Background(), upload("the fox sat on the mat"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("changes = %+v, want 2", res.Changes)
	}
	if res.Changes[0].Original != "fax" || res.Changes[0].AudioURL == "" {
		t.Errorf("first change = %+v, want fax with audio", res.Changes[0])
	}
	if res.Changes[1].Original != "map" || res.Changes[1].AudioURL != "" {
		t.Errorf("second change = %+v, want map without audio", res.Changes[1])
	}
}

func TestTranscribe_AddedWord(t *testing.T) {
	f := newFixture(t, "Hello there world", Config{})

	res, err := f.p.Transcribe(context.Background(), upload("Hello world"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := []correction.Change{{Kind: correction.KindAdded, Text: "there"}}
	if len(res.Changes) != 1 || res.Changes[0].Kind != want[0].Kind || res.Changes[0].Text != want[0].Text {
		t.Fatalf("changes = %+v, want %+v", res.Changes, want)
	}
	if res.Changes[0].AudioURL != "" {
		t.Error("added change must not carry audio")
	}
	if n := f.tts.CallCount(); n != 0 {
		t.Errorf("tts called %d times, want 0", n)
	}
}

func TestTranscribe_RemovedWord(t *testing.T) {
	f := newFixture(t, "Good", Config{})

	res, err := f.p.Transcribe(context.Background(), upload("Good morning"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Changes) != 1 || res.Changes[0].Kind != correction.KindRemoved || res.Changes[0].Text != "morning" {
		t.Fatalf("changes = %+v, want removed morning", res.Changes)
	}
	if n := f.tts.CallCount(); n != 0 {
		t.Errorf("tts called %d times, want 0", n)
	}
}

func TestTranscribe_ExactMatchHasNoChanges(t *testing.T) {
	f := newFixture(t, "  good morning \n", Config{})

	res, err := f.p.Transcribe(context.Background(), upload("good morning"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.TranscribedText != "good morning" {
		t.Errorf("transcript = %q, want trimmed", res.TranscribedText)
	}
	if res.Changes == nil || len(res.Changes) != 0 {
		t.Errorf("changes = %#v, want empty non-nil slice", res.Changes)
	}
}

// ---- request handling ----

func TestTranscribe_PassesStagedFileAndDefaults(t *testing.T) {
	f := newFixture(t, "hallo", Config{DefaultLanguage: "de", Prompt: "greetings"})

	if _, err := f.p.Transcribe(context.Background(), upload("hallo")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	calls := f.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("stt calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Language != "de" || req.Prompt != "greetings" {
		t.Errorf("request = %+v, want configured defaults", req)
	}
	if !strings.HasSuffix(req.AudioPath, ".mp3") {
		t.Errorf("staged path %q lost the upload extension", req.AudioPath)
	}
	if string(calls[0].Audio) != "ID3\x04fake-mp3-bytes" {
		t.Errorf("staged audio = %q", calls[0].Audio)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("transcription context has no deadline")
	}
}

func TestTranscribe_RequestOverridesDefaults(t *testing.T) {
	f := newFixture(t, "bonjour", Config{Prompt: "greetings"})
	req := upload("bonjour")
	req.Language = "fr"
	req.Prompt = "salutations"

	if _, err := f.p.Transcribe(context.Background(), req); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	got := f.stt.Calls()[0].Req
	if got.Language != "fr" || got.Prompt != "salutations" {
		t.Errorf("request = %+v, want request values", got)
	}
}

func TestTranscribe_EmptyLanguageDefaultsToEnglish(t *testing.T) {
	f := newFixture(t, "hi", Config{})
	if _, err := f.p.Transcribe(context.Background(), upload("hi")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := f.stt.Calls()[0].Req.Language; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

func TestSetDefaults(t *testing.T) {
	f := newFixture(t, "hi", Config{})
	f.p.SetDefaults("es", "saludos")

	if _, err := f.p.Transcribe(context.Background(), upload("hi")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	got := f.stt.Calls()[0].Req
	if got.Language != "es" || got.Prompt != "saludos" {
		t.Errorf("request = %+v, want updated defaults", got)
	}
}

func TestTranscribe_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Request)
	}{
		{"video content type", func(r *Request) { r.ContentType = "video/mp4" }},
		{"missing content type", func(r *Request) { r.ContentType = "" }},
		{"blank expected text", func(r *Request) { r.ExpectedText = "   " }},
		{"no audio", func(r *Request) { r.Audio = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "unused", Config{})
			req := upload("hello")
			tt.mut(&req)

			_, err := f.p.Transcribe(context.Background(), req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if KindOf(err) != KindInvalidInput {
				t.Errorf("kind = %q", KindOf(err))
			}
			if n := len(f.stt.Calls()); n != 0 {
				t.Errorf("stt called %d times for invalid input", n)
			}
			assertScratchEmpty(t, f.scratch)
		})
	}
}

func TestTranscribe_TranscriptionErrorCleansUp(t *testing.T) {
	f := newFixture(t, "", Config{})
	f.stt.TranscribeErr = errors.New("upstream 503")

	_, err := f.p.Transcribe(context.Background(), upload("hello"))
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("err = %v, want ErrTranscription", err)
	}
	if KindOf(err) != KindTranscription {
		t.Errorf("kind = %q", KindOf(err))
	}
	if n := f.tts.CallCount(); n != 0 {
		t.Errorf("tts called %d times after failed transcription", n)
	}
	assertScratchEmpty(t, f.scratch)
}

func TestTranscribe_TranscriptionTimeout(t *testing.T) {
	f := newFixture(t, "too late", Config{TranscribeTimeout: 20 * time.Millisecond})
	f.stt.Delay = 5 * time.Second

	start := time.Now()
	_, err := f.p.Transcribe(context.Background(), upload("hello"))
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("err = %v, want ErrTranscription", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout message", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Transcribe took %v, timeout not applied", elapsed)
	}
	assertScratchEmpty(t, f.scratch)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestTranscribe_StagingFailure(t *testing.T) {
	f := newFixture(t, "unused", Config{})
	req := upload("hello")
	req.Audio = failingReader{}

	_, err := f.p.Transcribe(context.Background(), req)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, assets.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if n := len(f.stt.Calls()); n != 0 {
		t.Errorf("stt called %d times", n)
	}
	assertScratchEmpty(t, f.scratch)
}

// ---- synthesis concurrency ----

// gatedTTS counts concurrent Synthesize calls.
type gatedTTS struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	texts    []string
}

func (g *gatedTTS) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.mu.Lock()
	g.texts = append(g.texts, text)
	g.mu.Unlock()
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return tts.Audio{}, ctx.Err()
	}
	return tts.Audio{Data: []byte(text), Format: "wav"}, nil
}

func TestTranscribe_SynthesisConcurrencyIsBounded(t *testing.T) {
	store := assets.NewBucketStore(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = store.Close() })
	g := &gatedTTS{}
	sttP := &sttmock.Provider{Text: "a1 x b1 x c1 x d1 x e1 x f1"}
	p := New(sttP, g, store, Config{ScratchDir: t.TempDir(), SynthesisConcurrency: 2})

	res, err := p.Transcribe(context.Background(), upload("a x b x c x d x e x f"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Changes) != 6 {
		t.Fatalf("changes = %d, want 6", len(res.Changes))
	}
	for i, c := range res.Changes {
		if c.AudioURL == "" {
			t.Errorf("change %d (%s) has no audio", i, c.Original)
		}
	}
	if peak := g.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent synthesis = %d, want <= 2", peak)
	}
	if res.Changes[0].Original != "a1" || res.Changes[5].Original != "f1" {
		t.Errorf("changes out of order: %+v", res.Changes)
	}
}

// ---- bare text-to-speech ----

func TestSpeak(t *testing.T) {
	f := newFixture(t, "", Config{URLPrefix: "/clips/"})
	ctx := context.Background()

	sp, err := f.p.Speak(ctx, "  would like ")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if sp.URL != "/clips/"+sp.AssetID || sp.Format != "mp3" {
		t.Errorf("speech = %+v", sp)
	}
	if got := f.tts.Texts(); len(got) != 1 || got[0] != "would like" {
		t.Errorf("tts texts = %v, want trimmed text", got)
	}

	rc, a, err := f.p.Audio(ctx, sp.AssetID)
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "mock-audio:would like" || a.ID != sp.AssetID {
		t.Errorf("clip = %q (%+v)", data, a)
	}
}

func TestSpeak_Errors(t *testing.T) {
	f := newFixture(t, "", Config{})
	ctx := context.Background()

	if _, err := f.p.Speak(ctx, " \t"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank text: err = %v, want ErrInvalidInput", err)
	}
	if n := f.tts.CallCount(); n != 0 {
		t.Errorf("tts called %d times for blank text", n)
	}

	f.tts.SynthesizeErr = errors.New("model not loaded")
	_, err := f.p.Speak(ctx, "fox")
	if !errors.Is(err, ErrSynthesis) || KindOf(err) != KindSynthesis {
		t.Errorf("synthesis failure: err = %v, kind %q", err, KindOf(err))
	}
}

// brokenStore fails every write.
type brokenStore struct{}

func (brokenStore) Create(context.Context, io.Reader, string) (string, error) {
	return "", assets.ErrStorage
}

func (brokenStore) Open(context.Context, string) (io.ReadCloser, assets.Asset, error) {
	return nil, assets.Asset{}, assets.ErrNotFound
}

func TestStoreFailure(t *testing.T) {
	sttP := &sttmock.Provider{Text: "the fax"}
	ttsP := &ttsmock.Provider{}
	p := New(sttP, ttsP, brokenStore{}, Config{ScratchDir: t.TempDir()})
	ctx := context.Background()

	if _, err := p.Speak(ctx, "fox"); KindOf(err) != KindStorage {
		t.Errorf("Speak kind = %q (err %v), want storage_error", KindOf(err), err)
	}

	res, err := p.Transcribe(ctx, upload("the fox"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Changes) != 1 || res.Changes[0].AudioURL != "" {
		t.Errorf("changes = %+v, want one change without audio", res.Changes)
	}

	if _, _, err := p.Audio(ctx, "missing"); KindOf(err) != KindNotFound {
		t.Errorf("Audio kind = %q, want not_found", KindOf(err))
	}
}

// ---- helpers under test ----

func TestUploadExt(t *testing.T) {
	tests := []struct {
		filename, contentType, want string
	}{
		{"attempt.MP3", "audio/mpeg", ".mp3"},
		{"clip.webm", "audio/webm", ".webm"},
		{"noext", "audio/wav", ".wav"},
		{"noext", "audio/ogg; codecs=opus", ".ogg"},
		{"../../etc/passwd", "audio/x-unknown", ""},
		{"weird.ext with space", "audio/flac", ".flac"},
	}
	for _, tt := range tests {
		if got := uploadExt(tt.filename, tt.contentType); got != tt.want {
			t.Errorf("uploadExt(%q, %q) = %q, want %q", tt.filename, tt.contentType, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateSynthesizing.String() != "synthesizing" || StateFailed.String() != "failed" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
