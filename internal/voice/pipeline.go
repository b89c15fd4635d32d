// Package voice implements the pronunciation-feedback pipeline.
//
// A [Pipeline] takes a recorded utterance and the text the speaker meant to
// say, transcribes the recording, aligns the transcript with the expected
// text and plans one correction per difference. Every replaced phrase is then
// synthesized as a short audio clip and stored so the client can play back the
// expected wording. The pipeline also serves the bare text-to-speech path and
// clip retrieval.
//
// A transcription moves through fixed states:
//
//	Received → Validated → Staged → Transcribed → Aligned → Planned → Synthesizing → Completed
//
// and ends in Failed on any fatal error. The staged upload is removed on every
// exit after Staged. Synthesis failures are never fatal for a transcription:
// the affected change simply carries no audio reference.
//
// A Pipeline is safe for concurrent use. Invocations share nothing but the
// asset store.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecoach/internal/align"
	"github.com/MrWong99/voicecoach/internal/assets"
	"github.com/MrWong99/voicecoach/internal/correction"
	"github.com/MrWong99/voicecoach/internal/observe"
	"github.com/MrWong99/voicecoach/pkg/provider/stt"
	"github.com/MrWong99/voicecoach/pkg/provider/tts"
)

const (
	defaultLanguage             = "en"
	defaultTranscribeTimeout    = 60 * time.Second
	defaultSynthesizeTimeout    = 30 * time.Second
	defaultSynthesisConcurrency = 4
	defaultURLPrefix            = "/api/v1/voice/audio"
)

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// AssetStore is the subset of [assets.Store] used by the pipeline.
type AssetStore interface {
	Create(ctx context.Context, r io.Reader, format string) (string, error)
	Open(ctx context.Context, id string) (io.ReadCloser, assets.Asset, error)
}

var _ AssetStore = (*assets.Store)(nil)

// Config holds the pipeline settings. Zero values select the defaults.
type Config struct {
	// DefaultLanguage is used when a request names no language. Default "en".
	DefaultLanguage string

	// Prompt is the recognition hint used when a request carries none.
	Prompt string

	// ScratchDir receives staged uploads. Empty means os.TempDir().
	ScratchDir string

	// TranscribeTimeout bounds one transcription call. Default 60s.
	TranscribeTimeout time.Duration

	// SynthesizeTimeout bounds one synthesis call. Default 30s.
	SynthesizeTimeout time.Duration

	// SynthesisConcurrency caps parallel synthesis calls per request. Default 4.
	SynthesisConcurrency int

	// URLPrefix is joined with an asset id to form the audio URL.
	// Default "/api/v1/voice/audio".
	URLPrefix string

	// STTName and TTSName label provider metrics.
	STTName string
	TTSName string
}

func (c *Config) applyDefaults() {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = defaultLanguage
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = defaultTranscribeTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = defaultSynthesizeTimeout
	}
	if c.SynthesisConcurrency <= 0 {
		c.SynthesisConcurrency = defaultSynthesisConcurrency
	}
	if c.URLPrefix == "" {
		c.URLPrefix = defaultURLPrefix
	}
	c.URLPrefix = strings.TrimRight(c.URLPrefix, "/")
	if c.STTName == "" {
		c.STTName = "stt"
	}
	if c.TTSName == "" {
		c.TTSName = "tts"
	}
}

// Request is one transcription-with-feedback job.
type Request struct {
	// Audio is the uploaded recording. It is read once, while staging.
	Audio io.Reader

	// Filename is the client's name for the upload; only its extension is used.
	Filename string

	// ContentType is the declared MIME type and must be audio/*.
	ContentType string

	// ExpectedText is what the speaker meant to say.
	ExpectedText string

	// Language is the recognition language; empty selects the default.
	Language string

	// Prompt optionally biases recognition; empty selects the configured prompt.
	Prompt string
}

// Result is the outcome of a successful transcription.
type Result struct {
	TranscribedText string              `json:"transcribed_text"`
	ExpectedText    string              `json:"expected_text"`
	Changes         []correction.Change `json:"changes"`

	// ConfidenceScore is reserved and currently always nil.
	ConfidenceScore *float64 `json:"confidence_score"`
}

// Speech is the outcome of the bare text-to-speech path.
type Speech struct {
	AssetID string
	URL     string
	Format  string
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithPlanner replaces the default correction planner.
func WithPlanner(pl *correction.Planner) Option {
	return func(p *Pipeline) {
		p.planner = pl
	}
}

// WithMetrics records pipeline metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline orchestrates transcription, alignment, planning and synthesis.
type Pipeline struct {
	stt     stt.Provider
	tts     tts.Provider
	store   AssetStore
	planner *correction.Planner
	metrics *observe.Metrics
	cfg     Config

	mu       sync.RWMutex
	language string
	prompt   string
}

// New returns a Pipeline over the given capabilities.
func New(sttP stt.Provider, ttsP tts.Provider, store AssetStore, cfg Config, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		stt:      sttP,
		tts:      ttsP,
		store:    store,
		cfg:      cfg,
		language: cfg.DefaultLanguage,
		prompt:   cfg.Prompt,
	}
	for _, o := range opts {
		o(p)
	}
	if p.planner == nil {
		p.planner = correction.NewPlanner()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetDefaults replaces the default language and prompt for subsequent
// requests. An empty language keeps the built-in default.
func (p *Pipeline) SetDefaults(language, prompt string) {
	if language == "" {
		language = defaultLanguage
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = language
	p.prompt = prompt
}

func (p *Pipeline) defaults() (language, prompt string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language, p.prompt
}

// Transcribe runs the full feedback pipeline for req.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.Transcribe")
	tr := newTracker(observe.Logger(ctx))
	p.metrics.InFlight.Add(ctx, 1)
	defer func() {
		p.metrics.InFlight.Add(ctx, -1)
		if err != nil {
			tr.fail(err)
		}
		p.metrics.RecordPipelineRun(ctx, "transcribe", outcome(err), time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	sreq, err := p.validate(req)
	if err != nil {
		return nil, err
	}
	tr.enter(StateValidated)

	path, err := p.stage(req)
	if err != nil {
		return nil, err
	}
	defer p.cleanup(ctx, path)
	sreq.AudioPath = path
	tr.enter(StateStaged)

	text, err := p.transcribe(ctx, sreq)
	if err != nil {
		return nil, err
	}
	tr.enter(StateTranscribed)

	reference := align.Tokenize(req.ExpectedText)
	candidate := align.Tokenize(text)
	ops := align.Align(reference, candidate)
	tr.enter(StateAligned)

	changes := p.planner.Plan(ops, reference, candidate)
	for _, c := range changes {
		p.metrics.RecordChange(ctx, string(c.Kind))
	}
	tr.enter(StatePlanned)

	tr.enter(StateSynthesizing)
	p.synthesizeChanges(ctx, changes)
	tr.enter(StateCompleted)

	return &Result{
		TranscribedText: text,
		ExpectedText:    req.ExpectedText,
		Changes:         changes,
	}, nil
}

// validate checks req without touching storage or the network and resolves
// language and prompt defaults.
func (p *Pipeline) validate(req Request) (stt.Request, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(req.ContentType)), "audio/") {
		return stt.Request{}, invalid("file must be an audio file, got content type %q", req.ContentType)
	}
	if req.Audio == nil {
		return stt.Request{}, invalid("audio file is missing")
	}
	if strings.TrimSpace(req.ExpectedText) == "" {
		return stt.Request{}, invalid("expected text must not be empty")
	}
	language, prompt := p.defaults()
	if req.Language != "" {
		language = req.Language
	}
	if req.Prompt != "" {
		prompt = req.Prompt
	}
	return stt.Request{Language: language, Prompt: prompt}, nil
}

// stage copies the upload into a scratch file that keeps the upload's
// extension, so backends can infer the container format.
func (p *Pipeline) stage(req Request) (string, error) {
	dir := p.cfg.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create scratch dir: %w", ErrStorage, err)
	}

	f, err := os.CreateTemp(dir, "upload-*"+uploadExt(req.Filename, req.ContentType))
	if err != nil {
		return "", fmt.Errorf("%w: create scratch file: %w", ErrStorage, err)
	}
	_, copyErr := io.Copy(f, req.Audio)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: stage upload: %w", ErrStorage, err)
	}
	return f.Name(), nil
}

// cleanup removes the staged upload. Failures are logged, never returned.
func (p *Pipeline) cleanup(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observe.Logger(ctx).Warn("voice: remove scratch file", "path", path, "err", err)
	}
}

// transcribe calls the STT backend under the transcription timeout.
func (p *Pipeline) transcribe(ctx context.Context, req stt.Request) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.stt.Transcribe(tctx, req)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.cfg.STTName, "stt", "error")
		p.metrics.RecordProviderError(ctx, p.cfg.STTName, "stt")
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w: timed out after %s: %w", ErrTranscription, p.cfg.TranscribeTimeout, err)
		}
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	p.metrics.RecordProviderRequest(ctx, p.cfg.STTName, "stt", "ok")
	return strings.TrimSpace(text), nil
}

// synthesizeChanges attaches an audio URL to every change that needs one.
// Calls run concurrently up to the configured limit; each writes only its own
// slot, so change order is unaffected. Failures leave the URL empty.
func (p *Pipeline) synthesizeChanges(ctx context.Context, changes []correction.Change) {
	var g errgroup.Group
	g.SetLimit(p.cfg.SynthesisConcurrency)
	for i := range changes {
		if !changes[i].NeedsAudio() {
			continue
		}
		g.Go(func() error {
			sp, err := p.synthesize(ctx, changes[i].Original)
			if err != nil {
				observe.Logger(ctx).Warn("voice: correction audio unavailable",
					"text", changes[i].Original, "kind", KindOf(err), "err", err)
				return nil
			}
			changes[i].AudioURL = sp.URL
			return nil
		})
	}
	_ = g.Wait()
}

// synthesize renders text and stores the clip.
func (p *Pipeline) synthesize(ctx context.Context, text string) (Speech, error) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesizeTimeout)
	defer cancel()

	start := time.Now()
	clip, err := p.tts.Synthesize(sctx, text)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && len(clip.Data) == 0 {
		err = errors.New("backend returned no audio")
	}
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.cfg.TTSName, "tts", "error")
		p.metrics.RecordProviderError(ctx, p.cfg.TTSName, "tts")
		return Speech{}, fmt.Errorf("%w: %q: %w", ErrSynthesis, text, err)
	}
	p.metrics.RecordProviderRequest(ctx, p.cfg.TTSName, "tts", "ok")

	format := clip.Format
	if format == "" {
		format = "bin"
	}
	id, err := p.store.Create(ctx, bytes.NewReader(clip.Data), format)
	if err != nil {
		return Speech{}, fmt.Errorf("%w: store clip: %w", ErrStorage, err)
	}
	p.metrics.RecordAsset(ctx, format, int64(len(clip.Data)))
	return Speech{AssetID: id, URL: p.cfg.URLPrefix + "/" + id, Format: format}, nil
}

// Speak synthesizes text and stores it as a retrievable clip.
func (p *Pipeline) Speak(ctx context.Context, text string) (sp Speech, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.Speak")
	defer func() {
		p.metrics.RecordPipelineRun(ctx, "speak", outcome(err), time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return Speech{}, invalid("text must not be empty")
	}
	return p.synthesize(ctx, text)
}

// Audio opens a stored clip. The caller must close the reader.
func (p *Pipeline) Audio(ctx context.Context, id string) (io.ReadCloser, assets.Asset, error) {
	return p.store.Open(ctx, id)
}

// outcome is the metric label of a finished invocation.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

// uploadExt picks the scratch file extension from the upload name, falling
// back to the declared content type.
func uploadExt(filename, contentType string) string {
	if ext := filepath.Ext(filename); extPattern.MatchString(ext) {
		return strings.ToLower(ext)
	}
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(mediaType) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ""
	}
}

// ─── state tracking ──────────────────────────────────────────────────────────

// State is a transcription's position in the pipeline.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateStaged
	StateTranscribed
	StateAligned
	StatePlanned
	StateSynthesizing
	StateCompleted
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateStaged:
		return "staged"
	case StateTranscribed:
		return "transcribed"
	case StateAligned:
		return "aligned"
	case StatePlanned:
		return "planned"
	case StateSynthesizing:
		return "synthesizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// tracker logs state transitions of one invocation.
type tracker struct {
	log   *slog.Logger
	state State
}

func newTracker(log *slog.Logger) *tracker {
	return &tracker{log: log, state: StateReceived}
}

func (t *tracker) enter(s State) {
	t.log.Debug("voice: pipeline state", "from", t.state, "to", s)
	t.state = s
}

func (t *tracker) fail(err error) {
	t.log.Warn("voice: pipeline failed", "state", t.state, "kind", KindOf(err), "err", err)
	t.state = StateFailed
}
