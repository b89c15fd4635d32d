package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper", "deepgram"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)
	for i, e := range cfg.Providers.STTFallbacks {
		errs = append(errs, validateEntry("stt", fmt.Sprintf("providers.stt_fallbacks[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = append(errs, validateEntry("tts", fmt.Sprintf("providers.tts_fallbacks[%d]", i), e)...)
	}

	// Pipeline
	p := cfg.Pipeline
	if p.TranscribeTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.transcribe_timeout %s must not be negative", p.TranscribeTimeout))
	}
	if p.SynthesizeTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.synthesize_timeout %s must not be negative", p.SynthesizeTimeout))
	}
	if p.SynthesisConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.synthesis_concurrency %d must not be negative", p.SynthesisConcurrency))
	}
	if p.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_upload_bytes %d must not be negative", p.MaxUploadBytes))
	}
	if strings.ContainsAny(p.DefaultLanguage, " \t\n") {
		errs = append(errs, fmt.Errorf("pipeline.default_language %q must be a single language code", p.DefaultLanguage))
	}

	// Assets
	if cfg.Assets.BucketURL != "" {
		if _, err := url.Parse(cfg.Assets.BucketURL); err != nil {
			errs = append(errs, fmt.Errorf("assets.bucket_url: %w", err))
		}
	}
	if cfg.Assets.URLPrefix != "" && !strings.HasPrefix(cfg.Assets.URLPrefix, "/") && !strings.Contains(cfg.Assets.URLPrefix, "://") {
		errs = append(errs, fmt.Errorf("assets.url_prefix %q must be an absolute path or URL", cfg.Assets.URLPrefix))
	}

	return errors.Join(errs...)
}

// validateEntry checks a single provider entry. Every configured entry must
// name its provider.
func validateEntry(kind, path string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	validateProviderName(kind, e.Name)
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
