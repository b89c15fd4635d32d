// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the voicecoach server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr           = ":8080"
	DefaultLanguage             = "en"
	DefaultTranscribeTimeout    = 60 * time.Second
	DefaultSynthesizeTimeout    = 30 * time.Second
	DefaultSynthesisConcurrency = 4
	DefaultMaxUploadBytes       = 25 << 20
	DefaultBucketURL            = "file://./assets/audio_changes"
	DefaultURLPrefix            = "/api/v1/voice/audio"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Assets    AssetsConfig    `yaml:"assets"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the speech backends. Each entry names a provider
// registered in the [Registry]. Fallback lists are tried in order when the
// primary fails.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	TTS          ProviderEntry   `yaml:"tts"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Self-hosted
	// backends (whisper, coqui) require it.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above,
	// such as "voice", "voice_id" or "output_format".
	Options map[string]any `yaml:"options"`
}

// OptString extracts a string option. It returns "" if the key is absent or
// the value is not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// PipelineConfig tunes the transcription pipeline.
type PipelineConfig struct {
	// DefaultLanguage is used when a request names none. Hot-reloadable.
	DefaultLanguage string `yaml:"default_language"`

	// Prompt is the recognition hint used when a request carries none.
	// Hot-reloadable.
	Prompt string `yaml:"prompt"`

	// ScratchDir receives staged uploads. Empty means the OS temp dir.
	ScratchDir string `yaml:"scratch_dir"`

	// TranscribeTimeout bounds one transcription call (e.g., "60s").
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// SynthesizeTimeout bounds one synthesis call (e.g., "30s").
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout"`

	// SynthesisConcurrency caps parallel synthesis calls per request.
	SynthesisConcurrency int `yaml:"synthesis_concurrency"`

	// MaxUploadBytes caps the size of an uploaded recording.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// AssetsConfig locates the audio asset bucket.
type AssetsConfig struct {
	// BucketURL is a gocloud.dev/blob URL: "file:///path" or "mem://".
	BucketURL string `yaml:"bucket_url"`

	// URLPrefix is joined with an asset id to form the public audio URL.
	URLPrefix string `yaml:"url_prefix"`
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	p := &c.Pipeline
	if p.DefaultLanguage == "" {
		p.DefaultLanguage = DefaultLanguage
	}
	if p.TranscribeTimeout == 0 {
		p.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if p.SynthesizeTimeout == 0 {
		p.SynthesizeTimeout = DefaultSynthesizeTimeout
	}
	if p.SynthesisConcurrency == 0 {
		p.SynthesisConcurrency = DefaultSynthesisConcurrency
	}
	if p.MaxUploadBytes == 0 {
		p.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Assets.BucketURL == "" {
		c.Assets.BucketURL = DefaultBucketURL
	}
	if c.Assets.URLPrefix == "" {
		c.Assets.URLPrefix = DefaultURLPrefix
	}
}
