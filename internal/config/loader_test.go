package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voicecoach/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "invalid log level",
			yaml: minimalYAML + `
server:
  log_level: verbose
`,
			wantErr: []string{"log_level"},
		},
		{
			name:    "missing providers",
			yaml:    "{}",
			wantErr: []string{"providers.stt.name is required", "providers.tts.name is required"},
		},
		{
			name: "fallback without name",
			yaml: minimalYAML + `  tts_fallbacks:
    - base_url: http://localhost:5002
`,
			wantErr: []string{"providers.tts_fallbacks[0].name is required"},
		},
		{
			name: "tls without key",
			yaml: minimalYAML + `
server:
  tls:
    cert_file: cert.pem
`,
			wantErr: []string{"server.tls"},
		},
		{
			name: "negative timeout",
			yaml: minimalYAML + `
pipeline:
  transcribe_timeout: -5s
`,
			wantErr: []string{"pipeline.transcribe_timeout"},
		},
		{
			name: "negative concurrency and upload limit",
			yaml: minimalYAML + `
pipeline:
  synthesis_concurrency: -1
  max_upload_bytes: -1
`,
			wantErr: []string{"pipeline.synthesis_concurrency", "pipeline.max_upload_bytes"},
		},
		{
			name: "multi-word language",
			yaml: minimalYAML + `
pipeline:
  default_language: en us
`,
			wantErr: []string{"pipeline.default_language"},
		},
		{
			name: "relative url prefix",
			yaml: minimalYAML + `
assets:
  url_prefix: audio
`,
			wantErr: []string{"assets.url_prefix"},
		},
		{
			name: "absolute url prefix",
			yaml: minimalYAML + `
assets:
  url_prefix: https://cdn.example.com/audio
`,
		},
		{
			name: "unknown provider name only warns",
			yaml: `
providers:
  stt:
    name: my-inhouse-asr
  tts:
    name: openai
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind string
		want []string
	}{
		{"stt", []string{"openai", "whisper", "deepgram"}},
		{"tts", []string{"openai", "elevenlabs", "coqui"}},
	}
	for _, tt := range tests {
		got := config.ValidProviderNames[tt.kind]
		for _, name := range tt.want {
			if !slices.Contains(got, name) {
				t.Errorf("ValidProviderNames[%q] should contain %q, got %v", tt.kind, name, got)
			}
		}
	}
}
