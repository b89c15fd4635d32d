package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PromptChanged bool
	NewPrompt     string

	LanguageChanged bool
	NewLanguage     string

	// RestartRequired lists changed fields that only take effect on restart.
	RestartRequired []string
}

// Any reports whether anything hot-reloadable changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PromptChanged || d.LanguageChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.Prompt != new.Pipeline.Prompt {
		d.PromptChanged = true
		d.NewPrompt = new.Pipeline.Prompt
	}
	if old.Pipeline.DefaultLanguage != new.Pipeline.DefaultLanguage {
		d.LanguageChanged = true
		d.NewLanguage = new.Pipeline.DefaultLanguage
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) || !sameEntries(old.Providers.STTFallbacks, new.Providers.STTFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !sameEntry(old.Providers.TTS, new.Providers.TTS) || !sameEntries(old.Providers.TTSFallbacks, new.Providers.TTSFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts")
	}
	op, np := old.Pipeline, new.Pipeline
	if op.ScratchDir != np.ScratchDir || op.TranscribeTimeout != np.TranscribeTimeout ||
		op.SynthesizeTimeout != np.SynthesizeTimeout || op.SynthesisConcurrency != np.SynthesisConcurrency ||
		op.MaxUploadBytes != np.MaxUploadBytes {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if old.Assets != new.Assets {
		d.RestartRequired = append(d.RestartRequired, "assets")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares two entries. A nil and an empty Options map are equal.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}
