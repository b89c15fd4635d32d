package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/voicecoach/internal/config"
	"github.com/MrWong99/voicecoach/internal/health"
	"github.com/MrWong99/voicecoach/internal/resilience"
	"github.com/MrWong99/voicecoach/pkg/provider/stt"
	"github.com/MrWong99/voicecoach/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voicecoach/pkg/provider/stt/openai"
	"github.com/MrWong99/voicecoach/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicecoach/pkg/provider/tts"
	"github.com/MrWong99/voicecoach/pkg/provider/tts/coqui"
	"github.com/MrWong99/voicecoach/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/voicecoach/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires every shipped backend into reg. Each factory
// maps a config.ProviderEntry onto the backend's functional options.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if voice := entry.OptString("voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if format := entry.OptString("format"); format != "" {
			opts = append(opts, oaitts.WithFormat(format))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, entry.OptString("voice_id"), opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := entry.OptString("speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// backends holds the providers handed to the pipeline plus the readiness
// checks that describe them.
type backends struct {
	stt    stt.Provider
	tts    tts.Provider
	checks []health.Checker
}

// buildProviders instantiates the configured backends. When fallbacks are
// configured the primary is wrapped in a failover group with per-backend
// circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*backends, error) {
	b := &backends{}
	fbCfg := resilience.FallbackConfig{}

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	b.stt = primarySTT
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, fbCfg)
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(uniqueName(group.Names(), entry.Name), p)
		}
		slog.Info("stt failover enabled", "order", group.Names())
		b.stt = group
		b.checks = append(b.checks, health.CircuitChecker("stt_circuits", group))
	}

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	b.tts = primaryTTS
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	if len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fbCfg)
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(uniqueName(group.Names(), entry.Name), p)
		}
		slog.Info("tts failover enabled", "order", group.Names())
		b.tts = group
		b.checks = append(b.checks, health.CircuitChecker("tts_circuits", group))
	}

	b.checks = append(b.checks, health.ProvidersChecker(map[string]string{
		"stt": cfg.Providers.STT.Name,
		"tts": cfg.Providers.TTS.Name,
	}))
	return b, nil
}

// uniqueName suffixes name with its position when the same backend appears
// more than once in a failover chain, so breaker states stay distinguishable.
func uniqueName(existing []string, name string) string {
	candidate := name
	for i := 2; ; i++ {
		if !slices.Contains(existing, candidate) {
			return candidate
		}
		candidate = fmt.Sprintf("%s#%d", name, i)
	}
}

// isNotRegistered reports whether err came from an unknown provider name.
func isNotRegistered(err error) bool {
	return errors.Is(err, config.ErrProviderNotRegistered)
}
