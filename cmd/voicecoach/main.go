// Command voicecoach is the HTTP server for the pronunciation coaching
// pipeline: it transcribes recordings, aligns them against the expected text
// and synthesises corrective audio clips.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecoach/internal/api"
	"github.com/MrWong99/voicecoach/internal/assets"
	"github.com/MrWong99/voicecoach/internal/config"
	"github.com/MrWong99/voicecoach/internal/correction"
	"github.com/MrWong99/voicecoach/internal/correction/phonetic"
	"github.com/MrWong99/voicecoach/internal/health"
	"github.com/MrWong99/voicecoach/internal/observe"
	"github.com/MrWong99/voicecoach/internal/voice"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level, language and prompt when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecoach: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicecoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecoach",
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	be, err := buildProviders(cfg, reg)
	if err != nil {
		if isNotRegistered(err) {
			slog.Error("unknown provider", "err", err, "stt", reg.Names("stt"), "tts", reg.Names("tts"))
		} else {
			slog.Error("failed to build providers", "err", err)
		}
		return 1
	}

	// ── Asset store ───────────────────────────────────────────────────────────
	store, err := assets.OpenURL(cfg.Assets.BucketURL)
	if err != nil {
		slog.Error("failed to open asset store", "bucket_url", cfg.Assets.BucketURL, "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("asset store close error", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pipeline := voice.New(be.stt, be.tts, store, voice.Config{
		DefaultLanguage:      cfg.Pipeline.DefaultLanguage,
		Prompt:               cfg.Pipeline.Prompt,
		ScratchDir:           cfg.Pipeline.ScratchDir,
		TranscribeTimeout:    cfg.Pipeline.TranscribeTimeout,
		SynthesizeTimeout:    cfg.Pipeline.SynthesizeTimeout,
		SynthesisConcurrency: cfg.Pipeline.SynthesisConcurrency,
		URLPrefix:            cfg.Assets.URLPrefix,
		STTName:              cfg.Providers.STT.Name,
		TTSName:              cfg.Providers.TTS.Name,
	},
		voice.WithPlanner(correction.NewPlanner(correction.WithScorer(phonetic.New()))),
		voice.WithMetrics(metrics),
	)

	// ── HTTP routes ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.NewHandler(pipeline, api.WithMaxUploadBytes(cfg.Pipeline.MaxUploadBytes)).Register(mux)
	checks := append([]health.Checker{health.PingChecker("assets", store)}, be.checks...)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(old, new, &level, pipeline)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadTarget is the part of the pipeline that accepts new defaults at runtime.
type reloadTarget interface {
	SetDefaults(language, prompt string)
}

// applyReload pushes the hot-reloadable parts of the change from old to new
// into the running server and warns about the rest.
func applyReload(old, new *config.Config, level *slog.LevelVar, p reloadTarget) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged || d.PromptChanged {
		p.SetDefaults(new.Pipeline.DefaultLanguage, new.Pipeline.Prompt)
		slog.Info("pipeline defaults changed",
			"language_changed", d.LanguageChanged,
			"prompt_changed", d.PromptChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicecoach, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT, len(cfg.Providers.STTFallbacks)))
	printRow("TTS", providerLabel(cfg.Providers.TTS, len(cfg.Providers.TTSFallbacks)))
	printRow("Language", cfg.Pipeline.DefaultLanguage)
	printRow("Assets", cfg.Assets.BucketURL)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry, fallbacks int) string {
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if fallbacks > 0 {
		label += fmt.Sprintf(" (+%d)", fallbacks)
	}
	return label
}

func printRow(kind, value string) {
	fmt.Println(formatRow(kind, value))
}

// formatRow renders one banner row. Values longer than 19 runes are cut to
// 16 runes plus an ellipsis.
func formatRow(kind, value string) string {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	return fmt.Sprintf("║  %-12s   : %-19s ║", kind, value)
}
