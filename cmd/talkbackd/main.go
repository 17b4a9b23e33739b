// Command talkbackd is the processing backend for the talkback recorder. It
// accepts recordings on POST /process-audio, transcribes them and answers
// with an LLM completion.
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

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/assist"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "talkback.yaml", "path to the YAML or TOML configuration file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full("talkbackd"))
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkbackd: config file %q not found, copy configs/talkback.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkbackd: %v\n", err)
		}
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("talkbackd starting",
		"version", version.String(),
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry, providers and routes ───────────────────────────────────────
	b, err := newBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to start talkbackd", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(&level, b.assistant, config.Diff(old, new), new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()

		// SIGHUP reloads at once instead of waiting for the next poll.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if err := watcher.Reload(); err != nil {
						slog.Warn("config reload rejected", "err", err)
					}
				}
			}
		}()
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           b.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("listening (TLS)", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", srv.Addr)
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// backend is talkbackd wired up to the point of listening.
type backend struct {
	handler   http.Handler
	assistant *assist.Assistant
	tel       *observe.Telemetry
}

// newBackend initialises telemetry, creates the configured providers and
// builds the HTTP handler serving the processing, health and metrics routes.
func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "talkbackd",
		ServiceVersion: version.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise telemetry: %w", err)
	}
	b, err := wire(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return b, nil
}

func wire(cfg *config.Config, tel *observe.Telemetry) (*backend, error) {
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		return nil, err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	slog.Info("providers created",
		"stt", cfg.Providers.STT.Name,
		"llm", cfg.Providers.LLM.Name,
		"llm_context_window", llmProvider.Capabilities().ContextWindow,
	)

	breakerCfg := func(name string) resilience.CircuitBreakerConfig {
		return resilience.CircuitBreakerConfig{
			Name: name,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("provider circuit changed", "provider", name, "from", from, "to", to)
			},
		}
	}
	assistant := assist.New(sttProvider, llmProvider,
		assist.WithSettings(assist.SettingsFrom(cfg.Assistant)),
		assist.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name),
		assist.WithBreakers(
			resilience.NewCircuitBreaker(breakerCfg("stt")),
			resilience.NewCircuitBreaker(breakerCfg("llm")),
		),
		assist.WithMetrics(metrics),
	)

	var checkers []health.Checker
	for _, cb := range assistant.Breakers() {
		checkers = append(checkers, health.Checker{Name: cb.Name(), Check: cb.Check})
	}

	mux := http.NewServeMux()
	assist.NewHandler(assistant,
		assist.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		assist.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	).Register(mux)
	health.New(version.String(), checkers...).Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())

	return &backend{
		handler:   observe.Middleware(metrics)(mux),
		assistant: assistant,
		tel:       tel,
	}, nil
}

func (b *backend) shutdown(ctx context.Context) error {
	return b.tel.Shutdown(ctx)
}

// applyReload applies the hot-reloadable parts of a changed config.
func applyReload(level *slog.LevelVar, a *assist.Assistant, d config.ConfigDiff, cfg *config.Config) {
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssistantChanged {
		a.SetSettings(assist.SettingsFrom(cfg.Assistant))
		slog.Info("assistant settings reloaded", "prompt_changed", d.PromptChanged)
	}
	if d.ProvidersChanged {
		slog.Warn("provider configuration changed, restart talkbackd to apply it")
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        talkbackd startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	printRow("Upload limit", fmt.Sprintf("%d MiB", cfg.Server.MaxUploadBytes>>20))
	printRow("CORS origins", fmt.Sprintf("%d", len(cfg.Server.AllowedOrigins)))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
