// Command meetscribed is the Meetscribe meeting recorder daemon.
//
// It attaches to a browser over the DevTools protocol, watches tabs for
// active meetings, records their audio through the recorder page, and
// turns finished recordings into transcripts and summaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/meetscribe/meetscribe/internal/app"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/resilience"
	"github.com/meetscribe/meetscribe/pkg/provider/llm"
	"github.com/meetscribe/meetscribe/pkg/provider/llm/anyllm"
	oai "github.com/meetscribe/meetscribe/pkg/provider/llm/openai"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
	sttopenai "github.com/meetscribe/meetscribe/pkg/provider/stt/openai"
	"github.com/meetscribe/meetscribe/pkg/provider/stt/whisperlocal"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetscribed: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetscribed: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("meetscribed starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"devtools", cfg.Browser.DevToolsURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "meetscribe",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("daemon ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Meetscribe. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisperlocal"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai gets the native client, which supports strict JSON responses
	// for the summary stage.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oai.Option
		if entry.BaseURL != "" {
			opts = append(opts, oai.WithBaseURL(entry.BaseURL))
		}
		return oai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisperlocal", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisperlocal.Option
		if entry.Model != "" {
			opts = append(opts, whisperlocal.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperlocal.WithLanguage(lang))
		}
		return whisperlocal.New(entry.BaseURL, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		ps.STTName = name
		slog.Info("provider created", "kind", "stt", "name", name, "model", cfg.Providers.STT.Model)

		if fb := cfg.Providers.STTFallback; fb != nil && fb.Name != "" {
			secondary, err := reg.CreateSTT(*fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			group := resilience.NewSTTFallback(p, name, resilience.BreakerConfig{})
			group.Add(fb.Name, secondary)
			ps.STT = group
			slog.Info("provider fallback wired", "kind", "stt", "primary", name, "fallback", fb.Name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		ps.LLMName = name
		ps.LLMModel = cfg.Providers.LLM.Model
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)

		if fb := cfg.Providers.LLMFallback; fb != nil && fb.Name != "" {
			secondary, err := reg.CreateLLM(*fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			group := resilience.NewLLMFallback(p, name, resilience.BreakerConfig{})
			group.Add(fb.Name, secondary)
			ps.LLM = group
			slog.Info("provider fallback wired", "kind", "llm", "primary", name, "fallback", fb.Name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Meetscribe — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printLine("DevTools", cfg.Browser.DevToolsURL)
	printLine("Format", string(cfg.Recording.Format))
	if cfg.Storage.PostgresDSN != "" {
		printLine("History", "postgres")
	} else {
		printLine("History", "in-memory")
	}
	if cfg.Storage.RedisAddr != "" {
		printLine("State", "redis")
	} else {
		printLine("State", "in-memory")
	}
	if cfg.Bot.Enabled {
		printLine("Meeting bot", "enabled")
	} else {
		printLine("Meeting bot", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printLine("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printLine(kind, value)
}

func printLine(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
