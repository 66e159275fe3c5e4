// Package app wires all Meetscribe subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStateStore, WithBrowser, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meetscribe/meetscribe/internal/bot"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/export"
	"github.com/meetscribe/meetscribe/internal/health"
	"github.com/meetscribe/meetscribe/internal/history"
	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/monitor"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/pipeline"
	"github.com/meetscribe/meetscribe/internal/state"
	"github.com/meetscribe/meetscribe/pkg/browser"
	"github.com/meetscribe/meetscribe/pkg/browser/cdp"
	"github.com/meetscribe/meetscribe/pkg/capture"
	"github.com/meetscribe/meetscribe/pkg/provider/llm"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

// Providers holds the configured processing providers. Populated by
// main.go via the config registry.
type Providers struct {
	STT     stt.Provider
	STTName string

	LLM      llm.Provider
	LLMName  string
	LLMModel string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	state       state.Store
	history     history.Store
	bots        bot.Store
	browser     browser.Platform
	wsOpener    *capture.WSOpener
	encoder     capture.Encoder
	pipeline    *pipeline.Pipeline
	coordinator *Coordinator
	hub         *hub.Hub
	watcher     *monitor.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStateStore injects a session state store instead of creating one
// from config.
func WithStateStore(s state.Store) Option {
	return func(a *App) { a.state = s }
}

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithBotStore injects a bot store instead of creating one from config.
func WithBotStore(s bot.Store) Option {
	return func(a *App) { a.bots = s }
}

// WithBrowser injects a browser platform instead of attaching over DevTools.
func WithBrowser(b browser.Platform) Option {
	return func(a *App) { a.browser = b }
}

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics injects a metrics bundle instead of using the global meter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use
// Option functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Browser attachment ────────────────────────────────────────────
	if err := a.initBrowser(ctx); err != nil {
		return nil, fmt.Errorf("app: init browser: %w", err)
	}

	// ── 3. Capture + processing pipeline ────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Coordinator + hub + watcher ──────────────────────────────────
	if err := a.initCoordinator(); err != nil {
		return nil, fmt.Errorf("app: init coordinator: %w", err)
	}

	return a, nil
}

// initStores sets up the session state, history, and bot stores, falling
// back to in-memory implementations when no backend is configured.
func (a *App) initStores(ctx context.Context) error {
	if a.state == nil {
		if addr := a.cfg.Storage.RedisAddr; addr != "" {
			rs, err := state.NewRedisStore(ctx, addr, a.cfg.Storage.RedisDB)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			a.state = rs
			a.closers = append(a.closers, rs.Close)
			a.logger.Info("session state in redis", "addr", addr)
		} else {
			a.state = state.NewMemStore()
		}
	}

	if a.history == nil {
		if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
			ps, err := history.NewPostgresStore(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.history = ps
			a.closers = append(a.closers, func() error {
				ps.Close()
				return nil
			})
			a.logger.Info("history in postgres")

			if a.bots == nil {
				bs, err := bot.NewPostgresStore(ctx, ps.Pool())
				if err != nil {
					return fmt.Errorf("init bot store: %w", err)
				}
				a.bots = bs
			}
		} else {
			a.history = history.NewMemStore()
		}
	}
	if a.bots == nil {
		a.bots = bot.NewMemStore()
	}

	return a.seedBotConfig(ctx)
}

// seedBotConfig copies the file-level bot settings into the store when it
// has never been configured. Runtime changes made through the UI stick.
func (a *App) seedBotConfig(ctx context.Context) error {
	stored, err := a.bots.Config(ctx)
	if err != nil {
		return fmt.Errorf("load bot config: %w", err)
	}
	def := bot.DefaultConfig()
	touched := stored.Enabled || stored.AutoRecord || len(stored.Platforms) > 0 ||
		stored.Notifications != def.Notifications ||
		stored.AutoTranscribe != def.AutoTranscribe ||
		stored.AutoSummarize != def.AutoSummarize
	if touched {
		return nil
	}

	file := a.cfg.Bot
	if !file.Enabled && !file.AutoRecord && len(file.Platforms) == 0 &&
		file.Notifications == nil && file.AutoTranscribe == nil && file.AutoSummarize == nil {
		return nil
	}
	seed := def
	seed.Enabled = file.Enabled
	seed.AutoRecord = file.AutoRecord
	seed.Platforms = file.Platforms
	if file.Notifications != nil {
		seed.Notifications = *file.Notifications
	}
	if file.AutoTranscribe != nil {
		seed.AutoTranscribe = *file.AutoTranscribe
	}
	if file.AutoSummarize != nil {
		seed.AutoSummarize = *file.AutoSummarize
	}
	return a.bots.SaveConfig(ctx, seed)
}

// initBrowser attaches to the browser's DevTools endpoint unless a
// platform was injected.
func (a *App) initBrowser(ctx context.Context) error {
	if a.browser != nil {
		return nil
	}
	platform, err := cdp.New(ctx, a.cfg.Browser.DevToolsURL)
	if err != nil {
		return fmt.Errorf("attach devtools %q: %w", a.cfg.Browser.DevToolsURL, err)
	}
	a.browser = platform
	a.closers = append(a.closers, platform.Close)
	a.logger.Info("attached to browser", "devtools", a.cfg.Browser.DevToolsURL)
	return nil
}

// initPipeline builds the capture engine and the post-capture pipeline.
func (a *App) initPipeline() error {
	a.wsOpener = capture.NewWSOpener(a.logger)

	switch a.cfg.Recording.Format {
	case config.FormatOpus:
		opus, err := capture.NewOpusEncoder()
		if err != nil {
			return fmt.Errorf("init opus encoder: %w", err)
		}
		a.encoder = opus
	default:
		a.encoder = capture.NewWAVEncoder()
	}

	p, err := pipeline.New(pipeline.Config{
		STT:              a.providers.STT,
		STTName:          a.providers.STTName,
		LLM:              a.providers.LLM,
		LLMName:          a.providers.LLMName,
		LLMModel:         a.providers.LLMModel,
		History:          a.history,
		BaselineLanguage: a.cfg.Recording.BaselineLanguage,
		Logger:           a.logger,
		Metrics:          a.metrics,
	})
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initCoordinator builds the coordinator, the command hub, and the
// meeting watcher on top of the capture stack.
func (a *App) initCoordinator() error {
	engine := capture.NewEngine(a.wsOpener, a.encoder, a.logger)

	coordinator, err := NewCoordinator(CoordinatorConfig{
		Engine:      engine,
		Processor:   a.pipeline,
		State:       a.state,
		Browser:     a.browser,
		Bots:        a.bots,
		RecorderURL: a.cfg.Browser.RecorderURL,
		Mode:        capture.Mode(a.cfg.Recording.Mode),
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.coordinator = coordinator

	exportFormat := a.cfg.Export.Format
	if exportFormat == "" {
		exportFormat = export.FormatMarkdown
	}
	commands := NewCommands(coordinator, a.history, a.bots, exportFormat, a.logger)
	a.hub = hub.New(commands.Handle, a.logger)
	coordinator.hub = a.hub
	a.closers = append(a.closers, a.hub.Close)

	watcher, err := monitor.New(monitor.Config{
		Platform:        a.browser,
		Bots:            a.bots,
		State:           a.state,
		Hub:             a.hub,
		Starter:         coordinator,
		PollInterval:    a.cfg.Browser.PollInterval,
		AutoRecordGrace: a.cfg.Browser.AutoRecordGrace,
		Logger:          a.logger,
		Metrics:         a.metrics,
	})
	if err != nil {
		return err
	}
	a.watcher = watcher
	return nil
}

// Coordinator exposes the recording coordinator, mainly for tests.
func (a *App) Coordinator() *Coordinator { return a.coordinator }

// Run serves the daemon until ctx is cancelled: the websocket hub and
// capture endpoint, health and metrics routes, and the meeting watcher.
func (a *App) Run(ctx context.Context) error {
	if err := a.coordinator.RecoverStale(ctx, a.history); err != nil {
		a.logger.Warn("stale session recovery", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", a.hub)
	mux.Handle("/capture", a.wsOpener)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.healthHandler().Register(mux)

	server := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return a.watcher.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler builds the readiness checks over the live dependencies.
func (a *App) healthHandler() *health.Handler {
	return health.New(
		health.Checker{
			Name: "session-state",
			Check: func(ctx context.Context) error {
				_, _, err := a.state.Get(ctx, state.KeyRecording)
				return err
			},
		},
		health.Checker{
			Name: "history",
			Check: func(ctx context.Context) error {
				_, err := a.history.List(ctx)
				return err
			},
		},
		health.Checker{
			Name: "browser",
			Check: func(ctx context.Context) error {
				_, err := a.browser.Tabs(ctx)
				return err
			},
		},
	)
}

// Shutdown tears down all subsystems. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		// Stop any in-flight recording so the audio is not lost.
		if a.coordinator != nil {
			if _, err := a.coordinator.Stop(ctx); err != nil && err != ErrNotRecording {
				a.logger.Warn("stop recording on shutdown", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
