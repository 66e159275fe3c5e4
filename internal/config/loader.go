package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/meetscribe/meetscribe/internal/presence"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisperlocal"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
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
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Browser
	if cfg.Browser.DevToolsURL == "" {
		errs = append(errs, errors.New("browser.devtools_url is required"))
	}
	if cfg.Browser.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("browser.poll_interval %s must not be negative", cfg.Browser.PollInterval))
	}
	if cfg.Browser.AutoRecordGrace < 0 {
		errs = append(errs, fmt.Errorf("browser.auto_record_grace %s must not be negative", cfg.Browser.AutoRecordGrace))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	if fb := cfg.Providers.LLMFallback; fb != nil {
		validateProviderName("llm", fb.Name)
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("providers.llm_fallback requires a primary providers.llm"))
		}
	}
	if fb := cfg.Providers.STTFallback; fb != nil {
		validateProviderName("stt", fb.Name)
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("providers.stt_fallback requires a primary providers.stt"))
		}
	}

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; recordings cannot be transcribed")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; transcripts will be stored without summaries or translations")
	}

	// Recording
	if cfg.Recording.Format != "" && !cfg.Recording.Format.IsValid() {
		errs = append(errs, fmt.Errorf("recording.format %q is invalid; valid values: wav, opus", cfg.Recording.Format))
	}
	if cfg.Recording.Mode != "" && !cfg.Recording.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("recording.mode %q is invalid; valid values: audio, screen", cfg.Recording.Mode))
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; recording history will not survive restarts")
	}
	if cfg.Storage.RedisAddr == "" {
		slog.Warn("storage.redis_addr is empty; session state will not survive restarts")
	}

	// Bot platforms
	for i, name := range cfg.Bot.Platforms {
		if !presence.KnownPlatform(presence.Platform(name)) {
			errs = append(errs, fmt.Errorf("bot.platforms[%d] %q is not a supported platform", i, name))
		}
	}

	// Export
	if f := cfg.Export.Format; f != "" && f != "markdown" && f != "md" && f != "json" {
		errs = append(errs, fmt.Errorf("export.format %q is invalid; valid values: markdown, json", f))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
