package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: "127.0.0.1:8573"
  log_level: debug
browser:
  devtools_url: "http://127.0.0.1:9222"
  recorder_url: "http://127.0.0.1:8573/recorder"
  poll_interval: 5s
  auto_record_grace: 3s
providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
recording:
  baseline_language: en
  format: wav
  mode: audio
storage:
  postgres_dsn: "postgres://localhost/meetscribe"
  redis_addr: "localhost:6379"
bot:
  enabled: true
  auto_record: true
  platforms: [google-meet, zoom]
export:
  format: markdown
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8573" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.STT.Model != "whisper-1" {
		t.Errorf("stt model = %q", cfg.Providers.STT.Model)
	}
	if cfg.Recording.Format != config.FormatWAV {
		t.Errorf("format = %q", cfg.Recording.Format)
	}
	if len(cfg.Bot.Platforms) != 2 {
		t.Errorf("platforms = %v", cfg.Bot.Platforms)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
browser:
  devtools_url: "http://127.0.0.1:9222"
  devtool_url: "typo"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingDevToolsURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected error for missing devtools_url, got nil")
	}
	if !strings.Contains(err.Error(), "devtools_url") {
		t.Errorf("error should mention devtools_url, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
recording:
  format: mp3
  mode: hologram
bot:
  platforms: [skype]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{"log_level", "recording.format", "recording.mode", "skype"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/meetscribe/cert.pem
browser:
  devtools_url: "http://127.0.0.1:9222"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Errorf("expected TLS error mentioning key_file, got: %v", err)
	}
}

func TestRegistry_UnregisteredProvider(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		got = entry
		return nil, nil
	})
	entry := config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "whisper-1"}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if got.Model != "whisper-1" || got.APIKey != "sk-test" {
		t.Errorf("factory received %+v", got)
	}
}

func TestValidate_FallbackRequiresPrimary(t *testing.T) {
	t.Parallel()
	yaml := `
browser:
  devtools_url: "http://127.0.0.1:9222"
providers:
  stt_fallback:
    name: whisperlocal
    base_url: "http://127.0.0.1:9000"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "stt_fallback") {
		t.Errorf("expected fallback error, got: %v", err)
	}
}

func TestLoad_FallbackProviders(t *testing.T) {
	t.Parallel()
	yaml := `
browser:
  devtools_url: "http://127.0.0.1:9222"
providers:
  stt:
    name: openai
    api_key: sk-test
  stt_fallback:
    name: whisperlocal
    base_url: "http://127.0.0.1:9000"
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallback:
    name: ollama
    base_url: "http://127.0.0.1:11434"
    model: llama3.1
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.STTFallback == nil || cfg.Providers.STTFallback.Name != "whisperlocal" {
		t.Errorf("stt fallback = %+v", cfg.Providers.STTFallback)
	}
	if cfg.Providers.LLMFallback == nil || cfg.Providers.LLMFallback.Name != "ollama" {
		t.Errorf("llm fallback = %+v", cfg.Providers.LLMFallback)
	}
}
