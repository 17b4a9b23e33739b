package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
client:
  endpoint: http://localhost:8080
  log_level: debug
  upload_timeout_sec: 30
  capture:
    source: ffmpeg
    device: default
    format: pulse
    sample_rate: 48000
    channels: 2
    chunk_ms: 100

server:
  listen_addr: ":9090"
  log_level: info
  allowed_origins:
    - http://localhost:3000
  max_upload_bytes: 1048576

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    options:
      organization: org-123

assistant:
  system_prompt: Answer in one sentence.
  temperature: 0.3
  max_tokens: 256
  language: en
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Client.Endpoint != "http://localhost:8080" {
		t.Errorf("client.endpoint: got %q", cfg.Client.Endpoint)
	}
	if cfg.Client.LogLevel != config.LogDebug {
		t.Errorf("client.log_level: got %q, want %q", cfg.Client.LogLevel, config.LogDebug)
	}
	if got := cfg.Client.UploadTimeout().Seconds(); got != 30 {
		t.Errorf("client.upload_timeout: got %vs, want 30s", got)
	}
	if cfg.Client.Capture.SampleRate != 48000 || cfg.Client.Capture.Channels != 2 {
		t.Errorf("client.capture: got %d Hz / %d ch", cfg.Client.Capture.SampleRate, cfg.Client.Capture.Channels)
	}
	if got := cfg.Client.Capture.ChunkInterval().Milliseconds(); got != 100 {
		t.Errorf("client.capture.chunk_ms: got %dms, want 100ms", got)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.MaxUploadBytes != 1<<20 {
		t.Errorf("server.max_upload_bytes: got %d", cfg.Server.MaxUploadBytes)
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"http://localhost:3000"}) {
		t.Errorf("server.allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers: got stt=%q llm=%q", cfg.Providers.STT.Name, cfg.Providers.LLM.Name)
	}
	if cfg.Providers.LLM.Options["organization"] != "org-123" {
		t.Errorf("providers.llm.options: got %v", cfg.Providers.LLM.Options)
	}
	if cfg.Assistant.SystemPrompt != "Answer in one sentence." {
		t.Errorf("assistant.system_prompt: got %q", cfg.Assistant.SystemPrompt)
	}
	if cfg.Assistant.Temperature != 0.3 || cfg.Assistant.MaxTokens != 256 {
		t.Errorf("assistant: got temperature=%v max_tokens=%d", cfg.Assistant.Temperature, cfg.Assistant.MaxTokens)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("defaults not applied for %q", doc)
		}
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	capt := cfg.Client.Capture
	if capt.Source != config.SourceFFmpeg {
		t.Errorf("capture.source: got %q, want ffmpeg", capt.Source)
	}
	if capt.SampleRate != config.DefaultSampleRate || capt.Channels != config.DefaultChannels || capt.ChunkMs != config.DefaultChunkMs {
		t.Errorf("capture defaults: got %+v", capt)
	}
	if cfg.Client.UploadTimeoutSec != config.DefaultUploadTimeoutSec {
		t.Errorf("upload_timeout_sec: got %d", cfg.Client.UploadTimeoutSec)
	}
	if cfg.Server.MaxUploadBytes != config.DefaultMaxUploadBytes {
		t.Errorf("max_upload_bytes: got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Assistant.SystemPrompt != config.DefaultSystemPrompt {
		t.Errorf("system_prompt: got %q", cfg.Assistant.SystemPrompt)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := `
server:
  listen_adr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should mention listen_adr, got: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	yaml := `
providers:
  stt:
    name: my-custom-stt
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown LLM provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSTT(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

// ── Registry with registered factories ───────────────────────────────────────

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubSTT{}
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub", Model: "tiny"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "tiny" {
		t.Errorf("factory received model %q, want tiny", gotEntry.Model)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &stubSTT{}, nil })
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &stubSTT{}, nil })
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &stubLLM{}, nil })

	if got := reg.Names("stt"); !slices.Equal(got, []string{"deepgram", "whisper"}) {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := reg.Names("llm"); !slices.Equal(got, []string{"openai"}) {
		t.Errorf("Names(llm) = %v", got)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v, want empty", got)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubLLM implements llm.Provider with no-op methods.
type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

// stubSTT implements stt.Provider with a no-op Transcribe.
type stubSTT struct{}

func (s *stubSTT) Transcribe(_ context.Context, _ *audio.Clip, _ stt.Config) (stt.Transcript, error) {
	return stt.Transcript{}, nil
}
