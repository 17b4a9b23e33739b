// Package config provides the configuration schema, loader, and provider
// registry shared by the talkback client and the talkbackd backend.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CaptureSource selects the microphone implementation used by the client.
type CaptureSource string

const (
	// SourceFFmpeg records through an ffmpeg child process.
	SourceFFmpeg CaptureSource = "ffmpeg"

	// SourcePortAudio records through PortAudio. Requires a binary built with
	// the portaudio build tag.
	SourcePortAudio CaptureSource = "portaudio"
)

// IsValid reports whether s is a recognised capture source.
func (s CaptureSource) IsValid() bool {
	return s == SourceFFmpeg || s == SourcePortAudio
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultSystemPrompt     = "You are a helpful assistant."
	DefaultMaxUploadBytes   = 25 << 20
	DefaultUploadTimeoutSec = 120
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultChunkMs          = 250
)

// Config is the root configuration structure.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Client    ClientConfig    `yaml:"client" toml:"client"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
}

// ClientConfig holds settings for the recording client.
type ClientConfig struct {
	// Endpoint is the base URL of the processing server
	// (e.g., "http://localhost:8080"). The TALKBACK_API_ENDPOINT environment
	// variable takes precedence.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// UploadTimeoutSec bounds one upload. Zero selects the default.
	UploadTimeoutSec int `yaml:"upload_timeout_sec" toml:"upload_timeout_sec"`

	Capture CaptureConfig `yaml:"capture" toml:"capture"`
}

// UploadTimeout returns UploadTimeoutSec as a duration.
func (c ClientConfig) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSec) * time.Second
}

// CaptureConfig describes the microphone stream.
type CaptureConfig struct {
	// Source selects the capture implementation. Defaults to ffmpeg.
	Source CaptureSource `yaml:"source" toml:"source"`

	// Device is the input device name. Empty selects the system default.
	Device string `yaml:"device" toml:"device"`

	// Format is the ffmpeg input format (e.g., "pulse", "avfoundation").
	// Empty selects the platform default.
	Format string `yaml:"format" toml:"format"`

	SampleRate int `yaml:"sample_rate" toml:"sample_rate"`
	Channels   int `yaml:"channels" toml:"channels"`

	// ChunkMs is the interval between chunk deliveries in milliseconds.
	ChunkMs int `yaml:"chunk_ms" toml:"chunk_ms"`
}

// ChunkInterval returns ChunkMs as a duration.
func (c CaptureConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkMs) * time.Millisecond
}

// ServerConfig holds network and logging settings for talkbackd.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`

	// AllowedOrigins lists the origins answered with CORS headers. "*"
	// allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	// MaxUploadBytes caps the request body of /process-audio.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file" toml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file" toml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt" toml:"stt"`
	LLM ProviderEntry `yaml:"llm" toml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name" toml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" toml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	// For local whisper.cpp this is the path to the model file.
	Model string `yaml:"model" toml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options" toml:"options"`
}

// AssistantConfig shapes the answer generated for each recording.
type AssistantConfig struct {
	// SystemPrompt is sent ahead of the transcript.
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`

	// Temperature in [0, 2]. Zero selects the provider default.
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	// MaxTokens caps the answer. Zero selects the provider default.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens"`

	// Language is a BCP-47 hint for transcription (e.g., "en"). Empty lets
	// the STT provider detect it.
	Language string `yaml:"language" toml:"language"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Client.Capture.Source == "" {
		cfg.Client.Capture.Source = SourceFFmpeg
	}
	if cfg.Client.Capture.SampleRate == 0 {
		cfg.Client.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Client.Capture.Channels == 0 {
		cfg.Client.Capture.Channels = DefaultChannels
	}
	if cfg.Client.Capture.ChunkMs == 0 {
		cfg.Client.Capture.ChunkMs = DefaultChunkMs
	}
	if cfg.Client.UploadTimeoutSec == 0 {
		cfg.Client.UploadTimeoutSec = DefaultUploadTimeoutSec
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Assistant.SystemPrompt == "" {
		cfg.Assistant.SystemPrompt = DefaultSystemPrompt
	}
}
