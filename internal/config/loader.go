package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the syntax from the file extension. Anything other than
// .toml is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whispercpp", "deepgram", "openai", "mock"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
}

// Load reads the configuration file at path and returns a validated [Config]
// with defaults applied. The syntax is chosen by [FormatFor].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Decode(r, FormatYAML)
}

// Decode reads a config in the given syntax, applies defaults and validates
// the result. Unknown keys are rejected in both syntaxes.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeBytes(data []byte, format Format) (*Config, error) {
	return Decode(bytes.NewReader(data), format)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Client
	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}
	if cfg.Client.Endpoint != "" {
		u, err := url.Parse(cfg.Client.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("client.endpoint %q must be an absolute http(s) URL", cfg.Client.Endpoint))
		}
	}
	if cfg.Client.UploadTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("client.upload_timeout_sec %d must not be negative", cfg.Client.UploadTimeoutSec))
	}

	capt := cfg.Client.Capture
	if capt.Source != "" && !capt.Source.IsValid() {
		errs = append(errs, fmt.Errorf("client.capture.source %q is invalid; valid values: ffmpeg, portaudio", capt.Source))
	}
	if capt.SampleRate < 0 || (capt.SampleRate > 0 && (capt.SampleRate < 8000 || capt.SampleRate > 192000)) {
		errs = append(errs, fmt.Errorf("client.capture.sample_rate %d is out of range [8000, 192000]", capt.SampleRate))
	}
	if capt.Channels < 0 || capt.Channels > 2 {
		errs = append(errs, fmt.Errorf("client.capture.channels %d is out of range [1, 2]", capt.Channels))
	}
	if capt.ChunkMs < 0 {
		errs = append(errs, fmt.Errorf("client.capture.chunk_ms %d must not be negative", capt.ChunkMs))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Unknown provider names only warn; a custom build may register more.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	// Assistant
	if t := cfg.Assistant.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
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
	slog.Warn("unknown provider name, check for a typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
