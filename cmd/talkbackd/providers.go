package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/talkback/pkg/provider/llm/mock"
	oaillm "github.com/MrWong99/talkback/pkg/provider/llm/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/talkback/pkg/provider/stt/mock"
	oaistt "github.com/MrWong99/talkback/pkg/provider/stt/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile and
	// ollama share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
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

	// mock answers every recording with a fixed text, or repeats the
	// transcript with echo: true. Handy for wiring up a client without API
	// keys.
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		if optBool(entry.Options, "echo") {
			return &llmmock.Provider{Echo: true}, nil
		}
		text := optString(entry.Options, "response")
		if text == "" {
			text = "This is a canned answer from the mock LLM provider."
		}
		return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: text, FinishReason: "stop"}}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kws := optStrings(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		text := optString(entry.Options, "text")
		if text == "" {
			text = "hello"
		}
		return &sttmock.Provider{Result: stt.Transcript{Text: text}}, nil
	})

	registerNativeProviders(reg)

	slog.Debug("registered providers", "stt", reg.Names("stt"), "llm", reg.Names("llm"))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. YAML and TOML both decode lists
// into []any.
func optStrings(opts map[string]any, key string) []string {
	raw, _ := opts[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optDuration parses a duration string such as "30s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}

// optInt extracts an integer. YAML decodes to int, TOML to int64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optBool extracts a boolean; anything else counts as false.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
