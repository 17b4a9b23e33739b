package llm

import (
	"errors"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned by providers when the backend answered
// without any choice to read a reply from.
var ErrEmptyResponse = errors.New("llm: response contains no choices")

// Message is one turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	Content string
}

// UserMessage returns a [RoleUser] message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}

// DefaultCapabilities is reported for models missing from the known table.
var DefaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// knownModels is matched in order against the lowercased model name, so
// more specific prefixes come first.
var knownModels = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"o4", ModelCapabilities{200_000, 100_000}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini-1.5-flash", ModelCapabilities{1_048_576, 8_192}},
	{"gemini-2", ModelCapabilities{1_048_576, 8_192}},
	{"gemini", ModelCapabilities{128_000, 8_192}},
	{"llama3", ModelCapabilities{128_000, 4_096}},
	{"mistral-large", ModelCapabilities{128_000, 8_192}},
	{"deepseek", ModelCapabilities{64_000, 8_192}},
}

// CapabilitiesFor looks model up in a table of well-known model families.
// Unknown models get [DefaultCapabilities].
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	// Ollama style tags ("llama3.2:3b") and vendor prefixes
	// ("models/gemini-2.0-flash") do not change the family.
	if i := strings.LastIndexByte(lower, '/'); i >= 0 {
		lower = lower[i+1:]
	}
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.prefix) {
			return m.caps
		}
	}
	return DefaultCapabilities
}
