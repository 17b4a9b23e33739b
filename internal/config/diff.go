package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked, plus
// ProvidersChanged so callers can warn that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ClientLogLevelChanged bool
	NewClientLogLevel     LogLevel

	EndpointChanged bool
	NewEndpoint     string

	AssistantChanged bool
	PromptChanged    bool

	// ProvidersChanged is informational: providers are built once at startup.
	ProvidersChanged bool
}

// Changed reports whether any tracked field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ClientLogLevelChanged || d.EndpointChanged ||
		d.AssistantChanged || d.ProvidersChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Client.LogLevel != new.Client.LogLevel {
		d.ClientLogLevelChanged = true
		d.NewClientLogLevel = new.Client.LogLevel
	}
	if old.Client.Endpoint != new.Client.Endpoint {
		d.EndpointChanged = true
		d.NewEndpoint = new.Client.Endpoint
	}
	if old.Assistant != new.Assistant {
		d.AssistantChanged = true
		d.PromptChanged = old.Assistant.SystemPrompt != new.Assistant.SystemPrompt
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.ProvidersChanged = true
	}

	return d
}
