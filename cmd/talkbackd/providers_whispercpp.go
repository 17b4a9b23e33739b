//go:build whispercpp

package main

import (
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/stt/whisper"
)

// registerNativeProviders registers the in-process whisper.cpp provider.
func registerNativeProviders(reg *config.Registry) {
	reg.RegisterSTT("whispercpp", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})
}
