//go:build !whispercpp

package main

import "github.com/MrWong99/talkback/internal/config"

// registerNativeProviders is a no-op without the whispercpp build tag.
func registerNativeProviders(*config.Registry) {}
