// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the process reads from its environment
type Config struct {
	// APIURL is the base URL of the control-plane REST API
	APIURL string
	// Port the gateway listens on
	Port string

	// LiveKit room credentials
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// GeminiAPIKey enables post-call analysis; empty disables it
	GeminiAPIKey string
}

// Load reads .env when present, then the environment. LiveKit
// credentials are required; analysis is optional.
func Load() (*Config, error) {
	// A missing .env is fine in deployed environments
	godotenv.Load()

	cfg := &Config{
		APIURL:           getenv("CALLCTL_API_URL", "http://localhost:8000"),
		Port:             getenv("PORT", "8080"),
		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
	}

	if cfg.LiveKitURL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL environment variable is required")
	}
	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY and LIVEKIT_API_SECRET environment variables are required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
