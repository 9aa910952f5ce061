package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the AingDesk backend daemon.
type Config struct {
	BindAddr string
	DataRoot string
	LogLevel string
	Version  string

	Chat      ChatConfig
	RAG       RAGConfig
	Runtime   RuntimeConfig
	Telemetry TelemetryConfig
}

type ChatConfig struct {
	// ContextLength is the character-count context window; assembly uses
	// half of it for history (the coarse token proxy).
	ContextLength   int
	UpstreamTimeout time.Duration
}

type RAGConfig struct {
	ChunkSize    int
	ChunkOverlap int
	PerBaseTopK  int
	GlobalTopK   int
}

type RuntimeConfig struct {
	// Endpoint of the managed local runtime (ollama-compatible API).
	Endpoint string
	// Mirrors to download the runtime archive from, tried in order.
	Mirrors []string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BindAddr: envStr("BIND_ADDR", "127.0.0.1:7071"),
		DataRoot: envStr("DATA_ROOT", defaultDataRoot()),
		LogLevel: envStr("LOG_LEVEL", "info"),
		Version:  envStr("AINGDESK_VERSION", "1.2.0"),
		Chat: ChatConfig{
			ContextLength:   envInt("CHAT_CONTEXT_LENGTH", 8192),
			UpstreamTimeout: envDur("UPSTREAM_TIMEOUT", 120*time.Second),
		},
		RAG: RAGConfig{
			ChunkSize:    envInt("RAG_CHUNK_SIZE", 512),
			ChunkOverlap: envInt("RAG_CHUNK_OVERLAP", 50),
			PerBaseTopK:  envInt("RAG_PER_BASE_TOPK", 4),
			GlobalTopK:   envInt("RAG_GLOBAL_TOPK", 8),
		},
		Runtime: RuntimeConfig{
			Endpoint: envStr("RUNTIME_ENDPOINT", "http://127.0.0.1:11434"),
			Mirrors: []string{
				envStr("RUNTIME_MIRROR", "https://ollama.com/download"),
				"https://github.com/ollama/ollama/releases/latest/download",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "aingdesk-backend"),
		},
	}
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aingdesk"
	}
	return filepath.Join(home, ".aingdesk")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
