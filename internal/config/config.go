// Package config provides configuration types and helpers for prompthakcer.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application-wide configuration.
type Config struct {
	Format            string         `mapstructure:"format"`
	Verbose           bool           `mapstructure:"verbose"`
	LogLevel          string         `mapstructure:"log_level"`
	CompressionLevel  string         `mapstructure:"compression_level"`
	EnableCompression bool           `mapstructure:"enable_compression"`
	Rules             RulesConfig    `mapstructure:"rules"`
	Settings          SettingsConfig `mapstructure:"settings"`
	History           HistoryConfig  `mapstructure:"history"`
	Redis             RedisConfig    `mapstructure:"redis"`
	Hook              HookConfig     `mapstructure:"hook"`
	LLM               LLMConfig      `mapstructure:"llm"`
	Server            ServerConfig   `mapstructure:"server"`
}

// RulesConfig selects where rule documents come from.
type RulesConfig struct {
	// File is a local JSON or YAML rule document. It wins over RemoteURL.
	File         string        `mapstructure:"file"`
	RemoteURL    string        `mapstructure:"remote_url"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheFile    string        `mapstructure:"cache_file"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MatchTimeout time.Duration `mapstructure:"match_timeout"`
}

// SettingsConfig selects where user rule settings are persisted.
type SettingsConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "redis"
	Path    string `mapstructure:"path"`
}

// HistoryConfig selects the stats and history backend.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"` // "file", "redis" or "sqlite"
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// RedisConfig is shared by the redis settings and history backends.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// HookConfig configures the agent hooks.
type HookConfig struct {
	// Fields maps tool names to the tool_input field to scan.
	Fields       map[string]string `mapstructure:"fields"`
	SummaryEvery int               `mapstructure:"summary_every"`
}

// LLMConfig holds configuration for the downstream LLM used by send.
type LLMConfig struct {
	// Provider selects which LLM to use. Only "ollama" is supported.
	Provider string `mapstructure:"provider"`

	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	Ollama OllamaConfig `mapstructure:"ollama"`
}

// OllamaConfig holds Ollama-specific settings.
type OllamaConfig struct {
	Host      string `mapstructure:"host"`       // API endpoint
	Model     string `mapstructure:"model"`      // Default model name
	KeepAlive string `mapstructure:"keep_alive"` // e.g., "5m"
	NumCtx    int    `mapstructure:"num_ctx"`    // Context window size
	NumGPU    int    `mapstructure:"num_gpu"`    // GPU layers to offload
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`

	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string `mapstructure:"token_hash"`

	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst        int           `mapstructure:"burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Dir returns the per-user data directory, ~/.prompthakcer.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prompthakcer"
	}
	return filepath.Join(home, ".prompthakcer")
}

// DefaultSettingsPath is where the file settings backend writes.
func DefaultSettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// DefaultRulesCachePath is where fetched remote rules are kept between runs.
func DefaultRulesCachePath() string {
	return filepath.Join(Dir(), "remote_rules.json")
}

// DefaultHistoryPath returns the history location for a backend.
func DefaultHistoryPath(backend string) string {
	if backend == "sqlite" {
		return filepath.Join(Dir(), "history.db")
	}
	return filepath.Join(Dir(), "stats.json")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ParseLogLevel converts a level name to a slog.Level. Unknown names map
// to slog.LevelError, the quiet default.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "dbg":
		return slog.LevelDebug
	case "info", "inf":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
