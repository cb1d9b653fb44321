// Package config loads issuescope settings from defaults, the environment and
// an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the flattened runtime configuration. Keys match the environment
// variable names, lowercased.
type Config struct {
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"cors_origin"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`

	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"`
	QdrantTLS        bool   `mapstructure:"qdrant_tls"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	EmbedDims        int    `mapstructure:"embed_dims"`

	LLMProvider     string  `mapstructure:"llm_provider"`
	OpenAIBaseURL   string  `mapstructure:"openai_base_url"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key"`
	OllamaURL       string  `mapstructure:"ollama_url"`
	ChatModel       string  `mapstructure:"chat_model"`
	EmbedModel      string  `mapstructure:"embed_model"`
	ChatTemperature float32 `mapstructure:"chat_temperature"`
	ChatMaxHistory  int     `mapstructure:"chat_max_history"`
	UrgencyRate     float64 `mapstructure:"urgency_rate"`

	SessionStore string        `mapstructure:"session_store"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	SQLitePath   string        `mapstructure:"sqlite_path"`

	Neo4jURL  string `mapstructure:"neo4j_url"`
	Neo4jUser string `mapstructure:"neo4j_user"`
	Neo4jPass string `mapstructure:"neo4j_pass"`
	NATSURL   string `mapstructure:"nats_url"`

	ProjectionPerplexity float64 `mapstructure:"projection_perplexity"`
	// ProjectionSeed of 0 is treated as 42, the projection default.
	ProjectionSeed uint64 `mapstructure:"projection_seed"`
}

var defaults = map[string]any{
	"port":        8080,
	"cors_origin": "*",
	"log_level":   "info",
	"log_format":  "json",

	"qdrant_url":        "localhost:6334",
	"qdrant_api_key":    "",
	"qdrant_tls":        false,
	"qdrant_collection": "GithubIssues",
	"embed_dims":        1536,

	"llm_provider":     "openai",
	"openai_base_url":  "https://api.openai.com/v1",
	"openai_api_key":   "",
	"ollama_url":       "http://localhost:11434",
	"chat_model":       "gpt-3.5-turbo",
	"embed_model":      "text-embedding-3-small",
	"chat_temperature": 0.8,
	"chat_max_history": 20,
	"urgency_rate":     2.0,

	"session_store": "memory",
	"session_ttl":   "24h",
	"redis_addr":    "localhost:6379",
	"sqlite_path":   "issuescope.db",

	"neo4j_url":  "",
	"neo4j_user": "neo4j",
	"neo4j_pass": "",
	"nats_url":   "",

	"projection_perplexity": 5.0,
	"projection_seed":       42,
}

// Load reads configuration into a Config. envFile names a dotenv file; when it
// is empty, ".env" in the working directory is read if present.
func Load(v *viper.Viper, envFile string) (Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		notFound := errors.As(err, &pathErr) || errors.As(err, &viper.ConfigFileNotFoundError{})
		if explicit || !notFound {
			return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown llm_provider %q", c.LLMProvider)
	}
	switch c.SessionStore {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("config: unknown session_store %q", c.SessionStore)
	}
	if c.ChatMaxHistory < 1 {
		return fmt.Errorf("config: chat_max_history must be positive, got %d", c.ChatMaxHistory)
	}
	if c.ProjectionPerplexity <= 0 {
		return fmt.Errorf("config: projection_perplexity must be positive, got %g", c.ProjectionPerplexity)
	}
	if c.EmbedDims < 1 {
		return fmt.Errorf("config: embed_dims must be positive, got %d", c.EmbedDims)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// NewLogger builds the process logger. format "text" selects the text
// handler; anything else is JSON.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
