package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.QdrantCollection != "GithubIssues" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ChatModel != "gpt-3.5-turbo" || cfg.ChatTemperature != 0.8 || cfg.ChatMaxHistory != 20 {
		t.Fatalf("chat defaults: %+v", cfg)
	}
	if cfg.ProjectionPerplexity != 5 || cfg.ProjectionSeed != 42 {
		t.Fatalf("projection defaults: %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("CHAT_MODEL", "llama3")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("SESSION_TTL", "90m")
	t.Setenv("PROJECTION_SEED", "7")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 || cfg.ChatModel != "llama3" || cfg.LLMProvider != "ollama" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.SessionTTL != 90*time.Minute || cfg.ProjectionSeed != 7 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadDotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.env")
	body := "QDRANT_URL=qdrant.example:6334\nQDRANT_TLS=true\nSESSION_STORE=sqlite\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QdrantURL != "qdrant.example:6334" || !cfg.QdrantTLS || cfg.SessionStore != "sqlite" {
		t.Fatalf("dotenv not applied: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{LLMProvider: "openai", SessionStore: "memory", ChatMaxHistory: 20, ProjectionPerplexity: 5, EmbedDims: 8}
	if err := base.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []func(*Config){
		func(c *Config) { c.LLMProvider = "bard" },
		func(c *Config) { c.SessionStore = "etcd" },
		func(c *Config) { c.ChatMaxHistory = 0 },
		func(c *Config) { c.ProjectionPerplexity = 0 },
		func(c *Config) { c.EmbedDims = 0 },
	}
	for i, mut := range bad {
		c := base
		mut(&c)
		if c.Validate() == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	NewLogger(&buf, "debug", "text").Debug("hello", "issue_id", "42")
	if !strings.Contains(buf.String(), "issue_id=42") {
		t.Fatalf("text logger output: %q", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "warn", "json").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %q", buf.String())
	}
	NewLogger(&buf, "bogus", "json").Info("kept")
	if !strings.Contains(buf.String(), `"msg":"kept"`) {
		t.Fatalf("json logger output: %q", buf.String())
	}
}
