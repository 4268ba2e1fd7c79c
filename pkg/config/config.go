// Package config holds the gateway's process-wide configuration. The
// gateway is configured entirely from the environment, with an optional
// .env file for local development and an optional YAML routing catalog.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the gateway configuration, initialized once at startup and
// injected into components as a constructor parameter.
type Config struct {
	Host string
	Port int

	// OllamaBaseURL is the address of the local model daemon.
	OllamaBaseURL string

	// RequestTimeout bounds chat and generate calls to the daemon.
	RequestTimeout time.Duration

	// ClassifyTimeout bounds embedding and classification helper calls.
	ClassifyTimeout time.Duration

	SessionMaxHistory int
	SessionTimeout    time.Duration

	DefaultModel   string
	EmbeddingModel string

	LogRequests  bool
	LogResponses bool

	// EnableOrchestration gates the workflow and unified-chat surfaces.
	EnableOrchestration bool

	// WorkspaceRoot is the directory tool executions are confined to.
	WorkspaceRoot string

	// CatalogPath optionally points at a YAML routing catalog override.
	CatalogPath string

	// Production masks internal error details in HTTP responses.
	Production bool
}

// LoadEnvFiles loads .env.local and .env if present. Already-set variables
// always win over file contents.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// FromEnv builds a Config from the environment and applies defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Host:                envString("HOST", ""),
		Port:                envInt("PORT", 0),
		OllamaBaseURL:       envString("OLLAMA_BASE_URL", ""),
		RequestTimeout:      envMillis("REQUEST_TIMEOUT", 0),
		SessionMaxHistory:   envInt("SESSION_MAX_HISTORY", 0),
		SessionTimeout:      envMillis("SESSION_TIMEOUT_MS", 0),
		DefaultModel:        envString("DEFAULT_MODEL", ""),
		EmbeddingModel:      envString("EMBEDDING_MODEL", ""),
		LogRequests:         envBool("LOG_REQUESTS", false),
		LogResponses:        envBool("LOG_RESPONSES", false),
		EnableOrchestration: envBool("ENABLE_AGENTIC_ORCHESTRATION", true),
		WorkspaceRoot:       envString("WORKSPACE_ROOT", ""),
		CatalogPath:         envString("ROUTING_CATALOG", ""),
		Production:          envString("NODE_ENV", envString("GO_ENV", "")) == "production",
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills unset fields with their documented defaults.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3003
	}
	if c.OllamaBaseURL == "" {
		c.OllamaBaseURL = "http://localhost:11434"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.ClassifyTimeout == 0 {
		c.ClassifyTimeout = 30 * time.Second
	}
	if c.SessionMaxHistory == 0 {
		c.SessionMaxHistory = 50
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "llama3.1:8b"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "nomic-embed-text:latest"
	}
	if c.WorkspaceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			c.WorkspaceRoot = wd
		} else {
			c.WorkspaceRoot = "."
		}
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.SessionMaxHistory < 1 {
		return fmt.Errorf("session max history must be positive, got %d", c.SessionMaxHistory)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %v", c.SessionTimeout)
	}
	return nil
}

// Address returns the host:port the HTTP server binds.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}
