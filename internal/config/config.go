package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	LLM        LLMConfig        `json:"llm"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Memory     MemoryConfig     `json:"memory"`
	Simulation SimulationConfig `json:"simulation"`
	Database   DatabaseConfig   `json:"database"`
	Feed       FeedConfig       `json:"feed"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type LLMConfig struct {
	Providers   []ProviderConfig `json:"providers"`
	Default     string           `json:"default"`
	Fallbacks   []string         `json:"fallbacks,omitempty"`
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TimeoutSec  int              `json:"timeout_sec"`
	ProxyURL    string           `json:"proxy_url"`
}

// Timeout returns the request timeout as a duration.
func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models,omitempty"`
}

type EmbeddingConfig struct {
	Provider   string `json:"provider"`
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	Dimension  int    `json:"dimension"`
	ProxyURL   string `json:"proxy_url"`
	TimeoutSec int    `json:"timeout_sec"`
	CacheTTL   int    `json:"cache_ttl_sec"`
}

type MemoryConfig struct {
	ImportanceThreshold int     `json:"importance_threshold"`
	ReflectionInterval  int     `json:"reflection_interval"`
	NMSThreshold        float64 `json:"nms_threshold"`
	RecencyBase         float64 `json:"recency_base"`
	InstancyBase        float64 `json:"instancy_base"`
	ResetAccumulator    bool    `json:"reset_accumulator"`
	// ContextSize is how many memories are retrieved into each prompt.
	ContextSize int `json:"context_size"`
}

type SimulationConfig struct {
	Scenario       string `json:"scenario"`
	MaxParallel    int    `json:"max_parallel"`
	MaxRetry       int    `json:"max_retry"`
	TurnTimeoutSec int    `json:"turn_timeout_sec"`
	// StepIntervalMs drives automatic stepping in serve mode; 0 steps on demand.
	StepIntervalMs int    `json:"step_interval_ms"`
	MigrationsDir  string `json:"migrations_dir"`
	// CheckpointMinutes is how much world time passes between memory
	// checkpoints.
	CheckpointMinutes int `json:"checkpoint_minutes"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type FeedConfig struct {
	Slack   SlackFeedConfig   `json:"slack"`
	Discord DiscordFeedConfig `json:"discord"`
}

type SlackFeedConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordFeedConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration that runs fully offline.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = []ProviderConfig{{ID: "offline", Type: "scripted", Name: "Offline"}}
	}
	if c.LLM.Default == "" {
		c.LLM.Default = c.LLM.Providers[0].ID
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 512
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 256
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.ProxyURL == "" {
		c.Embedding.ProxyURL = c.LLM.ProxyURL
	}

	if c.Memory.ImportanceThreshold == 0 {
		c.Memory.ImportanceThreshold = 100
	}
	if c.Memory.ReflectionInterval == 0 {
		c.Memory.ReflectionInterval = 10
	}
	if c.Memory.NMSThreshold == 0 {
		c.Memory.NMSThreshold = 0.99
	}
	if c.Memory.RecencyBase == 0 {
		c.Memory.RecencyBase = 0.99
	}
	if c.Memory.InstancyBase == 0 {
		c.Memory.InstancyBase = 0.90
	}
	if c.Memory.ContextSize == 0 {
		c.Memory.ContextSize = 5
	}

	if c.Simulation.MaxParallel == 0 {
		c.Simulation.MaxParallel = 4
	}
	if c.Simulation.MaxRetry == 0 {
		c.Simulation.MaxRetry = 3
	}
	if c.Simulation.TurnTimeoutSec == 0 {
		c.Simulation.TurnTimeoutSec = 300
	}
	if c.Simulation.MigrationsDir == "" {
		c.Simulation.MigrationsDir = "migrations"
	}
	if c.Simulation.CheckpointMinutes == 0 {
		c.Simulation.CheckpointMinutes = 10
	}

	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "arena_memories"
	}
}
