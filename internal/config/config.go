// Package config loads cvagent settings from defaults, an optional YAML file,
// CVAGENT_* environment variables and bound command flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CVAGENT"

// envReplacer maps nested keys such as llm.api_key to CVAGENT_LLM_API_KEY.
var envReplacer = strings.NewReplacer(".", "_")

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Index      IndexConfig      `mapstructure:"index"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type LLMConfig struct {
	Provider        string      `mapstructure:"provider"` // openai | anthropic | gemini | openai-compatible
	Model           string      `mapstructure:"model"`
	APIKey          string      `mapstructure:"api_key"`
	BaseURL         string      `mapstructure:"base_url"`
	Temperature     float32     `mapstructure:"temperature"`
	MaxOutputTokens int         `mapstructure:"max_output_tokens"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type EmbeddingsConfig struct {
	Provider  string `mapstructure:"provider"` // openai | hash
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
}

type IndexConfig struct {
	Dir string `mapstructure:"dir"`
	// TopK is how many candidates a job description match returns.
	TopK int `mapstructure:"top_k"`
}

type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend"` // sqlite | redis | file
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Dir           string        `mapstructure:"dir"`
}

type BlobConfig struct {
	Backend  string `mapstructure:"backend"` // s3 | local
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
	Dir      string `mapstructure:"dir"`
}

type AgentConfig struct {
	RetryCap     int           `mapstructure:"retry_cap"`
	MaxActTurns  int           `mapstructure:"max_act_turns"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	MaxRows      int           `mapstructure:"max_rows"`
	ToolTokens   int           `mapstructure:"tool_tokens"`
}

type IngestConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	InboxDir     string `mapstructure:"inbox_dir"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers every default on v. Every key needs one so that
// Unmarshal sees its environment variable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_window", 20*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "cvagent.db")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_output_tokens", 2048)
	v.SetDefault("llm.retry.max_retries", 3)
	v.SetDefault("llm.retry.initial_delay", time.Second)
	v.SetDefault("llm.retry.max_delay", 30*time.Second)

	v.SetDefault("embeddings.provider", "hash")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimension", 0)
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")

	v.SetDefault("index.dir", "data/index")
	v.SetDefault("index.top_k", 4)

	v.SetDefault("checkpoint.backend", "sqlite")
	v.SetDefault("checkpoint.redis_addr", "localhost:6379")
	v.SetDefault("checkpoint.redis_password", "")
	v.SetDefault("checkpoint.redis_db", 0)
	v.SetDefault("checkpoint.ttl", 24*time.Hour)
	v.SetDefault("checkpoint.dir", "data/sessions")

	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.dir", "data/resumes")
	v.SetDefault("blob.prefix", "resumes/")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.endpoint", "")

	v.SetDefault("agent.retry_cap", 2)
	v.SetDefault("agent.max_act_turns", 8)
	v.SetDefault("agent.stage_timeout", 60*time.Second)
	v.SetDefault("agent.max_rows", 50)
	v.SetDefault("agent.tool_tokens", 2000)

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.inbox_dir", "")

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}

// NewViper returns a viper instance with defaults and environment binding.
// A .env file in the working directory is loaded first when present.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderKeys()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProviderKeys falls back to the conventional provider variables when
// no key was configured explicitly.
func (c *Config) applyProviderKeys() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai", "openai-compatible":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if c.Embeddings.APIKey == "" && c.Embeddings.Provider == "openai" {
		c.Embeddings.APIKey = c.LLM.APIKey
		if c.LLM.Provider != "openai" && c.LLM.Provider != "openai-compatible" {
			c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.RateLimit > 0, "server.rate_limit must be positive")
	check(c.Server.RateWindow > 0, "server.rate_window must be positive")
	check(c.Server.MaxUploadBytes > 0, "server.max_upload_bytes must be positive")

	check(oneOf(c.Database.Driver, "sqlite", "postgres"), "database.driver %q must be sqlite or postgres", c.Database.Driver)
	check(c.Database.DSN != "", "database.dsn is required")

	check(oneOf(c.LLM.Provider, "openai", "anthropic", "gemini", "openai-compatible"),
		"llm.provider %q must be openai, anthropic, gemini or openai-compatible", c.LLM.Provider)
	check(c.LLM.Model != "", "llm.model is required")
	check(c.LLM.Provider != "openai-compatible" || c.LLM.BaseURL != "", "llm.base_url is required for openai-compatible")
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be within [0, 2]")
	check(c.LLM.Retry.MaxRetries >= 0, "llm.retry.max_retries must be >= 0")

	check(oneOf(c.Embeddings.Provider, "openai", "hash"), "embeddings.provider %q must be openai or hash", c.Embeddings.Provider)
	check(c.Embeddings.Dimension >= 0, "embeddings.dimension must be >= 0")

	check(c.Index.TopK > 0, "index.top_k must be positive")

	check(oneOf(c.Checkpoint.Backend, "sqlite", "redis", "file"), "checkpoint.backend %q must be sqlite, redis or file", c.Checkpoint.Backend)
	check(c.Checkpoint.Backend != "redis" || c.Checkpoint.RedisAddr != "", "checkpoint.redis_addr is required for redis")
	check(c.Checkpoint.Backend != "file" || c.Checkpoint.Dir != "", "checkpoint.dir is required for file")

	check(oneOf(c.Blob.Backend, "s3", "local"), "blob.backend %q must be s3 or local", c.Blob.Backend)
	check(c.Blob.Backend != "s3" || c.Blob.Bucket != "", "blob.bucket is required for s3")
	check(c.Blob.Backend != "local" || c.Blob.Dir != "", "blob.dir is required for local")

	check(c.Agent.RetryCap >= 0, "agent.retry_cap must be >= 0")
	check(c.Agent.MaxActTurns > 0, "agent.max_act_turns must be positive")
	check(c.Agent.StageTimeout > 0, "agent.stage_timeout must be positive")
	check(c.Agent.MaxRows > 0, "agent.max_rows must be positive")

	check(c.Ingest.ChunkSize > 0, "ingest.chunk_size must be positive")
	check(c.Ingest.ChunkOverlap >= 0 && c.Ingest.ChunkOverlap < c.Ingest.ChunkSize,
		"ingest.chunk_overlap must be within [0, chunk_size)")

	return errors.Join(errs...)
}

// RequireLLMKey reports a missing API key. Commands that call the model
// check it; pure store commands do not.
func (c *Config) RequireLLMKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured for llm provider %s", c.LLM.Provider)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
