package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Continuity ContinuityConfig `yaml:"continuity"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AIConfig struct {
	Text TextModelConfig `yaml:"text"`
}

// TextModelConfig points at any OpenAI-compatible chat completion endpoint.
type TextModelConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"` // attempts per generation, each bounded by Timeout
}

// GenerationBudget is the longest one generation can take; zero when unbounded.
func (t TextModelConfig) GenerationBudget() time.Duration {
	return t.Timeout * time.Duration(t.MaxRetries)
}

type ContinuityConfig struct {
	Backend string `yaml:"backend"` // "redis" or "memory"
	// LockTTL bounds how long one series stays locked if a generation crashes mid-flight.
	LockTTL  time.Duration `yaml:"lock_ttl"`
	StateTTL time.Duration `yaml:"state_ttl"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// Default returns the configuration used when a field is left empty in the YAML file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
		},
		Database: DatabaseConfig{
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				Database:        "fabelwerk",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				PoolSize: 10,
			},
		},
		AI: AIConfig{
			Text: TextModelConfig{
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				MaxTokens:   4096,
				Temperature: 0.8,
				Timeout:     120 * time.Second,
				MaxRetries:  3,
			},
		},
		Continuity: ContinuityConfig{
			Backend:  "redis",
			LockTTL:  10 * time.Minute,
			StateTTL: 0,
		},
		Logging: LoggingConfig{Mode: "dev"},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.Text.APIKey = apiKey
	}
	if pw := os.Getenv("MYSQL_PASSWORD"); pw != "" {
		cfg.Database.MySQL.Password = pw
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Database.Redis.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.AI.Text.Model == "" {
		return fmt.Errorf("ai.text.model is required")
	}
	if c.AI.Text.Temperature < 0 || c.AI.Text.Temperature > 2 {
		return fmt.Errorf("ai.text.temperature out of range: %v", c.AI.Text.Temperature)
	}
	if c.Continuity.Backend != "redis" && c.Continuity.Backend != "memory" {
		return fmt.Errorf("unknown continuity.backend: %q", c.Continuity.Backend)
	}
	if c.AI.Text.MaxRetries <= 0 {
		return fmt.Errorf("ai.text.max_retries must be positive")
	}
	if c.Continuity.LockTTL <= 0 {
		return fmt.Errorf("continuity.lock_ttl must be positive")
	}
	// The series lock must outlive the slowest generation.
	if budget := c.AI.Text.GenerationBudget(); budget > 0 && c.Continuity.LockTTL <= budget {
		return fmt.Errorf("continuity.lock_ttl (%v) must exceed ai.text.timeout x max_retries (%v)", c.Continuity.LockTTL, budget)
	}
	return nil
}
