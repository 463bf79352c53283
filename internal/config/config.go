// ABOUTME: Configuration loading and parsing for uptotrial-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete uptotrial-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Trials    TrialsConfig    `yaml:"trials"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address and timing configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	TurnTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TurnTimeoutRaw string `yaml:"turn_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OpenAIConfig holds model provider configuration
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// ExplainModel narrates tool calls during streaming; defaults to Model.
	ExplainModel string `yaml:"explain_model"`
}

// TrialsConfig holds the ClinicalTrials.gov client configuration
type TrialsConfig struct {
	// BaseURL overrides the public registry endpoint (mainly for tests)
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret enables bearer-token auth when set
	JWTSecret string `yaml:"jwt_secret"`
}

// RateLimitConfig holds the fixed-window rate limit settings
type RateLimitConfig struct {
	GlobalRequests        int `yaml:"global_requests"`
	CorrelationIDRequests int `yaml:"correlation_id_requests"`

	Period time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PeriodRaw string `yaml:"period"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
	if c.OpenAI.ExplainModel == "" {
		c.OpenAI.ExplainModel = c.OpenAI.Model
	}
	if c.Server.TurnTimeout == 0 {
		c.Server.TurnTimeout = 2 * time.Minute
	}
	if c.RateLimit.GlobalRequests == 0 {
		c.RateLimit.GlobalRequests = 100
	}
	if c.RateLimit.CorrelationIDRequests == 0 {
		c.RateLimit.CorrelationIDRequests = 20
	}
	if c.RateLimit.Period == 0 {
		c.RateLimit.Period = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.TurnTimeoutRaw != "" {
		cfg.Server.TurnTimeout, err = time.ParseDuration(cfg.Server.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn_timeout %q: %w", cfg.Server.TurnTimeoutRaw, err)
		}
	}

	if cfg.RateLimit.PeriodRaw != "" {
		cfg.RateLimit.Period, err = time.ParseDuration(cfg.RateLimit.PeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing ratelimit period %q: %w", cfg.RateLimit.PeriodRaw, err)
		}
	}

	return nil
}
