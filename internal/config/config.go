package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// BridgeConfig holds the runtime defaults baked into generated bridges and
// used by the simulator.
type BridgeConfig struct {
	PrimaryTimeoutMS int          `yaml:"primary_timeout_ms"`
	PollAttempts     int          `yaml:"poll_attempts"`
	PollIntervalMS   int          `yaml:"poll_interval_ms"`
	DebugKey         string       `yaml:"debug_key"`
	EndpointPatterns []string     `yaml:"endpoint_patterns"` // Empty uses the built-in widget endpoints
	SinkID           string       `yaml:"sink_id"`
	Dedupe           DedupeConfig `yaml:"dedupe"`
}

// PrimaryTimeout returns how long the sink frame gets before backups start.
func (c BridgeConfig) PrimaryTimeout() time.Duration {
	return time.Duration(c.PrimaryTimeoutMS) * time.Millisecond
}

// PollInterval returns the element detection interval as a duration
func (c BridgeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// DedupeConfig enables the in-flight duplicate submission guard.
type DedupeConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

// TTL returns the guard lock lifetime as a duration
func (c DedupeConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StorageConfig holds artifact storage configuration
type StorageConfig struct {
	Type       string `yaml:"type"` // "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// EventsConfig holds delivery outcome event settings
type EventsConfig struct {
	Enabled           bool   `yaml:"enabled"`
	QueueURL          string `yaml:"queue_url"`
	DatabaseURL       string `yaml:"database_url"`
	AWSRegion         string `yaml:"aws_region"`
	WaitSeconds       int    `yaml:"wait_seconds"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	RetentionDays     int    `yaml:"retention_days"`
}

// RetryDelay returns the consumer back-off after a failed receive
func (c EventsConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Retention returns how long stored delivery events are kept
func (c EventsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Bridge.PrimaryTimeoutMS == 0 {
		cfg.Bridge.PrimaryTimeoutMS = 1000
	}
	if cfg.Bridge.PollAttempts == 0 {
		cfg.Bridge.PollAttempts = 120
	}
	if cfg.Bridge.PollIntervalMS == 0 {
		cfg.Bridge.PollIntervalMS = 250
	}
	if cfg.Bridge.DebugKey == "" {
		cfg.Bridge.DebugKey = "wf_bridge_debug"
	}
	if cfg.Bridge.SinkID == "" {
		cfg.Bridge.SinkID = "inf_sink_iframe"
	}
	if cfg.Bridge.Dedupe.TTLSeconds == 0 {
		cfg.Bridge.Dedupe.TTLSeconds = 30
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data/bridges"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Events.AWSRegion == "" {
		cfg.Events.AWSRegion = cfg.Storage.AWSRegion
	}
	if cfg.Events.WaitSeconds == 0 {
		cfg.Events.WaitSeconds = 20
	}
	if cfg.Events.RetryDelaySeconds == 0 {
		cfg.Events.RetryDelaySeconds = 5
	}
	if cfg.Events.RetentionDays == 0 {
		cfg.Events.RetentionDays = 90
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads .env if present, then the YAML file, then applies
// environment overrides
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BRIDGE_PRIMARY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Bridge.PrimaryTimeoutMS = ms
		}
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
		cfg.Events.AWSRegion = v
	}
	if v := os.Getenv("EVENTS_QUEUE_URL"); v != "" {
		cfg.Events.QueueURL = v
		cfg.Events.Enabled = true
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Events.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
