package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Meta      MetaConfig      `yaml:"meta"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Leads     LeadsConfig     `yaml:"leads"`
	Report    ReportConfig    `yaml:"report"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int    `yaml:"port"`
	Host                   string `yaml:"host"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// GetHost returns the server host, with container detection
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

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// MetaConfig holds the pixel and Conversions API credentials
type MetaConfig struct {
	PixelID       string `yaml:"pixel_id"`
	AccessToken   string `yaml:"access_token"`
	TestEventCode string `yaml:"test_event_code"`
	GraphBaseURL  string `yaml:"graph_base_url"`
	APIVersion    string `yaml:"api_version"`
}

// Enabled reports whether server-side forwarding can run.
func (c MetaConfig) Enabled() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// TrackingConfig tunes the dual-channel emitter and the tracking cookies
type TrackingConfig struct {
	ChannelBDelayMillis int    `yaml:"channel_b_delay_ms"`
	SendTimeoutSeconds  int    `yaml:"send_timeout_seconds"`
	FailClosedIDs       bool   `yaml:"fail_closed_ids"`
	CookieDomain        string `yaml:"cookie_domain"`
	CookieSecure        bool   `yaml:"cookie_secure"`
	SessionTTLMinutes   int    `yaml:"session_ttl_minutes"`
	IdempotencyTTLHours int    `yaml:"idempotency_ttl_hours"`
}

func (c TrackingConfig) ChannelBDelay() time.Duration {
	return time.Duration(c.ChannelBDelayMillis) * time.Millisecond
}

func (c TrackingConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c TrackingConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c TrackingConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// RedisConfig holds the optional shared Redis
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// RateLimitConfig holds the per-IP limit on the API
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// LeadsConfig holds the lead sinks. Each sink is enabled by its setting.
type LeadsConfig struct {
	WebhookURL        string `yaml:"webhook_url"`
	WebhookMaxRetries int    `yaml:"webhook_max_retries"`
	DatabaseURL       string `yaml:"database_url"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
}

// ReportConfig holds the text generation service settings
type ReportConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

func (c ReportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ReportConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// CORSConfig holds the origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads and parses the configuration file
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

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 15
	}
	if cfg.Meta.GraphBaseURL == "" {
		cfg.Meta.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v21.0"
	}
	if cfg.Tracking.ChannelBDelayMillis == 0 {
		cfg.Tracking.ChannelBDelayMillis = 500
	}
	if cfg.Tracking.SendTimeoutSeconds == 0 {
		cfg.Tracking.SendTimeoutSeconds = 5
	}
	if cfg.Tracking.SessionTTLMinutes == 0 {
		cfg.Tracking.SessionTTLMinutes = 30
	}
	if cfg.Tracking.IdempotencyTTLHours == 0 {
		cfg.Tracking.IdempotencyTTLHours = 48
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "funnel:"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.Leads.WebhookMaxRetries == 0 {
		cfg.Leads.WebhookMaxRetries = 3
	}
	if cfg.Report.Model == "" {
		cfg.Report.Model = "gpt-4o-mini"
	}
	if cfg.Report.TimeoutSeconds == 0 {
		cfg.Report.TimeoutSeconds = 45
	}
	if cfg.Report.CacheTTLMinutes == 0 {
		cfg.Report.CacheTTLMinutes = 60
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. An empty
// path skips the file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("META_PIXEL_ID"); v != "" {
		cfg.Meta.PixelID = v
	}
	if v := os.Getenv("META_ACCESS_TOKEN"); v != "" {
		cfg.Meta.AccessToken = v
	}
	if v := os.Getenv("META_TEST_EVENT_CODE"); v != "" {
		cfg.Meta.TestEventCode = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Leads.DatabaseURL = v
	}
	if v := os.Getenv("LEAD_WEBHOOK_URL"); v != "" {
		cfg.Leads.WebhookURL = v
	}
	if v := os.Getenv("LEADS_S3_BUCKET"); v != "" {
		cfg.Leads.S3Bucket = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Report.APIKey = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}

	return cfg, nil
}
