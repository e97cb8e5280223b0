package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Tracking TrackingConfig `yaml:"tracking"`
	Reports  ReportsConfig  `yaml:"reports"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	CurrentPointer string `yaml:"current_pointer"` // path of the current-campaign pointer file
}

// RedisConfig holds optional Redis settings for the live stats cache
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MailerConfig holds mail transport configuration.
// Provider selects the implementation: "ses" or "smtp".
type MailerConfig struct {
	Provider string     `yaml:"provider"`
	From     string     `yaml:"from"`
	Subject  string     `yaml:"subject"`
	SES      SESConfig  `yaml:"ses"`
	SMTP     SMTPConfig `yaml:"smtp"`
}

// SESConfig holds AWS SES v2 API configuration
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SMTPConfig holds SMTP relay configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TrackingConfig holds landing flow configuration
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`     // default public base for tracking links
	TemplateDir string `yaml:"template_dir"` // mail + landing page templates
	DeliveryDir string `yaml:"delivery_dir"` // per-dispatch delivery audit CSVs
}

// ReportsConfig holds report export configuration
type ReportsConfig struct {
	OutputDir string `yaml:"output_dir"`
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

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.CurrentPointer == "" {
		cfg.Database.CurrentPointer = "current_campaign.txt"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTLSeconds == 0 {
		cfg.Redis.TTLSeconds = 2
	}
	if cfg.Mailer.Provider == "" {
		cfg.Mailer.Provider = "smtp"
	}
	if cfg.Mailer.Subject == "" {
		cfg.Mailer.Subject = "[중요] 의심스러운 로그인 시도가 차단됨"
	}
	if cfg.Mailer.SES.Region == "" {
		cfg.Mailer.SES.Region = "us-west-2"
	}
	if cfg.Mailer.SES.TimeoutSeconds == 0 {
		cfg.Mailer.SES.TimeoutSeconds = 30
	}
	if cfg.Mailer.SMTP.Port == 0 {
		cfg.Mailer.SMTP.Port = 25
	}
	if cfg.Tracking.TemplateDir == "" {
		cfg.Tracking.TemplateDir = "templates"
	}
	if cfg.Tracking.DeliveryDir == "" {
		cfg.Tracking.DeliveryDir = "deliveries"
	}
	if cfg.Reports.OutputDir == "" {
		cfg.Reports.OutputDir = "logs"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mailer.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mailer.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mailer.SES.Region = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mailer.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Mailer.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mailer.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Mailer.From = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}

	return cfg, nil
}
