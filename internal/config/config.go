package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Dataset  DatasetConfig
	Logger   LoggerConfig
	Security SecurityConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=localhost"`
	Port            int           `env:"SERVER_PORT,default=3000"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=10s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=30s"`
}

type DatasetConfig struct {
	CSVFile     string        `env:"DATASET_CSV_FILE,default=data/sales-records.csv"`
	Strict      bool          `env:"DATASET_STRICT,default=false"`
	EagerLoad   bool          `env:"DATASET_EAGER_LOAD,default=true"`
	LoadTimeout time.Duration `env:"DATASET_LOAD_TIMEOUT,default=30s"`
	CacheDir    string        `env:"DATASET_CACHE_DIR"`
	ReloadCron  string        `env:"DATASET_RELOAD_CRON"`
}

type LoggerConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

type SecurityConfig struct {
	EnableRateLimit bool       `env:"SECURITY_RATE_LIMIT_ENABLED,default=true"`
	RateLimitRPS    int        `env:"SECURITY_RATE_LIMIT_RPS,default=100"`
	RateLimitBurst  int        `env:"SECURITY_RATE_LIMIT_BURST,default=20"`
	AllowedOrigins  StringList `env:"SECURITY_ALLOWED_ORIGINS,default=http://localhost:4200"`
	TrustedProxies  StringList `env:"SECURITY_TRUSTED_PROXIES,default=127.0.0.1"`
	PublicDashboard bool       `env:"SECURITY_PUBLIC_DASHBOARD,default=true"`
}

type AuthConfig struct {
	JWTSecret   string        `env:"AUTH_JWT_SECRET"`
	Issuer      string        `env:"AUTH_ISSUER,default=sales-dashboard"`
	TokenTTL    time.Duration `env:"AUTH_TOKEN_TTL,default=1h"`
	Users       StringList    `env:"AUTH_USERS"`
	DevUser     string        `env:"AUTH_DEV_USER,default=admin"`
	DevPassword string        `env:"AUTH_DEV_PASSWORD"`
}

// StringList decodes a comma separated environment value.
type StringList []string

func (l *StringList) Decode(value string) error {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Dataset.CSVFile == "" {
		return fmt.Errorf("CSV file path cannot be empty")
	}

	if c.Dataset.LoadTimeout <= 0 {
		return fmt.Errorf("dataset load timeout must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 16 characters")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	for _, entry := range c.Auth.Users {
		if name, hash, ok := strings.Cut(entry, ":"); !ok || name == "" || hash == "" {
			return fmt.Errorf("invalid AUTH_USERS entry %q, want name:bcrypt-hash", entry)
		}
	}

	if len(c.Auth.Users) == 0 && c.Auth.DevPassword == "" {
		return fmt.Errorf("no users configured: set AUTH_USERS or AUTH_DEV_PASSWORD")
	}

	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogValue keeps credentials out of startup logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", c.Address()),
		slog.String("csv_file", c.Dataset.CSVFile),
		slog.Bool("dataset_strict", c.Dataset.Strict),
		slog.String("dataset_reload_cron", c.Dataset.ReloadCron),
		slog.String("log_level", c.Logger.Level),
		slog.Bool("rate_limit", c.Security.EnableRateLimit),
		slog.Any("allowed_origins", []string(c.Security.AllowedOrigins)),
		slog.Bool("public_dashboard", c.Security.PublicDashboard),
		slog.Duration("token_ttl", c.Auth.TokenTTL),
		slog.Int("configured_users", len(c.Auth.Users)),
	)
}
