package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is loaded once at startup and read-only afterwards.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// AuthzOn enables permission filtering of every search.
	AuthzOn            bool `mapstructure:"AUTHZ_ON"`
	ResultsMaxSize     int  `mapstructure:"RESULTS_MAX_SIZE"`
	ResultsDefaultSize int  `mapstructure:"RESULTS_DEFAULT_SIZE"`

	IndexBackend string `mapstructure:"INDEX_BACKEND"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`

	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	URICacheTTL   time.Duration `mapstructure:"URI_CACHE_TTL"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AppPort:            "5000",
		LogLevel:           "info",
		AuthzOn:            true,
		ResultsMaxSize:     200,
		ResultsDefaultSize: 20,
		IndexBackend:       BackendPostgres,
		DBSSLMode:          "require",
		JWTTTL:             24 * time.Hour,
		URICacheTTL:        time.Hour,
	}
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	def := Default()
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_PORT", def.AppPort)
	v.SetDefault("LOG_LEVEL", def.LogLevel)
	v.SetDefault("AUTHZ_ON", def.AuthzOn)
	v.SetDefault("RESULTS_MAX_SIZE", def.ResultsMaxSize)
	v.SetDefault("RESULTS_DEFAULT_SIZE", def.ResultsDefaultSize)
	v.SetDefault("INDEX_BACKEND", def.IndexBackend)
	v.SetDefault("DB_SSLMODE", def.DBSSLMode)
	v.SetDefault("JWT_TTL", def.JWTTTL)
	v.SetDefault("URI_CACHE_TTL", def.URICacheTTL)

	for _, k := range []string{
		"APP_PORT", "LOG_LEVEL", "AUTHZ_ON", "RESULTS_MAX_SIZE", "RESULTS_DEFAULT_SIZE",
		"INDEX_BACKEND", "DB_SSLMODE", "JWT_SECRET", "JWT_TTL",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "URI_CACHE_TTL",
	} {
		_ = v.BindEnv(k)
	}
	// The lower-case database variables of earlier deployments still work.
	_ = v.BindEnv("DB_USER", "DB_USER", "user")
	_ = v.BindEnv("DB_PASSWORD", "DB_PASSWORD", "password")
	_ = v.BindEnv("DB_HOST", "DB_HOST", "host")
	_ = v.BindEnv("DB_PORT", "DB_PORT", "port")
	_ = v.BindEnv("DB_NAME", "DB_NAME", "dbname")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ResultsMaxSize <= 0 {
		return fmt.Errorf("RESULTS_MAX_SIZE must be positive, got %d", c.ResultsMaxSize)
	}
	if c.ResultsDefaultSize < 0 || c.ResultsDefaultSize > c.ResultsMaxSize {
		return fmt.Errorf("RESULTS_DEFAULT_SIZE must be within [0, %d], got %d", c.ResultsMaxSize, c.ResultsDefaultSize)
	}
	switch c.IndexBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.IndexBackend)
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		strings.TrimSpace(c.DBUser), strings.TrimSpace(c.DBPassword), strings.TrimSpace(c.DBHost),
		strings.TrimSpace(c.DBPort), strings.TrimSpace(c.DBName), c.DBSSLMode)
}

func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  AppPort: %s\n", c.AppPort))
	sb.WriteString(fmt.Sprintf("  AuthzOn: %v\n", c.AuthzOn))
	sb.WriteString(fmt.Sprintf("  ResultsMaxSize: %d\n", c.ResultsMaxSize))
	sb.WriteString(fmt.Sprintf("  ResultsDefaultSize: %d\n", c.ResultsDefaultSize))
	sb.WriteString(fmt.Sprintf("  IndexBackend: %s\n", c.IndexBackend))
	sb.WriteString(fmt.Sprintf("  DBHost: %s\n", c.DBHost))
	sb.WriteString(fmt.Sprintf("  DBName: %s\n", c.DBName))
	sb.WriteString(fmt.Sprintf("  RedisAddr: %s\n", c.RedisAddr))
	sb.WriteString("  DBPassword: " + mask(c.DBPassword) + "\n")
	sb.WriteString("  JWTSecret: " + mask(c.JWTSecret) + "\n")
	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}
