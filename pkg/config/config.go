package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of the intray server
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig holds the received files directory and session expiry settings
type StorageConfig struct {
	Dir           string        `yaml:"dir"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxChunks     int64         `yaml:"max_chunks"` // upper bound on chunks per session
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Realm         string        `yaml:"realm"`
	Credentials   []string      `yaml:"credentials"` // user:password, password may be a bcrypt hash
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
	BCryptCost    int           `yaml:"bcrypt_cost"`
}

// DatabaseConfig holds the receipt ledger connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite, empty disables the ledger
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite database file
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"` // empty disables caching
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "::"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 0),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Storage: StorageConfig{
			Dir:           getEnv("STORAGE_DIR", "./"),
			SessionTTL:    getEnvDuration("STORAGE_SESSION_TTL", 15*time.Second),
			SweepInterval: getEnvDuration("STORAGE_SWEEP_INTERVAL", 15*time.Second),
			MaxChunks:     int64(getEnvInt("STORAGE_MAX_CHUNKS", 1<<24)),
		},
		Auth: AuthConfig{
			Realm:         getEnv("AUTH_REALM", "intray"),
			Credentials:   getEnvList("AUTH_CREDENTIALS"),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
			BCryptCost:    getEnvInt("BCRYPT_COST", 10),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "intray"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "intray"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "intray.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// LoadFile reads a YAML configuration file on top of the environment
// defaults. Environment variables that are set explicitly win over the file.
func LoadFile(path string) (*Config, error) {
	cfg := LoadFromEnv()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("STORAGE_SESSION_TTL"); v != "" {
		cfg.Storage.SessionTTL = getEnvDuration("STORAGE_SESSION_TTL", cfg.Storage.SessionTTL)
	}
	if v := os.Getenv("STORAGE_SWEEP_INTERVAL"); v != "" {
		cfg.Storage.SweepInterval = getEnvDuration("STORAGE_SWEEP_INTERVAL", cfg.Storage.SweepInterval)
	}
	if v := os.Getenv("STORAGE_MAX_CHUNKS"); v != "" {
		cfg.Storage.MaxChunks = int64(getEnvInt("STORAGE_MAX_CHUNKS", int(cfg.Storage.MaxChunks)))
	}
	if v := getEnvList("AUTH_CREDENTIALS"); len(v) > 0 {
		cfg.Auth.Credentials = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the values that would make the server unusable and warns
// about a storage directory that does not exist yet.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if net.ParseIP(c.Server.Host) == nil {
		return fmt.Errorf("invalid ip address: %q", c.Server.Host)
	}
	if c.Storage.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Storage.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Storage.MaxChunks <= 0 {
		return fmt.Errorf("max chunks must be positive")
	}
	for _, credential := range c.Auth.Credentials {
		if !strings.Contains(credential, ":") {
			return fmt.Errorf("credential %q is not in user:password form", credential)
		}
	}

	info, err := os.Stat(c.Storage.Dir)
	switch {
	case os.IsNotExist(err):
		log.Warn().Str("dir", c.Storage.Dir).Msg("storage directory does not exist")
	case err == nil && !info.IsDir():
		log.Warn().Str("dir", c.Storage.Dir).Msg("storage path is not a directory")
	}
	return nil
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
