package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

const minSecretBytes = 32

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	DBDriver string
	DBConn   string

	SecretKey     string
	SessionKey    string
	SessionTTL    time.Duration
	RememberTTL   time.Duration
	ResetTokenTTL time.Duration
	CookieSecure  bool
	BcryptCost    int
	BaseURL       string

	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
	MailQueueSize int
	MailWorkers   int

	AvatarBackend       string
	AvatarDir           string
	AvatarMaxBytes      int64
	AvatarSweepSchedule string
	AvatarSweepGrace    time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3Prefix    string
}

// fileConfig mirrors Config for the optional YAML file. Durations are strings
// so they can be written as "30m".
type fileConfig struct {
	Port                string `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	DBDriver            string `yaml:"db_driver"`
	DBConn              string `yaml:"db_conn"`
	SecretKey           string `yaml:"secret_key"`
	SessionKey          string `yaml:"session_key"`
	SessionTTL          string `yaml:"session_ttl"`
	RememberTTL         string `yaml:"remember_ttl"`
	ResetTokenTTL       string `yaml:"reset_token_ttl"`
	CookieSecure        *bool  `yaml:"cookie_secure"`
	BcryptCost          int    `yaml:"bcrypt_cost"`
	BaseURL             string `yaml:"base_url"`
	SMTPHost            string `yaml:"smtp_host"`
	SMTPPort            string `yaml:"smtp_port"`
	SMTPUsername        string `yaml:"smtp_username"`
	SMTPPassword        string `yaml:"smtp_password"`
	SenderEmail         string `yaml:"sender_email"`
	MailQueueSize       int    `yaml:"mail_queue_size"`
	MailWorkers         int    `yaml:"mail_workers"`
	AvatarBackend       string `yaml:"avatar_backend"`
	AvatarDir           string `yaml:"avatar_dir"`
	AvatarMaxBytes      int64  `yaml:"avatar_max_bytes"`
	AvatarSweepSchedule string `yaml:"avatar_sweep_schedule"`
	AvatarSweepGrace    string `yaml:"avatar_sweep_grace"`
	S3Bucket            string `yaml:"s3_bucket"`
	S3Region            string `yaml:"s3_region"`
	S3Endpoint          string `yaml:"s3_endpoint"`
	S3AccessKey         string `yaml:"s3_access_key"`
	S3SecretKey         string `yaml:"s3_secret_key"`
	S3PublicURL         string `yaml:"s3_public_url"`
	S3Prefix            string `yaml:"s3_prefix"`
}

// Defaults returns a development configuration. The secrets are placeholders
// and must be overridden outside of local development.
func Defaults() *Config {
	return &Config{
		Port:                "8080",
		LogLevel:            "info",
		DBDriver:            "postgres",
		DBConn:              "host=localhost port=5432 user=test password=test dbname=accounts sslmode=disable",
		SecretKey:           "dev-secret-key-change-me-0123456789abcdef",
		SessionKey:          "dev-session-key-change-me-0123456789abcdef",
		SessionTTL:          24 * time.Hour,
		RememberTTL:         365 * 24 * time.Hour,
		ResetTokenTTL:       30 * time.Minute,
		CookieSecure:        false,
		BcryptCost:          10,
		BaseURL:             "http://localhost:8080",
		SMTPHost:            "localhost",
		SMTPPort:            "587",
		SenderEmail:         "noreply@demo.com",
		MailQueueSize:       100,
		MailWorkers:         2,
		AvatarBackend:       "local",
		AvatarDir:           "static/profile_pics",
		AvatarMaxBytes:      2 << 20,
		AvatarSweepSchedule: "@daily",
		AvatarSweepGrace:    time.Hour,
		S3Region:            "us-east-1",
	}
}

// NewConfig loads configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func NewConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DBDriver, fc.DBDriver)
	setString(&c.DBConn, fc.DBConn)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.SessionKey, fc.SessionKey)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.SMTPHost, fc.SMTPHost)
	setString(&c.SMTPPort, fc.SMTPPort)
	setString(&c.SMTPUsername, fc.SMTPUsername)
	setString(&c.SMTPPassword, fc.SMTPPassword)
	setString(&c.SenderEmail, fc.SenderEmail)
	setString(&c.AvatarBackend, fc.AvatarBackend)
	setString(&c.AvatarDir, fc.AvatarDir)
	setString(&c.AvatarSweepSchedule, fc.AvatarSweepSchedule)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3Endpoint, fc.S3Endpoint)
	setString(&c.S3AccessKey, fc.S3AccessKey)
	setString(&c.S3SecretKey, fc.S3SecretKey)
	setString(&c.S3PublicURL, fc.S3PublicURL)
	setString(&c.S3Prefix, fc.S3Prefix)

	if fc.CookieSecure != nil {
		c.CookieSecure = *fc.CookieSecure
	}
	if fc.BcryptCost != 0 {
		c.BcryptCost = fc.BcryptCost
	}
	if fc.MailQueueSize != 0 {
		c.MailQueueSize = fc.MailQueueSize
	}
	if fc.MailWorkers != 0 {
		c.MailWorkers = fc.MailWorkers
	}
	if fc.AvatarMaxBytes != 0 {
		c.AvatarMaxBytes = fc.AvatarMaxBytes
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_ttl", fc.SessionTTL, &c.SessionTTL},
		{"remember_ttl", fc.RememberTTL, &c.RememberTTL},
		{"reset_token_ttl", fc.ResetTokenTTL, &c.ResetTokenTTL},
		{"avatar_sweep_grace", fc.AvatarSweepGrace, &c.AvatarSweepGrace},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBConn = getEnv("DB_CONN", c.DBConn)
	c.SecretKey = getEnv("SECRET_KEY", c.SecretKey)
	c.SessionKey = getEnv("SESSION_KEY", c.SessionKey)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getEnv("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = getEnv("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.SenderEmail = getEnv("SENDER_EMAIL", c.SenderEmail)
	c.AvatarBackend = getEnv("AVATAR_BACKEND", c.AvatarBackend)
	c.AvatarDir = getEnv("AVATAR_DIR", c.AvatarDir)
	c.AvatarSweepSchedule = getEnv("AVATAR_SWEEP_SCHEDULE", c.AvatarSweepSchedule)
	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3Region = getEnv("S3_REGION", c.S3Region)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = getEnv("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = getEnv("S3_SECRET_KEY", c.S3SecretKey)
	c.S3PublicURL = getEnv("S3_PUBLIC_URL", c.S3PublicURL)
	c.S3Prefix = getEnv("S3_PREFIX", c.S3Prefix)

	var err error
	if c.SessionTTL, err = getEnvDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.RememberTTL, err = getEnvDuration("REMEMBER_TTL", c.RememberTTL); err != nil {
		return err
	}
	if c.ResetTokenTTL, err = getEnvDuration("RESET_TOKEN_TTL", c.ResetTokenTTL); err != nil {
		return err
	}
	if c.AvatarSweepGrace, err = getEnvDuration("AVATAR_SWEEP_GRACE", c.AvatarSweepGrace); err != nil {
		return err
	}
	if c.CookieSecure, err = getEnvBool("COOKIE_SECURE", c.CookieSecure); err != nil {
		return err
	}
	if c.BcryptCost, err = getEnvInt("BCRYPT_COST", c.BcryptCost); err != nil {
		return err
	}
	if c.MailQueueSize, err = getEnvInt("MAIL_QUEUE_SIZE", c.MailQueueSize); err != nil {
		return err
	}
	if c.MailWorkers, err = getEnvInt("MAIL_WORKERS", c.MailWorkers); err != nil {
		return err
	}
	maxBytes, err := getEnvInt("AVATAR_MAX_BYTES", int(c.AvatarMaxBytes))
	if err != nil {
		return err
	}
	c.AvatarMaxBytes = int64(maxBytes)
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite3", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver != "memory" && c.DBConn == "" {
		return errors.New("DB_CONN is required")
	}
	if len(c.SecretKey) < minSecretBytes {
		return fmt.Errorf("SECRET_KEY must be at least %d characters", minSecretBytes)
	}
	if len(c.SessionKey) < minSecretBytes {
		return fmt.Errorf("SESSION_KEY must be at least %d characters", minSecretBytes)
	}
	if c.SessionTTL <= 0 || c.RememberTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("SESSION_TTL, REMEMBER_TTL and RESET_TOKEN_TTL must be positive")
	}
	switch c.AvatarBackend {
	case "local":
		if c.AvatarDir == "" {
			return errors.New("AVATAR_DIR is required for the local avatar backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 avatar backend")
		}
	default:
		return fmt.Errorf("unsupported AVATAR_BACKEND %q", c.AvatarBackend)
	}
	if c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be at most %d", bcrypt.MaxCost)
	}
	if c.AvatarMaxBytes <= 0 {
		return errors.New("AVATAR_MAX_BYTES must be positive")
	}
	if c.MailQueueSize < 0 || c.MailWorkers < 0 {
		return errors.New("MAIL_QUEUE_SIZE and MAIL_WORKERS must not be negative")
	}
	return nil
}

// SMTPAddr returns host:port of the mail relay.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%s", c.SMTPHost, c.SMTPPort)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
