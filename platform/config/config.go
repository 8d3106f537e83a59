// Package config loads the funnel services' settings from the environment.
// Consumers depend on the narrow interfaces below rather than on *Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq-based scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepInterval() time.Duration
}

// AutomationConfig provides settings for the sequence dispatcher.
type AutomationConfig interface {
	GetDeliveryMaxAttempts() int
	GetSweepBatchSize() int
	GetSweepWorkers() int
	GetSendLease() time.Duration
}

// SMTPConfig provides settings for email delivery over SMTP.
type SMTPConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// WhatsAppConfig provides settings for the WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetPhoneDefaultRegion() string
}

// KafkaConfig provides settings for the outbound event relay.
type KafkaConfig interface {
	GetKafkaBrokers() []string
	GetKafkaFunnelTopic() string
	IsKafkaEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketFunnelExports() string
	IsMinIOEnabled() bool
}

// DefaultsConfig provides the location of the tenant defaults file.
type DefaultsConfig interface {
	GetFunnelDefaultsPath() string
}

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	MigrationsEnabled       bool
	JWTAccessSecret         string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	SweepInterval           time.Duration
	SweepBatchSize          int
	SweepWorkers            int
	SendLease               time.Duration
	DeliveryMaxAttempts     int
	EmailEnabled            bool
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromName           string
	EmailFromAddress        string
	WhatsAppURL             string
	WhatsAppKey             string
	WhatsAppDeviceID        string
	PhoneDefaultRegion      string
	KafkaBrokers            []string
	KafkaFunnelTopic        string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinIOMaxFileSize        int64
	MinioBucketFunnelExport string
	FunnelDefaultsPath      string
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string             { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool       { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string       { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int        { return c.AsynqConcurrency }
func (c *Config) GetSweepInterval() time.Duration { return c.SweepInterval }

// AutomationConfig implementation
func (c *Config) GetDeliveryMaxAttempts() int { return c.DeliveryMaxAttempts }
func (c *Config) GetSweepBatchSize() int      { return c.SweepBatchSize }
func (c *Config) GetSweepWorkers() int        { return c.SweepWorkers }
func (c *Config) GetSendLease() time.Duration { return c.SendLease }

// SMTPConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string        { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string        { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string   { return c.WhatsAppDeviceID }
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// KafkaConfig implementation
func (c *Config) GetKafkaBrokers() []string   { return c.KafkaBrokers }
func (c *Config) GetKafkaFunnelTopic() string { return c.KafkaFunnelTopic }
func (c *Config) IsKafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaFunnelTopic != ""
}

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketFunnelExports() string {
	return c.MinioBucketFunnelExport
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// DefaultsConfig implementation
func (c *Config) GetFunnelDefaultsPath() string { return c.FunnelDefaultsPath }

// Load reads configuration from the environment, after loading a .env file
// when one is present. Malformed numbers, durations and booleans are reported
// together instead of falling back to zero values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	corsOrigins := env.list("CORS_ORIGINS", "http://localhost:4200")

	cfg := &Config{
		Env:                     env.str("APP_ENV", "development"),
		HTTPAddr:                env.str("HTTP_ADDR", ":8080"),
		DatabaseURL:             env.str("DATABASE_URL", ""),
		MigrationsEnabled:       env.bool("MIGRATIONS_ENABLED", true),
		JWTAccessSecret:         env.str("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:            env.bool("CORS_ALLOW_ALL", false) || slices.Contains(corsOrigins, "*"),
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          env.bool("CORS_ALLOW_CREDENTIALS", true),
		RedisURL:                env.str("REDIS_URL", ""),
		RedisTLSInsecure:        env.bool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:          env.str("ASYNQ_QUEUE", "funnel"),
		AsynqConcurrency:        env.int("ASYNQ_CONCURRENCY", 5),
		SweepInterval:           env.duration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:          env.int("SWEEP_BATCH_SIZE", 100),
		SweepWorkers:            env.int("SWEEP_WORKERS", 4),
		SendLease:               env.duration("SEND_LEASE", 5*time.Minute),
		DeliveryMaxAttempts:     env.int("DELIVERY_MAX_ATTEMPTS", 5),
		EmailEnabled:            env.bool("EMAIL_ENABLED", false),
		SMTPHost:                env.str("SMTP_HOST", ""),
		SMTPPort:                env.int("SMTP_PORT", 587),
		SMTPUsername:            env.str("SMTP_USERNAME", ""),
		SMTPPassword:            env.str("SMTP_PASSWORD", ""),
		EmailFromName:           env.str("EMAIL_FROM_NAME", "Academia"),
		EmailFromAddress:        env.str("EMAIL_FROM_ADDRESS", ""),
		WhatsAppURL:             env.str("WHATSAPP_URL", ""),
		WhatsAppKey:             env.str("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:        env.str("WHATSAPP_DEVICE_ID", ""),
		PhoneDefaultRegion:      env.str("PHONE_DEFAULT_REGION", "CO"),
		KafkaBrokers:            env.list("KAFKA_BROKERS", ""),
		KafkaFunnelTopic:        env.str("KAFKA_FUNNEL_TOPIC", "funnel.events"),
		MinIOEndpoint:           env.str("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          env.str("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          env.str("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             env.bool("MINIO_USE_SSL", false),
		MinIOMaxFileSize:        int64(env.int("MINIO_MAX_FILE_SIZE", 10<<20)),
		MinioBucketFunnelExport: env.str("MINIO_BUCKET_FUNNEL_EXPORTS", "funnel-exports"),
		FunnelDefaultsPath:      env.str("FUNNEL_DEFAULTS_PATH", ""),
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTAccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET is required"))
	}
	if c.EmailEnabled && c.SMTPHost == "" {
		errs = append(errs, errors.New("SMTP_HOST is required when EMAIL_ENABLED is true"))
	}
	if c.EmailEnabled && c.EmailFromAddress == "" {
		errs = append(errs, errors.New("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is true"))
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		errs = append(errs, errors.New("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true"))
	}
	if c.DeliveryMaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SweepWorkers < 1 {
		errs = append(errs, errors.New("SWEEP_WORKERS must be at least 1"))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be at least 1s"))
	}
	return errors.Join(errs...)
}

// envReader reads typed variables and collects parse failures.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return fallback
}

func (r *envReader) bool(key string, fallback bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return fallback
	}
	return v
}

func (r *envReader) int(key string, fallback int) int {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return fallback
	}
	return v
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return fallback
	}
	return v
}

// list splits a comma separated variable, dropping empty entries.
func (r *envReader) list(key, fallback string) []string {
	parts := strings.Split(r.str(key, fallback), ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
