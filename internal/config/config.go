package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"carbon-scribe/vericarbon-engine/internal/certification"
	"carbon-scribe/vericarbon-engine/internal/ledger"
	"carbon-scribe/vericarbon-engine/internal/market"
)

// Auth modes for resolving the calling account.
const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	SNS      SNSConfig      `json:"sns" yaml:"sns"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig locates the postgres event journal. An empty host disables it.
type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// RedisConfig enables the pub/sub event sink when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

// SNSConfig enables the SNS event sink when TopicARN is set.
type SNSConfig struct {
	Region          string `json:"region" yaml:"region"`
	TopicARN        string `json:"topic_arn" yaml:"topic_arn"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AuthMode  string `json:"auth_mode" yaml:"auth_mode"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// EngineConfig holds the certification, ledger and market policies.
type EngineConfig struct {
	BootstrapAdmin       string        `json:"bootstrap_admin" yaml:"bootstrap_admin"`
	QuorumPolicy         string        `json:"quorum_policy" yaml:"quorum_policy"`
	FeeBps               uint32        `json:"fee_bps" yaml:"fee_bps"`
	FeeRate              string        `json:"fee_rate" yaml:"fee_rate"`
	StableDecimals       int32         `json:"stable_decimals" yaml:"stable_decimals"`
	EnforceExpiry        bool          `json:"enforce_expiry" yaml:"enforce_expiry"`
	ExpirySchedule       string        `json:"expiry_schedule" yaml:"expiry_schedule"`
	AuditBufferSize      int           `json:"audit_buffer_size" yaml:"audit_buffer_size"`
	AuditDeliveryTimeout time.Duration `json:"audit_delivery_timeout" yaml:"audit_delivery_timeout"`
}

// Default returns the configuration used before any file or environment is read.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Port:    5432,
			DBName:  "vericarbon",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Channel: "vericarbon.events",
		},
		SNS: SNSConfig{
			Region: "us-east-1",
		},
		Security: SecurityConfig{
			AuthMode: AuthModeJWT,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			QuorumPolicy:         string(certification.QuorumLive),
			StableDecimals:       6,
			ExpirySchedule:       ledger.DefaultExpirySchedule,
			AuditBufferSize:      1024,
			AuditDeliveryTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig loads configuration from .env, the config file (JSON, or YAML by
// extension) and environment variables, in that order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	config := Default()

	// Load from file if exists
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := decode(configPath, data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")

	setString(&config.Redis.Addr, "REDIS_ADDR")
	setString(&config.Redis.Password, "REDIS_PASSWORD")
	setInt(&config.Redis.DB, "REDIS_DB")

	setString(&config.SNS.Region, "AWS_REGION")
	setString(&config.SNS.TopicARN, "SNS_TOPIC_ARN")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setString(&config.Security.AuthMode, "AUTH_MODE")

	setString(&config.Logging.Level, "LOG_LEVEL")

	setString(&config.Engine.BootstrapAdmin, "ENGINE_BOOTSTRAP_ADMIN")
	setString(&config.Engine.QuorumPolicy, "ENGINE_QUORUM_POLICY")
	setString(&config.Engine.FeeRate, "ENGINE_FEE_RATE")
	setString(&config.Engine.ExpirySchedule, "ENGINE_EXPIRY_SCHEDULE")
	if v := os.Getenv("ENGINE_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 32); err == nil {
			config.Engine.FeeBps = uint32(bps)
		}
	}
	if v := os.Getenv("ENGINE_ENFORCE_EXPIRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Engine.EnforceExpiry = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Engine.BootstrapAdmin) == "" {
		errs = append(errs, errors.New("engine.bootstrap_admin is required"))
	}
	if _, err := certification.ParseQuorumPolicy(c.Engine.QuorumPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Engine.ResolveFeeBps(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.StableDecimals < 0 || c.Engine.StableDecimals > 18 {
		errs = append(errs, fmt.Errorf("engine.stable_decimals %d out of range", c.Engine.StableDecimals))
	}
	if c.Engine.ExpirySchedule != "" {
		if err := ledger.ValidateSchedule(c.Engine.ExpirySchedule); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Security.AuthMode {
	case AuthModeJWT:
		if c.Security.JWTSecret == "" {
			errs = append(errs, errors.New("security.jwt_secret is required in jwt auth mode"))
		}
	case AuthModeHeader:
	default:
		errs = append(errs, fmt.Errorf("unknown security.auth_mode %q", c.Security.AuthMode))
	}

	return errors.Join(errs...)
}

// ResolveFeeBps returns the swap fee in basis points. A fee_rate, when set,
// takes precedence over fee_bps.
func (e EngineConfig) ResolveFeeBps() (uint32, error) {
	bps := e.FeeBps
	if e.FeeRate != "" {
		var err error
		if bps, err = market.FeeBpsFromRate(e.FeeRate); err != nil {
			return 0, err
		}
	}
	if bps >= market.BasisPoints {
		return 0, fmt.Errorf("engine.fee_bps %d must be below %d", bps, market.BasisPoints)
	}
	return bps, nil
}

// JournalEnabled reports whether an event journal database is configured.
func (c *DatabaseConfig) JournalEnabled() bool {
	return c.Host != ""
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
