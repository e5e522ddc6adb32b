package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Primary store drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// MongoDBConfig holds connection settings for the primary store.
type MongoDBConfig struct {
	URI         string        `mapstructure:"uri"`
	Database    string        `mapstructure:"database"`
	MaxPoolSize uint64        `mapstructure:"max_pool_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BackupConfig selects and tunes the backup store. Mongo backups live in a
// second database on the primary cluster unless URI is set.
type BackupConfig struct {
	Driver          string        `mapstructure:"driver"`
	URI             string        `mapstructure:"uri"`
	Database        string        `mapstructure:"database"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig enables the shared login rate limiter.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LoginRateLimit bounds login attempts per client IP.
type LoginRateLimit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Burst  int           `mapstructure:"burst"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port                 int      `mapstructure:"port"`
	TLS                  bool     `mapstructure:"tls"`
	CertFile             string   `mapstructure:"cert_file"`
	KeyFile              string   `mapstructure:"key_file"`
	AllowedOrigins       []string `mapstructure:"allowed_origins"`
	TrustProxy           bool     `mapstructure:"trust_proxy"`
	TrustedProxyNetworks []string `mapstructure:"trusted_proxy_networks"`
	// UploadBaseURL prefixes attachment storage paths when building URLs.
	UploadBaseURL   string `mapstructure:"upload_base_url"`
	DefaultPageSize int    `mapstructure:"default_page_size"`
	RateLimit       struct {
		Login LoginRateLimit `mapstructure:"login"`
		Redis RedisConfig    `mapstructure:"redis"`
	} `mapstructure:"rate_limit"`
}

// AuthConfig holds token settings. JWTSecret is filled from the secret provider.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTExpiry  time.Duration `mapstructure:"jwt_expiry"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// EncryptionConfig holds the field codec key material. Key is filled from the
// secret provider when empty.
type EncryptionConfig struct {
	Key       string `mapstructure:"key"`
	CacheSize int    `mapstructure:"cache_size"`
}

// IntrusionConfig tunes the failed login response.
type IntrusionConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// AccessConfig tunes working-time evaluation.
type AccessConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SecretsConfig selects where secrets are read from.
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Vault    struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		SecretID  string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`
}

// Config holds all configuration for the tablevault service
type Config struct {
	Primary struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"primary"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Backup     BackupConfig     `mapstructure:"backup"`
	API        APIConfig        `mapstructure:"api"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Intrusion  IntrusionConfig  `mapstructure:"intrusion"`
	Access     AccessConfig     `mapstructure:"access"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Logging    struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Seed struct {
		File string `mapstructure:"file"`
	} `mapstructure:"seed"`
}

func setDefaults() {
	viper.SetDefault("primary.driver", DriverMongo)

	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "tablevault")
	viper.SetDefault("mongodb.max_pool_size", 10)
	viper.SetDefault("mongodb.timeout", 10*time.Second)

	viper.SetDefault("backup.driver", DriverSQLite)
	viper.SetDefault("backup.uri", "")
	viper.SetDefault("backup.database", "tablevault_backup")
	viper.SetDefault("backup.sqlite_path", "./data/backup.db")
	viper.SetDefault("backup.workers", 2)
	viper.SetDefault("backup.queue_size", 1024)
	viper.SetDefault("backup.max_retries", 3)
	viper.SetDefault("backup.initial_interval", 100*time.Millisecond)
	viper.SetDefault("backup.write_timeout", 5*time.Second)

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.trusted_proxy_networks", []string{})
	viper.SetDefault("api.upload_base_url", "/uploads")
	viper.SetDefault("api.default_page_size", 20)
	viper.SetDefault("api.rate_limit.login.limit", 10)
	viper.SetDefault("api.rate_limit.login.window", 1*time.Minute)
	viper.SetDefault("api.rate_limit.login.burst", 5)
	viper.SetDefault("api.rate_limit.redis.enabled", false)
	viper.SetDefault("api.rate_limit.redis.addr", "localhost:6379")
	viper.SetDefault("api.rate_limit.redis.password", "")
	viper.SetDefault("api.rate_limit.redis.db", 0)
	viper.SetDefault("api.rate_limit.redis.pool_size", 10)

	viper.SetDefault("auth.jwt_expiry", 12*time.Hour)
	viper.SetDefault("auth.bcrypt_cost", 12)

	viper.SetDefault("encryption.cache_size", 4096)
	viper.SetDefault("intrusion.threshold", 3)
	viper.SetDefault("access.timezone", "UTC")

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.path", "secret/tablevault")
	viper.SetDefault("secrets.aws.secret_id", "tablevault/secrets")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("seed.file", "")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("TABLEVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig loads configuration from file and environment variables.
// Secrets are not resolved here; see LoadSecrets.
func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if config.Backup.SQLitePath != "" {
		config.Backup.SQLitePath = filepath.Clean(config.Backup.SQLitePath)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Location returns the working-time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Access.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Access.Timezone)
}

func validateConfig(config *Config) error {
	switch config.Primary.Driver {
	case DriverMongo:
		if err := validateMongoURI(config.MongoDB.URI); err != nil {
			return err
		}
		if config.MongoDB.Database == "" {
			return fmt.Errorf("MongoDB database cannot be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported primary driver: %q", config.Primary.Driver)
	}

	switch config.Backup.Driver {
	case DriverMongo:
		if config.Backup.URI != "" {
			if err := validateMongoURI(config.Backup.URI); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
		} else if config.Primary.Driver != DriverMongo {
			return fmt.Errorf("mongo backup requires backup.uri when the primary store is not mongo")
		}
		if config.Backup.Database == "" {
			return fmt.Errorf("backup database cannot be empty")
		}
		if config.Primary.Driver == DriverMongo && config.Backup.URI == "" && config.Backup.Database == config.MongoDB.Database {
			return fmt.Errorf("backup database must differ from the primary database")
		}
	case DriverSQLite:
		if config.Backup.SQLitePath == "" {
			return fmt.Errorf("backup sqlite_path cannot be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported backup driver: %q", config.Backup.Driver)
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}
	for _, n := range config.API.TrustedProxyNetworks {
		if !isValidIPOrCIDR(n) {
			return fmt.Errorf("invalid trusted proxy network: %q", n)
		}
	}
	if config.API.DefaultPageSize < 1 {
		return fmt.Errorf("default_page_size must be positive")
	}
	if config.API.RateLimit.Login.Limit < 1 || config.API.RateLimit.Login.Window <= 0 {
		return fmt.Errorf("login rate limit must have a positive limit and window")
	}

	if config.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("jwt_expiry must be positive")
	}
	if config.Auth.BcryptCost < 4 || config.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost must be between 4 and 31")
	}
	if config.Intrusion.Threshold < 1 {
		return fmt.Errorf("intrusion threshold must be at least 1")
	}
	if _, err := config.Location(); err != nil {
		return fmt.Errorf("invalid access timezone: %w", err)
	}

	switch config.Secrets.Provider {
	case "env", "vault", "aws":
	default:
		return fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}
	return nil
}

func validateMongoURI(uri string) error {
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid MongoDB URI: missing host")
	}
	return nil
}

func isValidIPOrCIDR(ipStr string) bool {
	if strings.Contains(ipStr, "/") {
		_, _, err := net.ParseCIDR(ipStr)
		return err == nil
	}
	return net.ParseIP(ipStr) != nil
}
