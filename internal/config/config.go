package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// DatabaseConfig selects the document store. Driver is "mongo" or "memory".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URI    string `mapstructure:"uri"`
	Name   string `mapstructure:"name"`
}

// S3Config points at the bucket the archive reads transfer sources from.
// Staging uploads are disabled when BucketName is empty.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	// TransferLocation is prefixed to staged object keys when building a
	// document filePath, e.g. the archive's transfer source location UUID.
	TransferLocation string        `mapstructure:"transfer_location"`
	UploadExpiry     time.Duration `mapstructure:"upload_expiry"`
}

// JWTConfig defines JWT specific configuration. Tokens are issued elsewhere;
// only the verification secret is needed here.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// ArchiveConfig describes how to reach the preservation archive.
type ArchiveConfig struct {
	DashboardURL      string        `mapstructure:"dashboard_url"`
	DashboardUsername string        `mapstructure:"dashboard_username"`
	DashboardAPIKey   string        `mapstructure:"dashboard_api_key"`
	StorageURL        string        `mapstructure:"storage_url"`
	StorageUsername   string        `mapstructure:"storage_username"`
	StorageAPIKey     string        `mapstructure:"storage_api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	TransferType      string        `mapstructure:"transfer_type"`
	ProcessingConfig  string        `mapstructure:"processing_config"`

	// Downloads larger than this are refused.
	ArtifactMaxBytes int64 `mapstructure:"artifact_max_bytes"`

	// Preserved packages never change, so downloads may be kept in memory.
	// A size of 0 disables the cache. Packages above ArtifactCacheMaxBytes
	// are served but not cached.
	ArtifactCacheSize     int           `mapstructure:"artifact_cache_size"`
	ArtifactCacheTTL      time.Duration `mapstructure:"artifact_cache_ttl"`
	ArtifactCacheMaxBytes int64         `mapstructure:"artifact_cache_max_bytes"`
}

// MonitorConfig bounds the status polling of a single transfer.
// Zero MaxAttempts or MaxDuration means no limit on that axis.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or text
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS, archive.dashboard_url -> ARCHIVE_DASHBOARD_URL
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Running from env vars only is fine.
		err = nil
	} else if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")

	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "preservation")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.upload_expiry", "15m")

	// AutomaticEnv only resolves keys Viper already knows about, so secrets and
	// URLs without a sensible default are registered empty.
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.transfer_location", "")
	v.SetDefault("jwt.secret", "")

	v.SetDefault("archive.dashboard_url", "http://localhost:62080")
	v.SetDefault("archive.storage_url", "http://localhost:62081")
	v.SetDefault("archive.dashboard_username", "")
	v.SetDefault("archive.dashboard_api_key", "")
	v.SetDefault("archive.storage_username", "")
	v.SetDefault("archive.storage_api_key", "")
	v.SetDefault("archive.timeout", "30s")
	v.SetDefault("archive.transfer_type", "standard")
	v.SetDefault("archive.processing_config", "default")
	v.SetDefault("archive.artifact_cache_size", 32)
	v.SetDefault("archive.artifact_cache_ttl", "10m")
	v.SetDefault("archive.artifact_cache_max_bytes", 16<<20)
	v.SetDefault("archive.artifact_max_bytes", 1<<30)

	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.max_attempts", 0)
	v.SetDefault("monitor.max_duration", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// SetupLogger builds the process logger from the log section and installs it
// as the slog default.
func SetupLogger(cfg LogConfig) *slog.Logger {
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
