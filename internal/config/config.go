// Package config loads the file store configuration from flags, env,
// and an optional config file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	DataDir         string        `mapstructure:"data_dir"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	SigningSecret   string        `mapstructure:"signing_secret"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry"`

	Upload        UploadConfig        `mapstructure:"upload"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Registry      map[string]string   `mapstructure:"registry"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type UploadConfig struct {
	MaxFileSize    string   `mapstructure:"max_file_size"`
	AllowedTypes   []string `mapstructure:"allowed_types"`
	MaxStorageDays int      `mapstructure:"max_storage_days"`
	DefaultFolder  string   `mapstructure:"default_folder"`
}

type StorageConfig struct {
	// Backend names the active backend, or "auto" to prefer the
	// streaming store and fall back to the key-value store.
	Backend string            `mapstructure:"backend"`
	S3      map[string]string `mapstructure:"s3"`
	Redis   map[string]string `mapstructure:"redis"`
	Badger  map[string]string `mapstructure:"badger"`
}

type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	OrphanGrace time.Duration `mapstructure:"orphan_grace"`
	BatchSize   int           `mapstructure:"batch_size"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cardvault"
	}
	return filepath.Join(home, ".cardvault")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("public_base_url", "http://localhost:8080/files")
	v.SetDefault("signing_secret", "")
	v.SetDefault("signed_url_expiry", "1h")

	v.SetDefault("upload.max_file_size", "10MB")
	v.SetDefault("upload.allowed_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"text/plain", "text/markdown",
		"application/pdf", "application/json",
	})
	v.SetDefault("upload.max_storage_days", 30)
	v.SetDefault("upload.default_folder", "uploads")

	v.SetDefault("storage.backend", "auto")

	v.SetDefault("registry.path", filepath.Join(DefaultDataDir(), "registry.db"))

	v.SetDefault("sweep.interval", "1h")
	v.SetDefault("sweep.orphan_grace", "24h")
	v.SetDefault("sweep.batch_size", 500)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "filestore")
	v.SetDefault("observability.service_version", "dev")
}

// BindRootFlags binds persistent cobra flags to viper.
func BindRootFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.cardvault)")
	f.String("backend", "", "storage backend (auto, s3, redis, badger, memory)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("storage.backend", f.Lookup("backend"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// Load reads config from flags, env, and file, returning the merged Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("FILESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("filestore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cardvault")
		v.AddConfigPath("/etc/cardvault")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
