package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/assetguard/assetguard/internal/objectkey"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for assetguard
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// Public URL of the S3 endpoint (the local emulator in development)
	PublicAPIURL string `mapstructure:"public_api_url"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	Bucket      BucketConfig      `mapstructure:"bucket"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Presign     PresignConfig     `mapstructure:"presign"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	History     HistoryConfig     `mapstructure:"history"`
}

// BucketConfig describes the asset bucket the policy model applies to
type BucketConfig struct {
	Name     string `mapstructure:"name"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // empty = AWS default endpoint resolution

	// AppOrigin is the only origin allowed by the bucket CORS rule
	AppOrigin string `mapstructure:"app_origin"`

	// ObjectPrefix scopes the backend role policy to one tenant ("tenant-1"
	// or "tenant-1/*"); "*" covers the whole bucket
	ObjectPrefix string `mapstructure:"object_prefix"`

	// ImageExtensions are the key suffixes the app credential may change ACLs on
	ImageExtensions []string `mapstructure:"image_extensions"`

	CORSMaxAgeSeconds int `mapstructure:"cors_max_age_seconds"`
}

// CredentialsConfig holds the credential identities of the platform. The
// auditor pair is optional and only reads bucket configuration.
type CredentialsConfig struct {
	App     AccessKeyConfig `mapstructure:"app"`
	Backend AccessKeyConfig `mapstructure:"backend"`
	Auditor AccessKeyConfig `mapstructure:"auditor"`
}

// AccessKeyConfig is a static access key pair
type AccessKeyConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Configured reports whether both halves of the key pair are present
func (a AccessKeyConfig) Configured() bool {
	return a.AccessKey != "" && a.SecretKey != ""
}

// PresignConfig defines pre-signed URL issuing limits
type PresignConfig struct {
	DefaultExpirySeconds int `mapstructure:"default_expiry_seconds"`
	MaxExpirySeconds     int `mapstructure:"max_expiry_seconds"`
}

// StorageConfig defines the emulator storage backend
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// HistoryConfig defines where compliance check runs are recorded
type HistoryConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// maxPresignExpirySeconds is the SigV4 ceiling (7 days)
const maxPresignExpirySeconds = 604800

// Load loads configuration from various sources
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ASSETGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":9000")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("public_api_url", "http://localhost:9000")

	v.SetDefault("enable_tls", false)

	v.SetDefault("bucket.name", "notify-assets")
	v.SetDefault("bucket.region", "us-east-1")
	v.SetDefault("bucket.endpoint", "")
	v.SetDefault("bucket.app_origin", "http://localhost:3000")
	v.SetDefault("bucket.object_prefix", "*")
	v.SetDefault("bucket.image_extensions", append([]string(nil), objectkey.DefaultImageExtensions...))
	v.SetDefault("bucket.cors_max_age_seconds", 3000)

	// Credentials are empty until configured; keys are registered so env vars bind
	v.SetDefault("credentials.app.access_key", "")
	v.SetDefault("credentials.app.secret_key", "")
	v.SetDefault("credentials.backend.access_key", "")
	v.SetDefault("credentials.backend.secret_key", "")
	v.SetDefault("credentials.auditor.access_key", "")
	v.SetDefault("credentials.auditor.secret_key", "")

	v.SetDefault("presign.default_expiry_seconds", 900)
	v.SetDefault("presign.max_expiry_seconds", 3600)

	v.SetDefault("storage.root", "") // derived from data_dir

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.enable", true)
	v.SetDefault("history.path", "") // derived from data_dir
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":     "listen",
		"data-dir":   "data_dir",
		"log-level":  "log_level",
		"endpoint":   "bucket.endpoint",
		"bucket":     "bucket.name",
		"region":     "bucket.region",
		"app-origin": "bucket.app_origin",
		"cert-file":  "cert_file",
		"key-file":   "key_file",
		"enable-tls": "enable_tls",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or ASSETGUARD_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(cfg.DataDir, "objects")
	}
	if !filepath.IsAbs(cfg.Storage.Root) {
		if absRoot, err := filepath.Abs(cfg.Storage.Root); err == nil {
			cfg.Storage.Root = absRoot
		}
	}
	if _, err := os.Stat(cfg.Storage.Root); os.IsNotExist(err) {
		logrus.Debugf("Creating storage root: %s", cfg.Storage.Root)
		if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
			return fmt.Errorf("failed to create storage root: %w", err)
		}
	}

	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Bucket.Name == "" {
		return fmt.Errorf("bucket.name is required")
	}
	if cfg.Bucket.AppOrigin == "" {
		return fmt.Errorf("bucket.app_origin is required: CORS must be restricted to the application domain")
	}
	if cfg.Bucket.AppOrigin == "*" {
		return fmt.Errorf("bucket.app_origin cannot be a wildcard")
	}
	if err := validateObjectPrefix(cfg.Bucket.ObjectPrefix); err != nil {
		return err
	}
	if len(cfg.Bucket.ImageExtensions) == 0 {
		return fmt.Errorf("bucket.image_extensions must list at least one extension")
	}
	for i, ext := range cfg.Bucket.ImageExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Bucket.ImageExtensions[i] = ext
	}

	if cfg.Presign.DefaultExpirySeconds <= 0 {
		return fmt.Errorf("presign.default_expiry_seconds must be positive")
	}
	if cfg.Presign.MaxExpirySeconds <= 0 || cfg.Presign.MaxExpirySeconds > maxPresignExpirySeconds {
		return fmt.Errorf("presign.max_expiry_seconds must be between 1 and %d", maxPresignExpirySeconds)
	}
	if cfg.Presign.DefaultExpirySeconds > cfg.Presign.MaxExpirySeconds {
		return fmt.Errorf("presign.default_expiry_seconds (%d) exceeds presign.max_expiry_seconds (%d)",
			cfg.Presign.DefaultExpirySeconds, cfg.Presign.MaxExpirySeconds)
	}

	return nil
}

// RequireCredentials checks that both the app and backend key pairs are set.
// Commands that sign requests call it; rendering the policy does not need keys.
func (c *Config) RequireCredentials() error {
	if !c.Credentials.App.Configured() {
		return fmt.Errorf("credentials.app.access_key and credentials.app.secret_key are required")
	}
	if !c.Credentials.Backend.Configured() {
		return fmt.Errorf("credentials.backend.access_key and credentials.backend.secret_key are required")
	}
	if c.Credentials.App.AccessKey == c.Credentials.Backend.AccessKey {
		return fmt.Errorf("app and backend credentials must use different access keys")
	}
	if auditor := c.Credentials.Auditor; auditor.Configured() {
		if auditor.AccessKey == c.Credentials.App.AccessKey || auditor.AccessKey == c.Credentials.Backend.AccessKey {
			return fmt.Errorf("auditor credentials must use their own access key")
		}
	}
	return nil
}

// validateObjectPrefix accepts "*", "" or a single tenant id with an
// optional "/*" suffix. Keys are always {tenantId}/{objectId}, so deeper
// prefixes would match nothing.
func validateObjectPrefix(prefix string) error {
	if prefix == "" || prefix == "*" {
		return nil
	}
	tenant := TenantScope(prefix)
	if err := objectkey.ValidateTenantID(tenant); err != nil || strings.Contains(tenant, "*") {
		return fmt.Errorf("bucket.object_prefix %q must be \"*\" or a single tenant id", prefix)
	}
	return nil
}

// TenantScope returns the tenant id an object prefix is scoped to, or ""
// when it covers the whole bucket
func TenantScope(prefix string) string {
	tenant := strings.TrimSuffix(strings.TrimSuffix(prefix, "*"), "/")
	if tenant == "" || tenant == "*" {
		return ""
	}
	return tenant
}
