package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":9000", v.GetString("listen"))
	assert.Equal(t, "info", v.GetString("log_level"))
	assert.Equal(t, "http://localhost:9000", v.GetString("public_api_url"))
	assert.False(t, v.GetBool("enable_tls"))
}

func TestSetDefaults_Bucket(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "notify-assets", v.GetString("bucket.name"))
	assert.Equal(t, "us-east-1", v.GetString("bucket.region"))
	assert.Equal(t, "*", v.GetString("bucket.object_prefix"))
	assert.Equal(t, 3000, v.GetInt("bucket.cors_max_age_seconds"))
	assert.Equal(t, []string{".png", ".jpg", ".jpeg", ".gif"}, v.GetStringSlice("bucket.image_extensions"))
}

func TestSetDefaults_Presign(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 900, v.GetInt("presign.default_expiry_seconds"))
	assert.Equal(t, 3600, v.GetInt("presign.max_expiry_seconds"))
}

func TestSetDefaults_MetricsAndHistory(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.True(t, v.GetBool("metrics.enable"))
	assert.Equal(t, "/metrics", v.GetString("metrics.path"))
	assert.True(t, v.GetBool("history.enable"))
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		DataDir: t.TempDir(),
		Bucket: BucketConfig{
			Name:            "notify-assets",
			Region:          "us-east-1",
			AppOrigin:       "https://app.example.com",
			ObjectPrefix:    "*",
			ImageExtensions: []string{"PNG", ".jpg"},
		},
		Presign: PresignConfig{DefaultExpirySeconds: 900, MaxExpirySeconds: 3600},
	}
}

func TestValidate_DerivesPaths(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, validate(cfg))

	assert.Equal(t, filepath.Join(cfg.DataDir, "objects"), cfg.Storage.Root)
	assert.Equal(t, filepath.Join(cfg.DataDir, "history.db"), cfg.History.Path)

	info, err := os.Stat(cfg.Storage.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidate_NormalizesExtensions(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, validate(cfg))
	assert.Equal(t, []string{".png", ".jpg"}, cfg.Bucket.ImageExtensions)
}

func TestValidate_ObjectPrefix(t *testing.T) {
	for _, prefix := range []string{"*", "", "tenant-1", "tenant-1/", "tenant-1/*"} {
		cfg := validConfig(t)
		cfg.Bucket.ObjectPrefix = prefix
		assert.NoError(t, validate(cfg), prefix)
	}
}

func TestTenantScope(t *testing.T) {
	assert.Equal(t, "", TenantScope("*"))
	assert.Equal(t, "", TenantScope(""))
	assert.Equal(t, "tenant-1", TenantScope("tenant-1"))
	assert.Equal(t, "tenant-1", TenantScope("tenant-1/*"))
	assert.Equal(t, "tenant-1", TenantScope("tenant-1/"))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
		{"missing bucket", func(c *Config) { c.Bucket.Name = "" }, "bucket.name is required"},
		{"missing origin", func(c *Config) { c.Bucket.AppOrigin = "" }, "bucket.app_origin is required"},
		{"wildcard origin", func(c *Config) { c.Bucket.AppOrigin = "*" }, "cannot be a wildcard"},
		{"no extensions", func(c *Config) { c.Bucket.ImageExtensions = nil }, "image_extensions"},
		{"zero default expiry", func(c *Config) { c.Presign.DefaultExpirySeconds = 0 }, "default_expiry_seconds must be positive"},
		{"max expiry over 7 days", func(c *Config) { c.Presign.MaxExpirySeconds = 604801 }, "max_expiry_seconds must be between"},
		{"default above max", func(c *Config) { c.Presign.DefaultExpirySeconds = 7200 }, "exceeds"},
		{"tls without cert", func(c *Config) { c.EnableTLS = true }, "cert-file or key-file"},
		{"nested object prefix", func(c *Config) { c.Bucket.ObjectPrefix = "tenants/*" }, "single tenant id"},
		{"wildcard tenant prefix", func(c *Config) { c.Bucket.ObjectPrefix = "ten*ant" }, "single tenant id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := validConfig(t)
	assert.Error(t, cfg.RequireCredentials())

	cfg.Credentials.App = AccessKeyConfig{AccessKey: "APPKEY", SecretKey: "appsecret"}
	assert.Error(t, cfg.RequireCredentials())

	cfg.Credentials.Backend = AccessKeyConfig{AccessKey: "APPKEY", SecretKey: "backendsecret"}
	err := cfg.RequireCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different access keys")

	cfg.Credentials.Backend.AccessKey = "BACKENDKEY"
	assert.NoError(t, cfg.RequireCredentials())

	cfg.Credentials.Auditor = AccessKeyConfig{AccessKey: "BACKENDKEY", SecretKey: "auditorsecret"}
	assert.Error(t, cfg.RequireCredentials())

	cfg.Credentials.Auditor.AccessKey = "AUDITORKEY"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestLoad_FlagsAndEnv(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ASSETGUARD_BUCKET_APP_ORIGIN", "https://notify.example.com")
	t.Setenv("ASSETGUARD_CREDENTIALS_APP_ACCESS_KEY", "APPKEY")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("bucket", "", "")
	require.NoError(t, cmd.Flags().Set("data-dir", dataDir))
	require.NoError(t, cmd.Flags().Set("bucket", "tenant-assets"))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "tenant-assets", cfg.Bucket.Name)
	assert.Equal(t, "https://notify.example.com", cfg.Bucket.AppOrigin)
	assert.Equal(t, 3000, cfg.Bucket.CORSMaxAgeSeconds)
	assert.Equal(t, "APPKEY", cfg.Credentials.App.AccessKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assetguard.yaml")
	content := `
data_dir: ` + dir + `
bucket:
  name: file-assets
  app_origin: https://file.example.com
presign:
  default_expiry_seconds: 60
  max_expiry_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "file-assets", cfg.Bucket.Name)
	assert.Equal(t, 60, cfg.Presign.DefaultExpirySeconds)
	assert.Equal(t, 120, cfg.Presign.MaxExpirySeconds)
}
