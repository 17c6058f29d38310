// Package servertest runs the emulator on a loopback listener for tests
package servertest

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/s3client"
	"github.com/assetguard/assetguard/internal/server"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

// Fixed test identities and bucket
const (
	Bucket    = "notify-assets"
	Region    = "us-east-1"
	AppOrigin = "https://app.example.com"
)

var (
	App     = config.AccessKeyConfig{AccessKey: "AKIATESTAPP", SecretKey: "app-secret"}
	Backend = config.AccessKeyConfig{AccessKey: "AKIATESTBACKEND", SecretKey: "backend-secret"}
	Auditor = config.AccessKeyConfig{AccessKey: "AKIATESTAUDITOR", SecretKey: "auditor-secret"}
)

// Emulator is a running test server
type Emulator struct {
	Server *server.Server
	HTTP   *httptest.Server
	Config *config.Config
}

// URL returns the endpoint base URL
func (e *Emulator) URL() string {
	return e.HTTP.URL
}

// Client returns an SDK client signing as the given key pair
func (e *Emulator) Client(key config.AccessKeyConfig) *s3.Client {
	return s3client.New(s3client.Options{
		Endpoint:    e.HTTP.URL,
		Region:      Region,
		Credentials: credentials.NewStaticCredentialsProvider(key.AccessKey, key.SecretKey, ""),
	})
}

// Credential returns the verifier form of a key pair
func Credential(key config.AccessKeyConfig, principal string) sigv4.Credential {
	return sigv4.Credential{AccessKey: key.AccessKey, SecretKey: key.SecretKey, Principal: principal}
}

// Config returns a complete configuration rooted in a temp dir
func Config(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Listen:   "127.0.0.1:0",
		DataDir:  dir,
		LogLevel: "error",
		Bucket: config.BucketConfig{
			Name:              Bucket,
			Region:            Region,
			AppOrigin:         AppOrigin,
			ObjectPrefix:      "*",
			ImageExtensions:   []string{".png", ".jpg", ".jpeg", ".gif"},
			CORSMaxAgeSeconds: 3000,
		},
		Credentials: config.CredentialsConfig{App: App, Backend: Backend, Auditor: Auditor},
		Presign:     config.PresignConfig{DefaultExpirySeconds: 900, MaxExpirySeconds: 3600},
		Storage:     config.StorageConfig{Root: filepath.Join(dir, "objects")},
		Metrics:     config.MetricsConfig{Enable: true, Path: "/metrics"},
		History:     config.HistoryConfig{Enable: true, Path: filepath.Join(dir, "history.db")},
	}
}

// Start runs an emulator until the test ends. mutate may adjust the
// configuration first.
func Start(t testing.TB, mutate ...func(*config.Config)) *Emulator {
	t.Helper()
	cfg := Config(t)
	for _, fn := range mutate {
		fn(cfg)
	}

	srv, err := server.New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	cfg.PublicAPIURL = ts.URL
	cfg.Bucket.Endpoint = ts.URL

	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &Emulator{Server: srv, HTTP: ts, Config: cfg}
}
