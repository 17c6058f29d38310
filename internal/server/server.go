package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/api"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/metadata"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/middleware"
	"github.com/assetguard/assetguard/internal/policy"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/assetguard/assetguard/internal/storage"
	"github.com/assetguard/assetguard/pkg/s3compat"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const serverHeader = "AssetGuard"

// Server is the local S3 emulator for the asset bucket
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	storageBackend storage.Backend
	metadataStore  *metadata.BadgerStore
	buckets        *bucket.Registry
	aclManager     acl.Manager
	metricsManager metrics.Manager
	systemMetrics  *metrics.SystemMetricsTracker
	settings       bucket.Settings
	accessLog      io.WriteCloser
	startTime      time.Time
}

// New creates the emulator and registers the asset bucket. Registering a
// data directory whose bucket was created with different settings fails.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	storageBackend, err := storage.NewFilesystemBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	metadataStore, err := metadata.NewBadgerStore(metadata.BadgerOptions{
		DataDir:           cfg.DataDir,
		SyncWrites:        false,
		CompactionEnabled: true,
		Logger:            logrus.StandardLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	settings := bucket.AssetBucket(bucket.Options{
		Name:          cfg.Bucket.Name,
		Region:        cfg.Bucket.Region,
		AppOrigin:     cfg.Bucket.AppOrigin,
		MaxAgeSeconds: cfg.Bucket.CORSMaxAgeSeconds,
	})

	buckets := bucket.NewRegistry(metadataStore)
	aclManager := acl.NewManager(metadataStore, settings.Owner)
	if err := registerBucket(context.Background(), buckets, aclManager, settings); err != nil {
		metadataStore.Close()
		return nil, err
	}

	s := &Server{
		config:         cfg,
		storageBackend: storageBackend,
		metadataStore:  metadataStore,
		buckets:        buckets,
		aclManager:     aclManager,
		metricsManager: metrics.NewManager(cfg.Metrics),
		systemMetrics:  metrics.NewSystemMetrics(cfg.DataDir),
		settings:       settings,
		startTime:      time.Now(),
	}

	handler, err := s.setupRoutes()
	if err != nil {
		metadataStore.Close()
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func registerBucket(ctx context.Context, buckets *bucket.Registry, acls acl.Manager, settings bucket.Settings) error {
	if err := buckets.Ensure(ctx, settings); err != nil {
		return fmt.Errorf("failed to register bucket %s: %w", settings.Name, err)
	}
	bucketACL, err := settings.BucketACL()
	if err != nil {
		return fmt.Errorf("failed to build bucket ACL: %w", err)
	}
	return acls.SetBucketACL(ctx, settings.Name, bucketACL)
}

// Handler returns the HTTP handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Settings returns the registered asset bucket settings
func (s *Server) Settings() bucket.Settings {
	return s.settings
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":  s.config.Listen,
		"bucket":   s.settings.Name,
		"region":   s.settings.Region,
		"data_dir": s.config.DataDir,
	}).Info("Starting assetguard emulator")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("API server error")
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.Close()
		return err
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down emulator")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown API server")
	}

	s.Close()
	logrus.Info("Emulator stopped")
	return nil
}

// Close releases the stores without stopping the listener. Start calls it
// on shutdown; tests that only use Handler call it directly.
func (s *Server) Close() {
	if err := s.metadataStore.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close metadata store")
	}
	if err := s.storageBackend.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close storage backend")
	}
	if s.accessLog != nil {
		s.accessLog.Close()
	}
}

func (s *Server) setupRoutes() (http.Handler, error) {
	creds := []sigv4.Credential{
		{AccessKey: s.config.Credentials.App.AccessKey, SecretKey: s.config.Credentials.App.SecretKey, Principal: sigv4.PrincipalApp},
		{AccessKey: s.config.Credentials.Backend.AccessKey, SecretKey: s.config.Credentials.Backend.SecretKey, Principal: sigv4.PrincipalBackend},
	}
	if auditor := s.config.Credentials.Auditor; auditor.Configured() {
		creds = append(creds, sigv4.Credential{AccessKey: auditor.AccessKey, SecretKey: auditor.SecretKey, Principal: sigv4.PrincipalAuditor})
	}
	registry, err := sigv4.NewRegistry(creds...)
	if err != nil {
		return nil, err
	}

	s3Handler := s3compat.NewHandler(s.buckets, s.aclManager, s.storageBackend, sigv4.NewVerifier(registry, s.settings.Region))
	s3Handler.SetLedger(presigned.NewLedger(s.metadataStore))
	s3Handler.SetMetricsManager(s.metricsManager)
	s3Handler.SetPolicies(sigv4.PrincipalApp, policy.AppCredentialPolicy(s.settings.Name, s.config.Bucket.ImageExtensions))
	s3Handler.SetPolicies(sigv4.PrincipalBackend, policy.BackendRolePolicy(s.settings.Name, s.config.Bucket.ObjectPrefix))
	s3Handler.SetPolicies(sigv4.PrincipalAuditor, policy.AuditorPolicy(s.settings.Name))

	metricsPath := ""
	if s.config.Metrics.Enable {
		metricsPath = s.config.Metrics.Path
	}
	apiHandler := api.NewHandler(s3Handler, s.metricsManager, s.systemMetrics, metricsPath, s.metadataStore)

	router := mux.NewRouter()
	router.Use(middleware.S3Headers(serverHeader))
	router.Use(middleware.Logging())
	router.Use(middleware.CORS(s3Handler.CORSRules))
	router.Use(s.metricsManager.Middleware())
	router.Use(requestCounter(s.systemMetrics))

	apiHandler.RegisterRoutes(router)

	var handler http.Handler = router
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		s.accessLog = logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
		handler = handlers.CombinedLoggingHandler(s.accessLog, handler)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)(handler), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requestCounter feeds the request totals reported on /health
func requestCounter(sm *metrics.SystemMetricsTracker) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			sm.RecordRequest(rec.status >= http.StatusInternalServerError)
		})
	}
}
