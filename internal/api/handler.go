package api

import (
	"encoding/json"
	"net/http"

	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/pkg/s3compat"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const serviceName = "assetguard"

// ReadinessChecker reports whether a component can serve requests
type ReadinessChecker interface {
	IsReady() bool
}

// Handler wires the S3 handlers and the service endpoints onto a router
type Handler struct {
	s3Handler      *s3compat.Handler
	metricsManager metrics.Manager
	systemMetrics  *metrics.SystemMetricsTracker
	components     []ReadinessChecker
	metricsPath    string
}

// NewHandler creates a new API handler. metricsPath may be empty to skip
// exposing the Prometheus endpoint.
func NewHandler(
	s3Handler *s3compat.Handler,
	metricsManager metrics.Manager,
	systemMetrics *metrics.SystemMetricsTracker,
	metricsPath string,
	components ...ReadinessChecker,
) *Handler {
	return &Handler{
		s3Handler:      s3Handler,
		metricsManager: metricsManager,
		systemMetrics:  systemMetrics,
		components:     components,
		metricsPath:    metricsPath,
	}
}

// RegisterRoutes registers the service endpoints and the path-style S3 routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Service endpoints come first so they never resolve as bucket names
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/ready", h.handleReady).Methods("GET")
	if h.metricsPath != "" {
		router.Handle(h.metricsPath, h.metricsManager.Handler()).Methods("GET")
	}

	bucketRouter := router.PathPrefix("/{bucket}").Subrouter()

	// Register both "" and "/" to handle trailing slash. Query-specific
	// routes go before the plain ones since the first match wins.
	for _, path := range []string{"", "/"} {
		bucketRouter.HandleFunc(path, h.s3Handler.Preflight).Methods("OPTIONS")

		bucketRouter.HandleFunc(path, h.s3Handler.GetBucketLocation).Methods("GET").Queries("location", "")
		bucketRouter.HandleFunc(path, h.s3Handler.GetBucketVersioning).Methods("GET").Queries("versioning", "")
		bucketRouter.HandleFunc(path, h.s3Handler.ListObjectVersions).Methods("GET").Queries("versions", "")
		bucketRouter.HandleFunc(path, h.s3Handler.GetBucketCORS).Methods("GET").Queries("cors", "")
		bucketRouter.HandleFunc(path, h.s3Handler.GetBucketACL).Methods("GET").Queries("acl", "")
		bucketRouter.HandleFunc(path, h.s3Handler.GetBucketOwnershipControls).Methods("GET").Queries("ownershipControls", "")
		bucketRouter.HandleFunc(path, h.s3Handler.GetPublicAccessBlock).Methods("GET").Queries("publicAccessBlock", "")

		bucketRouter.HandleFunc(path, h.s3Handler.HeadBucket).Methods("HEAD")
		bucketRouter.HandleFunc(path, h.s3Handler.ListObjects).Methods("GET")
	}

	objectRouter := bucketRouter.PathPrefix("/{object:.+}").Subrouter()

	objectRouter.HandleFunc("", h.s3Handler.Preflight).Methods("OPTIONS")
	objectRouter.HandleFunc("", h.s3Handler.GetObjectACL).Methods("GET").Queries("acl", "")
	objectRouter.HandleFunc("", h.s3Handler.PutObjectACL).Methods("PUT").Queries("acl", "")

	objectRouter.HandleFunc("", h.s3Handler.HeadObject).Methods("HEAD")
	objectRouter.HandleFunc("", h.s3Handler.GetObject).Methods("GET")
	objectRouter.HandleFunc("", h.s3Handler.PutObject).Methods("PUT")
	objectRouter.HandleFunc("", h.s3Handler.DeleteObject).Methods("DELETE")
}

type healthResponse struct {
	Status        string                `json:"status"`
	Service       string                `json:"service"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Disk          *metrics.DiskStats    `json:"disk,omitempty"`
	Requests      *metrics.RequestStats `json:"requests,omitempty"`
}

// Health check handlers
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Service: serviceName}
	if h.systemMetrics != nil {
		resp.UptimeSeconds = h.systemMetrics.GetUptime()
		if disk, err := h.systemMetrics.GetDiskUsage(); err == nil {
			resp.Disk = disk
		} else {
			logrus.WithError(err).Debug("Disk usage unavailable")
		}
		stats := h.systemMetrics.GetRequestStats()
		resp.Requests = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.components {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": serviceName})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}
