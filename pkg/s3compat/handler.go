package s3compat

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/middleware"
	"github.com/assetguard/assetguard/internal/policy"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/assetguard/assetguard/internal/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// getObjectKey extracts object key from mux vars (already decoded by Gorilla Mux)
func getObjectKey(r *http.Request) string {
	return mux.Vars(r)["object"]
}

func getBucketName(r *http.Request) string {
	return mux.Vars(r)["bucket"]
}

// Handler implements the S3 subset served for the asset bucket
type Handler struct {
	buckets  *bucket.Registry
	acls     acl.Manager
	storage  storage.Backend
	verifier *sigv4.Verifier
	ledger   *presigned.Ledger
	policies map[string][]*policy.Document
	metrics  metrics.Manager
}

// NewHandler creates a new S3 compatibility handler. Without a ledger,
// pre-signed URLs are not single-use.
func NewHandler(buckets *bucket.Registry, acls acl.Manager, backend storage.Backend, verifier *sigv4.Verifier) *Handler {
	return &Handler{
		buckets:  buckets,
		acls:     acls,
		storage:  backend,
		verifier: verifier,
		policies: make(map[string][]*policy.Document),
		metrics:  metrics.NewManager(config.MetricsConfig{}),
	}
}

// SetLedger enables single-use enforcement for pre-signed writes
func (h *Handler) SetLedger(l *presigned.Ledger) {
	h.ledger = l
}

// SetPolicies attaches identity policies to a principal
func (h *Handler) SetPolicies(principal string, docs ...*policy.Document) {
	h.policies[principal] = docs
}

// SetMetricsManager sets the metrics sink for access decisions
func (h *Handler) SetMetricsManager(m metrics.Manager) {
	if m != nil {
		h.metrics = m
	}
}

// CORSRules returns the CORS rules of the request's bucket. It backs the
// CORS middleware, so an unknown bucket just yields nil.
func (h *Handler) CORSRules(r *http.Request) *bucket.CORSConfig {
	name := getBucketName(r)
	if name == "" {
		return nil
	}
	s, err := h.buckets.Get(r.Context(), name)
	if err != nil {
		return nil
	}
	return &s.CORS
}

// S3 XML response structures
type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type ListBucketV2Result struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Xmlns                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	StartAfter            string         `xml:"StartAfter,omitempty"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	Contents              []ObjectInfo   `xml:"Contents"`
	CommonPrefixes        []CommonPrefix `xml:"CommonPrefixes"`
}

type ObjectInfo struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
	Owner        *Owner `xml:"Owner,omitempty"`
}

type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// Error is the S3 XML error body
type Error struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	Key        string   `xml:"Key,omitempty"`        // For object errors (NoSuchKey, etc.)
	BucketName string   `xml:"BucketName,omitempty"` // For bucket errors (NoSuchBucket, etc.)
	Resource   string   `xml:"Resource,omitempty"`   // For other errors
	RequestId  string   `xml:"RequestId"`
	HostId     string   `xml:"HostId"`
}

// S3 error codes
const (
	ErrCodeAccessDenied                  = "AccessDenied"
	ErrCodeAccessForbidden               = "AccessForbidden"
	ErrCodeACLNotSupported               = "AccessControlListNotSupported"
	ErrCodeAuthHeaderMalformed           = "AuthorizationHeaderMalformed"
	ErrCodeAuthQueryParamsError          = "AuthorizationQueryParametersError"
	ErrCodeBadDigest                     = "BadDigest"
	ErrCodeContentSHA256Mismatch         = "XAmzContentSHA256Mismatch"
	ErrCodeIncompleteBody                = "IncompleteBody"
	ErrCodeInternalError                 = "InternalError"
	ErrCodeInvalidAccessKeyID            = "InvalidAccessKeyId"
	ErrCodeInvalidArgument               = "InvalidArgument"
	ErrCodeInvalidRequest                = "InvalidRequest"
	ErrCodeMalformedACL                  = "MalformedACLError"
	ErrCodeNoSuchBucket                  = "NoSuchBucket"
	ErrCodeNoSuchCORSConfiguration       = "NoSuchCORSConfiguration"
	ErrCodeNoSuchKey                     = "NoSuchKey"
	ErrCodeNotImplemented                = "NotImplemented"
	ErrCodeRequestTimeTooSkewed          = "RequestTimeTooSkewed"
	ErrCodeSignatureDoesNotMatch         = "SignatureDoesNotMatch"
	ErrCodeNoSuchOwnershipControls       = "OwnershipControlsNotFoundError"
	ErrCodeNoSuchPublicAccessBlockConfig = "NoSuchPublicAccessBlockConfiguration"
)

func statusForCode(code string) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidArgument, ErrCodeInvalidRequest, ErrCodeMalformedACL, ErrCodeACLNotSupported,
		ErrCodeAuthHeaderMalformed, ErrCodeAuthQueryParamsError, ErrCodeContentSHA256Mismatch,
		ErrCodeBadDigest, ErrCodeIncompleteBody, "MalformedXML":
		return http.StatusBadRequest
	// 403 Forbidden
	case ErrCodeAccessDenied, ErrCodeAccessForbidden, ErrCodeInvalidAccessKeyID,
		ErrCodeSignatureDoesNotMatch, ErrCodeRequestTimeTooSkewed:
		return http.StatusForbidden
	// 404 Not Found
	case ErrCodeNoSuchBucket, ErrCodeNoSuchKey, ErrCodeNoSuchCORSConfiguration,
		ErrCodeNoSuchOwnershipControls, ErrCodeNoSuchPublicAccessBlockConfig:
		return http.StatusNotFound
	// 405 Method Not Allowed
	case "MethodNotAllowed":
		return http.StatusMethodNotAllowed
	// 501 Not Implemented
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, code, message, resource string, r *http.Request) {
	statusCode := statusForCode(code)

	errorResponse := Error{
		Code:      code,
		Message:   message,
		RequestId: middleware.RequestID(r.Context()),
		HostId:    w.Header().Get("X-Amz-Id-2"),
	}
	switch code {
	case ErrCodeNoSuchKey:
		errorResponse.Key = resource
	case ErrCodeNoSuchBucket:
		errorResponse.BucketName = resource
	default:
		errorResponse.Resource = resource
	}

	if statusCode >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"code":       code,
			"resource":   resource,
			"request_id": errorResponse.RequestId,
		}).Error(message)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(statusCode)

	// HEAD responses carry no body
	if r.Method == http.MethodHead {
		return
	}
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(errorResponse); err != nil {
		logrus.WithError(err).Error("Failed to encode XML error response")
	}
}

func (h *Handler) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	h.writeError(w, ErrCodeInternalError, "We encountered an internal error. Please try again.", r.URL.Path, r)
}

func (h *Handler) writeXMLResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(statusCode)

	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode XML response")
	}
}

// loadBucket resolves the bucket from the route, writing NoSuchBucket
// when it is not registered
func (h *Handler) loadBucket(w http.ResponseWriter, r *http.Request) (*bucket.Settings, bool) {
	name := getBucketName(r)
	s, err := h.buckets.Get(r.Context(), name)
	if errors.Is(err, bucket.ErrBucketNotFound) {
		h.writeError(w, ErrCodeNoSuchBucket, "The specified bucket does not exist", name, r)
		return nil, false
	}
	if err != nil {
		h.writeInternalError(w, r, err)
		return nil, false
	}
	return s, true
}

func storagePath(bucketName, key string) string {
	return bucketName + "/" + key
}

func formatS3Time(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}
