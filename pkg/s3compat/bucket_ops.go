package s3compat

import (
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/policy"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/assetguard/assetguard/internal/storage"
	"github.com/sirupsen/logrus"
)

const maxListKeys = 1000

type LocationConstraint struct {
	XMLName  xml.Name `xml:"LocationConstraint"`
	Xmlns    string   `xml:"xmlns,attr"`
	Location string   `xml:",chardata"`
}

// HeadBucket reports whether the bucket exists and the caller may list it
func (h *Handler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	if !h.authorizeList(w, r, s, id, "") {
		return
	}

	w.Header().Set("X-Amz-Bucket-Region", s.Region)
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation returns the bucket region
func (h *Handler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	if !h.authorizeList(w, r, s, id, "") {
		return
	}

	location := s.Region
	if location == "us-east-1" {
		location = ""
	}
	h.writeXMLResponse(w, http.StatusOK, LocationConstraint{Xmlns: s3Namespace, Location: location})
}

// authorizeList decides ListBucket. Signed callers go through their identity
// policy; anonymous callers need a public READ grant on the bucket ACL.
func (h *Handler) authorizeList(w http.ResponseWriter, r *http.Request, s *bucket.Settings, id *sigv4.Identity, prefix string) bool {
	if id != nil {
		if h.authorize(id, policy.ActionListBucket, policy.BucketARN(s.Name), map[string]string{"s3:prefix": prefix}) {
			return true
		}
		h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
		return false
	}

	bucketACL, err := h.acls.GetBucketACL(r.Context(), s.Name)
	if err != nil {
		h.writeInternalError(w, r, err)
		return false
	}
	if h.allowAnonymous(s, policy.ActionListBucket, bucketACL, acl.PermissionRead) {
		return true
	}
	h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
	return false
}

// ListObjects implements ListObjectsV2. Keys are returned in lexical order.
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	startAfter := q.Get("start-after")

	if !h.authorizeList(w, r, s, id, prefix) {
		return
	}

	maxKeys, err := parseMaxKeys(q.Get("max-keys"))
	if err != nil {
		h.writeError(w, ErrCodeInvalidArgument, "max-keys must be a non-negative integer", r.URL.Path, r)
		return
	}

	marker := startAfter
	token := q.Get("continuation-token")
	if token != "" {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			h.writeError(w, ErrCodeInvalidArgument, "The continuation token provided is incorrect", r.URL.Path, r)
			return
		}
		marker = string(decoded)
	}

	objects, err := h.storage.List(r.Context(), storagePath(s.Name, prefix))
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	result := ListBucketV2Result{
		Xmlns:             s3Namespace,
		Name:              s.Name,
		Prefix:            prefix,
		Delimiter:         delimiter,
		StartAfter:        startAfter,
		ContinuationToken: token,
		MaxKeys:           maxKeys,
	}

	seenPrefixes := make(map[string]bool)
	lastKey := ""
	for _, obj := range objects {
		key := strings.TrimPrefix(obj.Path, s.Name+"/")
		if key <= marker {
			continue
		}

		entryKey := key
		isPrefix := false
		if delimiter != "" {
			if i := strings.Index(key[len(prefix):], delimiter); i >= 0 {
				entryKey = key[:len(prefix)+i+len(delimiter)]
				isPrefix = true
			}
		}
		if isPrefix && seenPrefixes[entryKey] {
			continue
		}
		if entryKey <= marker {
			continue
		}

		if result.KeyCount >= maxKeys {
			result.IsTruncated = true
			break
		}

		if isPrefix {
			seenPrefixes[entryKey] = true
			result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: entryKey})
		} else {
			result.Contents = append(result.Contents, listEntry(key, obj))
		}
		result.KeyCount++
		lastKey = entryKey
	}

	if result.IsTruncated && lastKey != "" {
		result.NextContinuationToken = base64.StdEncoding.EncodeToString([]byte(lastKey))
	}

	logrus.WithFields(logrus.Fields{
		"bucket":    s.Name,
		"prefix":    prefix,
		"keys":      result.KeyCount,
		"truncated": result.IsTruncated,
	}).Debug("Listed objects")

	h.writeXMLResponse(w, http.StatusOK, result)
}

func listEntry(key string, obj storage.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		LastModified: formatS3Time(obj.LastModified),
		ETag:         quoteETag(obj.ETag),
		Size:         obj.Size,
		StorageClass: "STANDARD",
	}
}

func parseMaxKeys(v string) (int, error) {
	if v == "" {
		return maxListKeys, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	if n > maxListKeys {
		n = maxListKeys
	}
	return n, nil
}

// GetBucketCORS returns the bucket CORS rules
func (h *Handler) GetBucketCORS(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}
	if len(s.CORS.CORSRules) == 0 {
		h.writeError(w, ErrCodeNoSuchCORSConfiguration, "The CORS configuration does not exist", s.Name, r)
		return
	}
	h.writeXMLResponse(w, http.StatusOK, s.CORS.ToXML())
}

// GetBucketACL returns the bucket access control policy
func (h *Handler) GetBucketACL(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}
	bucketACL, err := h.acls.GetBucketACL(r.Context(), s.Name)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	h.writeXMLResponse(w, http.StatusOK, bucketACL.ToS3Format())
}

// GetBucketOwnershipControls returns the object ownership mode
func (h *Handler) GetBucketOwnershipControls(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}
	h.writeXMLResponse(w, http.StatusOK, acl.OwnershipControlsXML(s.Ownership))
}

// GetPublicAccessBlock returns the four public access block flags
func (h *Handler) GetPublicAccessBlock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}
	h.writeXMLResponse(w, http.StatusOK, s.PublicAccessBlock.ToXML())
}

// authorizeBucketRead handles the signed-only bucket configuration reads
func (h *Handler) authorizeBucketRead(w http.ResponseWriter, r *http.Request) (*bucket.Settings, bool) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return nil, false
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return nil, false
	}
	if !h.authorizeRequest(w, r, id, nil) {
		return nil, false
	}
	return s, true
}

// Preflight answers CORS OPTIONS requests from the bucket rules. S3 replies
// 403 when no rule matches, without any Access-Control-* headers.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}

	if len(s.CORS.CORSRules) > 0 {
		w.Header().Add("Vary", bucket.CORSVary)
	}

	origin := r.Header.Get("Origin")
	method := r.Header.Get("Access-Control-Request-Method")
	if origin == "" || method == "" {
		h.writeError(w, ErrCodeInvalidRequest, "Insufficient information. Origin request header needed.", r.URL.Path, r)
		return
	}

	requested := bucket.ParseRequestHeaders(r.Header.Get("Access-Control-Request-Headers"))
	res := s.CORS.Preflight(origin, method, requested)
	if res == nil {
		logrus.WithFields(logrus.Fields{
			"bucket": s.Name,
			"origin": origin,
			"method": method,
		}).Debug("CORS preflight rejected")
		h.writeError(w, ErrCodeAccessForbidden, "CORSResponse: This CORS request is not allowed.", r.URL.Path, r)
		return
	}

	for k, v := range res.Headers(true) {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
}
