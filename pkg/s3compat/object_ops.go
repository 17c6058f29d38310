package s3compat

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/objectkey"
	"github.com/assetguard/assetguard/internal/policy"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/assetguard/assetguard/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	headerACL           = "X-Amz-Acl"
	headerContentSHA256 = "X-Amz-Content-Sha256"
	userMetadataPrefix  = "x-amz-meta-"

	// maxACLBodySize bounds PutObjectAcl request bodies
	maxACLBodySize = 64 << 10
)

// GetObject serves an object body. Anonymous reads need a public READ grant
// on the object ACL.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r)
}

// HeadObject is GetObject without the body
func (h *Handler) HeadObject(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r)
}

func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	key := getObjectKey(r)

	if id != nil && !h.authorizeRequest(w, r, id, nil) {
		return
	}

	body, info, err := h.storage.Get(r.Context(), storagePath(s.Name, key))
	if err != nil {
		h.writeObjectLookupError(w, r, s, id, key, err)
		return
	}
	defer body.Close()

	if id == nil && !h.allowAnonymousObject(w, r, s, key, policy.ActionGetObject, acl.PermissionRead) {
		return
	}

	hdr := w.Header()
	hdr.Set("ETag", quoteETag(info.ETag))
	hdr.Set("Content-Type", info.ContentType)
	for k, v := range info.Metadata {
		hdr.Set(userMetadataPrefix+k, v)
	}

	if rs, ok := body.(io.ReadSeeker); ok {
		// handles Range, conditional headers and HEAD
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}

	hdr.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := io.Copy(w, body); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to stream object body")
		}
	}
}

// PutObject stores an object. The caller's policy must allow s3:PutObject,
// and also s3:PutObjectAcl when the request names a canned ACL. The stored
// ACL is the requested canned ACL, or the bucket default, resolved against
// the bucket's ownership mode.
func (h *Handler) PutObject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	key := getObjectKey(r)

	canned := requestedCannedACL(r)
	conditions := aclConditions(canned)
	if !h.authorizeRequest(w, r, id, conditions) {
		return
	}
	if canned != "" && !h.authorize(id, policy.ActionPutObjectAcl, sigv4.ResourceARN(r), conditions) {
		h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
		return
	}

	if err := objectkey.Validate(key); err != nil {
		h.writeError(w, ErrCodeInvalidArgument, err.Error(), key, r)
		return
	}

	objACL, err := acl.NewObjectACL(s.Ownership, s.Owner, writerOwner(id), canned, s.CannedACL)
	if err != nil {
		h.writeACLError(w, r, err)
		return
	}
	if !h.checkPublicACLAllowed(w, r, s, objACL) {
		return
	}

	if !h.consumePresigned(w, r, id, s.Name, key) {
		return
	}

	body := io.Reader(r.Body)
	if isAWSChunked(r) {
		cb, err := newChunkedBody(r.Body, r.Header)
		if err != nil {
			h.writeError(w, ErrCodeInvalidRequest, "Invalid x-amz-decoded-content-length", key, r)
			return
		}
		body = cb
	}

	info, err := h.storage.Put(r.Context(), storagePath(s.Name, key), body, storage.PutOptions{
		ContentType:    r.Header.Get("Content-Type"),
		Metadata:       userMetadata(r.Header),
		ExpectedSHA256: declaredPayloadHash(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrChecksumMismatch):
			h.writeError(w, ErrCodeContentSHA256Mismatch, "The provided 'x-amz-content-sha256' header does not match what was computed.", key, r)
		case errors.Is(err, errTrailingChecksum):
			h.writeError(w, ErrCodeBadDigest, "The checksum in the trailer does not match the body.", key, r)
		case errors.Is(err, errMalformedChunk), errors.Is(err, errDecodedLength):
			h.writeError(w, ErrCodeIncompleteBody, err.Error(), key, r)
		case errors.Is(err, storage.ErrInvalidPath):
			h.writeError(w, ErrCodeInvalidArgument, "Invalid object key", key, r)
		default:
			h.writeInternalError(w, r, err)
		}
		return
	}

	if err := h.acls.SetObjectACL(r.Context(), s.Name, key, objACL); err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"bucket":     s.Name,
		"key":        key,
		"size":       info.Size,
		"principal":  id.Principal,
		"presigned":  id.Presigned,
		"canned_acl": objACL.CannedACL,
		"owner":      objACL.Owner.ID,
	}).Info("Object stored")

	w.Header().Set("ETag", quoteETag(info.ETag))
	w.WriteHeader(http.StatusOK)
}

// DeleteObject removes an object. Deleting a missing key succeeds.
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	key := getObjectKey(r)

	if !h.authorizeRequest(w, r, id, nil) {
		return
	}
	if !h.consumePresigned(w, r, id, s.Name, key) {
		return
	}

	err := h.storage.Delete(r.Context(), storagePath(s.Name, key))
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) && !errors.Is(err, storage.ErrInvalidPath) {
		h.writeInternalError(w, r, err)
		return
	}
	if err := h.acls.DeleteObjectACL(r.Context(), s.Name, key); err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"bucket":    s.Name,
		"key":       key,
		"principal": id.Principal,
	}).Info("Object deleted")

	w.WriteHeader(http.StatusNoContent)
}

// GetObjectACL returns an object's access control policy
func (h *Handler) GetObjectACL(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	key := getObjectKey(r)

	if id != nil && !h.authorizeRequest(w, r, id, nil) {
		return
	}
	if _, err := h.storage.Head(r.Context(), storagePath(s.Name, key)); err != nil {
		h.writeObjectLookupError(w, r, s, id, key, err)
		return
	}
	if id == nil && !h.allowAnonymousObject(w, r, s, key, policy.ActionGetObjectAcl, acl.PermissionReadACP) {
		return
	}

	objACL, err := h.currentObjectACL(r, s, key)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	h.writeXMLResponse(w, http.StatusOK, objACL.ToS3Format())
}

// PutObjectACL replaces an object's ACL from the x-amz-acl header or an
// AccessControlPolicy body. The object owner does not change.
func (h *Handler) PutObjectACL(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	s, ok := h.loadBucket(w, r)
	if !ok {
		return
	}
	key := getObjectKey(r)

	canned := requestedCannedACL(r)
	if !h.authorizeRequest(w, r, id, aclConditions(canned)) {
		return
	}
	if !s.Ownership.ACLsEnabled() {
		h.writeACLError(w, r, acl.ErrACLsDisabled)
		return
	}
	if _, err := h.storage.Head(r.Context(), storagePath(s.Name, key)); err != nil {
		h.writeObjectLookupError(w, r, s, id, key, err)
		return
	}

	current, err := h.currentObjectACL(r, s, key)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	var updated *acl.ACL
	if canned != "" {
		updated, err = acl.NewCannedACL(canned, current.Owner, s.Owner)
	} else {
		updated, err = parseACLBody(r)
		if err == nil {
			updated.Owner = current.Owner
		}
	}
	if err != nil {
		h.writeACLError(w, r, err)
		return
	}
	if !h.checkPublicACLAllowed(w, r, s, updated) {
		return
	}
	if !h.consumePresigned(w, r, id, s.Name, key) {
		return
	}

	if err := h.acls.SetObjectACL(r.Context(), s.Name, key, updated); err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"bucket":     s.Name,
		"key":        key,
		"principal":  id.Principal,
		"canned_acl": updated.CannedACL,
	}).Info("Object ACL updated")

	w.WriteHeader(http.StatusOK)
}

func parseACLBody(r *http.Request) (*acl.ACL, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxACLBodySize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, acl.ErrInvalidACL
	}
	return acl.ParseS3XML(data)
}

// currentObjectACL returns the stored ACL, or a private ACL owned by the
// bucket owner for objects written before ACLs were recorded
func (h *Handler) currentObjectACL(r *http.Request, s *bucket.Settings, key string) (*acl.ACL, error) {
	objACL, err := h.acls.GetObjectACL(r.Context(), s.Name, key)
	if errors.Is(err, acl.ErrACLNotFound) {
		return acl.CreateDefaultACL(s.Owner), nil
	}
	return objACL, err
}

// allowAnonymousObject checks an object ACL grant for an unsigned request,
// writing AccessDenied when it is missing
func (h *Handler) allowAnonymousObject(w http.ResponseWriter, r *http.Request, s *bucket.Settings, key, action string, perm acl.Permission) bool {
	objACL, err := h.acls.GetObjectACL(r.Context(), s.Name, key)
	if err != nil && !errors.Is(err, acl.ErrACLNotFound) {
		h.writeInternalError(w, r, err)
		return false
	}
	if h.allowAnonymous(s, action, objACL, perm) {
		return true
	}
	h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
	return false
}

// writeObjectLookupError reports a missing object. Callers who may not list
// the bucket get AccessDenied instead of NoSuchKey, as on S3.
func (h *Handler) writeObjectLookupError(w http.ResponseWriter, r *http.Request, s *bucket.Settings, id *sigv4.Identity, key string, err error) {
	if !errors.Is(err, storage.ErrObjectNotFound) && !errors.Is(err, storage.ErrInvalidPath) {
		h.writeInternalError(w, r, err)
		return
	}

	canList := false
	if id != nil {
		canList = h.authorize(id, policy.ActionListBucket, policy.BucketARN(s.Name), map[string]string{"s3:prefix": key})
	} else if bucketACL, aclErr := h.acls.GetBucketACL(r.Context(), s.Name); aclErr == nil {
		canList = h.allowAnonymous(s, policy.ActionListBucket, bucketACL, acl.PermissionRead)
	}

	if !canList {
		h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
		return
	}
	h.writeError(w, ErrCodeNoSuchKey, "The specified key does not exist.", key, r)
}

// checkPublicACLAllowed rejects public grants when the bucket blocks them
func (h *Handler) checkPublicACLAllowed(w http.ResponseWriter, r *http.Request, s *bucket.Settings, a *acl.ACL) bool {
	if !s.PublicAccessBlock.BlockPublicAcls {
		return true
	}
	// AuthenticatedUsers grants count as public, as they do on S3
	if a.CheckAuthenticatedAccess(acl.PermissionRead) || a.CheckAuthenticatedAccess(acl.PermissionWrite) {
		h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
		return false
	}
	return true
}

func (h *Handler) writeACLError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, acl.ErrACLsDisabled):
		h.writeError(w, ErrCodeACLNotSupported, "The bucket does not allow ACLs", r.URL.Path, r)
	case errors.Is(err, acl.ErrInvalidCannedACL):
		h.writeError(w, ErrCodeInvalidArgument, err.Error(), r.URL.Path, r)
	case errors.Is(err, acl.ErrInvalidACL), errors.Is(err, acl.ErrInvalidGrantee):
		h.writeError(w, ErrCodeMalformedACL, "The XML you provided was not well-formed or did not validate against our published schema", r.URL.Path, r)
	default:
		h.writeInternalError(w, r, err)
	}
}

// requestedCannedACL reads x-amz-acl. Pre-signed URLs carry it as a query
// parameter because the signer hoists x-amz-* headers.
func requestedCannedACL(r *http.Request) string {
	if v := r.Header.Get(headerACL); v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.URL.Query().Get(strings.ToLower(headerACL)))
}

func aclConditions(canned string) map[string]string {
	if canned == "" {
		return nil
	}
	return map[string]string{"s3:x-amz-acl": canned}
}

// declaredPayloadHash returns the hex body hash the client signed, if any
func declaredPayloadHash(r *http.Request) string {
	v := strings.ToLower(r.Header.Get(headerContentSHA256))
	if len(v) != 64 {
		return ""
	}
	if _, err := hex.DecodeString(v); err != nil {
		return ""
	}
	return v
}

func userMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for k, v := range h {
		lk := strings.ToLower(k)
		if !strings.HasPrefix(lk, userMetadataPrefix) || len(v) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.TrimPrefix(lk, userMetadataPrefix)] = v[0]
	}
	return meta
}
