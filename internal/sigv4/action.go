package sigv4

import (
	"net/http"
	"strings"

	"github.com/assetguard/assetguard/internal/policy"
)

// ActionListAllMyBuckets is requested by GET /
const ActionListAllMyBuckets = "s3:ListAllMyBuckets"

// Action derives the IAM action a path-style S3 request needs
func Action(r *http.Request) string {
	q := r.URL.Query()
	bucket, key := splitPath(r.URL.Path)

	if bucket == "" {
		return ActionListAllMyBuckets
	}

	if key == "" {
		switch {
		case q.Has("versioning"):
			return policy.ActionGetBucketVers
		case q.Has("cors"):
			return policy.ActionGetBucketCORS
		case q.Has("acl"):
			return policy.ActionGetBucketAcl
		case q.Has("ownershipControls"):
			return policy.ActionGetBucketOwner
		case q.Has("publicAccessBlock"):
			return policy.ActionGetBucketPAB
		case q.Has("policy"):
			return policy.ActionGetBucketPolicy
		case q.Has("versions"):
			return policy.ActionListBucketVers
		}
		return policy.ActionListBucket
	}

	switch r.Method {
	case http.MethodPut:
		if q.Has("acl") {
			return policy.ActionPutObjectAcl
		}
		return policy.ActionPutObject
	case http.MethodDelete:
		return policy.ActionDeleteObject
	default:
		if q.Has("acl") {
			return policy.ActionGetObjectAcl
		}
		return policy.ActionGetObject
	}
}

// ResourceARN returns the bucket or object ARN a request targets
func ResourceARN(r *http.Request) string {
	bucket, key := splitPath(r.URL.Path)
	switch {
	case bucket == "":
		return "arn:aws:s3:::*"
	case key == "":
		return policy.BucketARN(bucket)
	default:
		return policy.ObjectARN(bucket, key)
	}
}

func splitPath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")
	bucket, key, _ = strings.Cut(path, "/")
	return bucket, key
}
