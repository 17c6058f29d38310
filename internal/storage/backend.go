package storage

import (
	"context"
	"io"
	"time"
)

// Backend stores object bodies and their metadata
type Backend interface {
	Put(ctx context.Context, path string, data io.Reader, opts PutOptions) (*ObjectInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, path string) (*ObjectInfo, error)
	Delete(ctx context.Context, path string) error

	// List returns every object whose path starts with prefix, sorted by path
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	Close() error
}

// PutOptions carries per-write metadata
type PutOptions struct {
	ContentType string
	Metadata    map[string]string // user metadata (x-amz-meta-*)

	// ExpectedSHA256 is the hex payload hash the client signed. When set,
	// the write is discarded if the body does not match.
	ExpectedSHA256 string
}

// ObjectInfo represents information about a stored object
type ObjectInfo struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	SHA256       string            `json:"sha256"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
