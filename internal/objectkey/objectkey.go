// Package objectkey implements the {tenantId}/{objectId} key convention used
// for every object in the asset bucket.
package objectkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidKey      = errors.New("invalid object key")
	ErrInvalidTenantID = errors.New("invalid tenant id")
	ErrInvalidObjectID = errors.New("invalid object id")
)

// DefaultImageExtensions are the suffixes treated as images when no
// explicit list is configured
var DefaultImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// maxKeyLength is the S3 object key limit in bytes
const maxKeyLength = 1024

// Key is a parsed object key
type Key struct {
	TenantID string
	ObjectID string
}

// String returns the key in its stored form
func (k Key) String() string {
	return k.TenantID + "/" + k.ObjectID
}

// Build validates both segments and joins them
func Build(tenantID, objectID string) (Key, error) {
	if err := validateSegment(tenantID); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}
	if err := validateSegment(objectID); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidObjectID, err)
	}
	k := Key{TenantID: tenantID, ObjectID: objectID}
	if len(k.String()) > maxKeyLength {
		return Key{}, fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidKey, maxKeyLength)
	}
	return k, nil
}

// Parse splits a stored key into tenant and object id
func Parse(key string) (Key, error) {
	if key == "" {
		return Key{}, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return Key{}, fmt.Errorf("%w: leading slash", ErrInvalidKey)
	}
	parts := strings.Split(key, "/")
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("%w: expected tenantId/objectId, got %d segments", ErrInvalidKey, len(parts))
	}
	return Build(parts[0], parts[1])
}

// Validate reports whether key follows the convention
func Validate(key string) error {
	_, err := Parse(key)
	return err
}

// NewObjectID returns a random object id. ext may be empty, with or
// without a leading dot.
func NewObjectID(ext string) string {
	id := uuid.NewString()
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return id
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return id + strings.ToLower(ext)
}

// New builds a fresh key for a tenant
func New(tenantID, ext string) (Key, error) {
	return Build(tenantID, NewObjectID(ext))
}

// HasExtension reports whether key ends in the all-lowercase or all-uppercase
// spelling of one of exts. Mixed-case spellings such as ".Png" do not match,
// the same as the image ACL statement, whose resource ARNs are case-sensitive.
func HasExtension(key string, exts []string) bool {
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		if strings.HasSuffix(key, strings.ToLower(ext)) || strings.HasSuffix(key, strings.ToUpper(ext)) {
			return true
		}
	}
	return false
}

// ValidateTenantID reports whether id can be the first segment of a key
func ValidateTenantID(id string) error {
	if err := validateSegment(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}
	return nil
}

func validateSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty segment")
	case s == "." || s == "..":
		return errors.New("relative path segment")
	case strings.ContainsAny(s, "/\\"):
		return errors.New("segment contains a path separator")
	case strings.ContainsRune(s, 0):
		return errors.New("segment contains a null byte")
	}
	return nil
}
