package bucket

import (
	"errors"

	"github.com/assetguard/assetguard/internal/acl"
)

// Common bucket errors
var (
	ErrBucketNotFound    = errors.New("bucket not found")
	ErrInvalidBucketName = errors.New("invalid bucket name")
	ErrInvalidSettings   = errors.New("invalid bucket settings")
	ErrInvalidCORS       = errors.New("invalid CORS configuration")
	ErrVersioningEnabled = errors.New("versioning must stay disabled")

	// ErrSettingsImmutable is returned when a stored bucket would change.
	// Settings are fixed when the bucket is created.
	ErrSettingsImmutable = errors.New("bucket settings are immutable")
)

// Versioning statuses. An empty status means versioning was never enabled.
const (
	VersioningNeverEnabled = ""
	VersioningEnabled      = "Enabled"
	VersioningSuspended    = "Suspended"
)

// Settings is the complete, provisioning-time configuration of a bucket
type Settings struct {
	Name              string              `json:"name" yaml:"name"`
	Region            string              `json:"region" yaml:"region"`
	Owner             acl.Owner           `json:"owner" yaml:"owner"`
	PublicAccessBlock PublicAccessBlock   `json:"public_access_block" yaml:"public_access_block"`
	Ownership         acl.ObjectOwnership `json:"ownership" yaml:"ownership"`
	CannedACL         string              `json:"canned_acl" yaml:"canned_acl"`
	CORS              CORSConfig          `json:"cors" yaml:"cors"`
	Versioning        VersioningConfig    `json:"versioning" yaml:"versioning"`
}

// VersioningConfig represents bucket versioning configuration
type VersioningConfig struct {
	Status string `json:"status" yaml:"status"`
}

// Disabled reports whether no object history can exist
func (v VersioningConfig) Disabled() bool {
	return v.Status == VersioningNeverEnabled
}

// CORSConfig represents bucket CORS configuration
type CORSConfig struct {
	CORSRules []CORSRule `json:"rules" yaml:"rules"`
}

// CORSRule represents a single CORS rule
type CORSRule struct {
	ID             string   `json:"id,omitempty" yaml:"id,omitempty"`
	AllowedHeaders []string `json:"allowed_headers,omitempty" yaml:"allowed_headers,omitempty"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	ExposeHeaders  []string `json:"expose_headers,omitempty" yaml:"expose_headers,omitempty"`
	MaxAgeSeconds  *int     `json:"max_age_seconds,omitempty" yaml:"max_age_seconds,omitempty"`
}

// PublicAccessBlock represents public access block configuration
type PublicAccessBlock struct {
	BlockPublicAcls       bool `json:"block_public_acls" yaml:"block_public_acls"`
	IgnorePublicAcls      bool `json:"ignore_public_acls" yaml:"ignore_public_acls"`
	BlockPublicPolicy     bool `json:"block_public_policy" yaml:"block_public_policy"`
	RestrictPublicBuckets bool `json:"restrict_public_buckets" yaml:"restrict_public_buckets"`
}

// AllowsPublicACLs reports whether public ACL grants take effect
func (p PublicAccessBlock) AllowsPublicACLs() bool {
	return !p.BlockPublicAcls && !p.IgnorePublicAcls
}

// Disabled reports whether all four block flags are off
func (p PublicAccessBlock) Disabled() bool {
	return !p.BlockPublicAcls && !p.IgnorePublicAcls && !p.BlockPublicPolicy && !p.RestrictPublicBuckets
}
