package bucket

import (
	"github.com/assetguard/assetguard/internal/acl"
)

// DefaultCORSMaxAgeSeconds is how long browsers may cache a preflight result
const DefaultCORSMaxAgeSeconds = 3000

// DefaultOwner owns buckets when none is configured
var DefaultOwner = acl.Owner{ID: "bucket-owner", DisplayName: "bucket-owner"}

// AssetExposeHeaders are the response headers browsers may read
var AssetExposeHeaders = []string{
	"ETag",
	"x-amz-request-id",
	"x-amz-id-2",
	"x-amz-checksum-crc32",
	"x-amz-checksum-crc32c",
	"x-amz-checksum-sha1",
	"x-amz-checksum-sha256",
}

// AssetMethods are the methods the browser may use against the bucket
var AssetMethods = []string{"GET", "HEAD", "PUT"}

// Options parameterize AssetBucket
type Options struct {
	Name          string
	Region        string
	AppOrigin     string
	MaxAgeSeconds int
	Owner         acl.Owner
}

// AssetBucket returns the canonical asset bucket: public-read objects,
// BucketOwnerPreferred ownership, public access block off, CORS limited to
// the app origin and versioning never enabled.
func AssetBucket(opts Options) Settings {
	maxAge := opts.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = DefaultCORSMaxAgeSeconds
	}
	owner := opts.Owner
	if owner.ID == "" {
		owner = DefaultOwner
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	return Settings{
		Name:              opts.Name,
		Region:            region,
		Owner:             owner,
		PublicAccessBlock: PublicAccessBlock{},
		Ownership:         acl.OwnershipBucketOwnerPreferred,
		CannedACL:         acl.CannedACLPublicRead,
		CORS: CORSConfig{
			CORSRules: []CORSRule{
				{
					ID:             "app-origin",
					AllowedHeaders: []string{"*"},
					AllowedMethods: append([]string(nil), AssetMethods...),
					AllowedOrigins: []string{opts.AppOrigin},
					ExposeHeaders:  append([]string(nil), AssetExposeHeaders...),
					MaxAgeSeconds:  &maxAge,
				},
			},
		},
		Versioning: VersioningConfig{Status: VersioningNeverEnabled},
	}
}

// BucketACL expands the bucket's canned ACL
func (s Settings) BucketACL() (*acl.ACL, error) {
	return acl.NewCannedACL(s.CannedACL, s.Owner, s.Owner)
}
