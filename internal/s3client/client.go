// Package s3client builds SDK clients for the asset bucket endpoint
package s3client

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// Options configures a client
type Options struct {
	Endpoint    string // Base URL, e.g. "http://localhost:9000". Empty uses AWS.
	Region      string
	Credentials aws.CredentialsProvider // nil sends unsigned requests
}

// New returns a path-style S3 client. Checksums are only computed when an
// operation requires them, so uploads carry a plain signed payload hash.
func New(opts Options) *s3.Client {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	creds := opts.Credentials
	if creds == nil {
		creds = aws.AnonymousCredentials{}
	}

	return s3.New(s3.Options{
		Region:                     region,
		Credentials:                creds,
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
}

// ObjectURL returns the unsigned URL of an object. A custom endpoint is
// addressed path-style; AWS uses the virtual-hosted form.
func ObjectURL(endpoint, region, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")

	if endpoint != "" {
		return strings.TrimSuffix(endpoint, "/") + "/" + bucket + "/" + escaped
	}
	if region == "" {
		region = defaultRegion
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escaped)
}
