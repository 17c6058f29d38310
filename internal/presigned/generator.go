package presigned

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/assetguard/assetguard/internal/objectkey"
	"github.com/assetguard/assetguard/internal/s3client"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

const (
	// MaxExpiration is the longest validity SigV4 allows (7 days)
	MaxExpiration = 7 * 24 * time.Hour

	defaultRegion = "us-east-1"
)

var (
	ErrInvalidExpiry = errors.New("invalid expiry")
	ErrMissingBucket = errors.New("bucket is required")
)

// Options configures a Presigner
type Options struct {
	Endpoint      string // Base URL, e.g. "http://localhost:9000". Empty uses AWS.
	Region        string
	Bucket        string
	Credentials   aws.CredentialsProvider
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
}

// URL is a pre-signed request handed to a client
type URL struct {
	URL          string      `json:"url"`
	Method       string      `json:"method"`
	Key          string      `json:"key"`
	SignedHeader http.Header `json:"signed_header,omitempty"`
	SignedAt     time.Time   `json:"signed_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// PutParams describes a single upload
type PutParams struct {
	Key         string
	ContentType string        // signed when set; the client must send it verbatim
	Expires     time.Duration // zero uses the default expiry

	// SignedAt back-dates the signature. Zero signs at the current time.
	SignedAt time.Time
}

// Presigner issues time-bounded PUT URLs for the asset bucket
type Presigner struct {
	client        *s3.PresignClient
	bucket        string
	defaultExpiry time.Duration
	maxExpiry     time.Duration
}

// New creates a presigner backed by the SDK's presign client
func New(opts Options) (*Presigner, error) {
	if opts.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	if opts.MaxExpiry <= 0 || opts.MaxExpiry > MaxExpiration {
		opts.MaxExpiry = MaxExpiration
	}
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 15 * time.Minute
	}
	if opts.DefaultExpiry > opts.MaxExpiry {
		return nil, fmt.Errorf("%w: default %s exceeds max %s", ErrInvalidExpiry, opts.DefaultExpiry, opts.MaxExpiry)
	}

	client := s3client.New(s3client.Options{
		Endpoint:    opts.Endpoint,
		Region:      opts.Region,
		Credentials: opts.Credentials,
	})

	return &Presigner{
		client:        s3.NewPresignClient(client, s3.WithPresignExpires(opts.DefaultExpiry)),
		bucket:        opts.Bucket,
		defaultExpiry: opts.DefaultExpiry,
		maxExpiry:     opts.MaxExpiry,
	}, nil
}

// ValidateExpiry checks d against the presigner's bounds. Zero maps to the
// default expiry.
func (p *Presigner) ValidateExpiry(d time.Duration) (time.Duration, error) {
	if d == 0 {
		return p.defaultExpiry, nil
	}
	if d < time.Second {
		return 0, fmt.Errorf("%w: %s is not positive", ErrInvalidExpiry, d)
	}
	if d > p.maxExpiry {
		return 0, fmt.Errorf("%w: %s exceeds %s", ErrInvalidExpiry, d, p.maxExpiry)
	}
	return d, nil
}

// PresignPut returns a pre-signed PUT URL for params.Key
func (p *Presigner) PresignPut(ctx context.Context, params PutParams) (*URL, error) {
	if err := objectkey.Validate(params.Key); err != nil {
		return nil, err
	}
	expires, err := p.ValidateExpiry(params.Expires)
	if err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(params.Key),
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}

	optFns := []func(*s3.PresignOptions){s3.WithPresignExpires(expires)}
	if !params.SignedAt.IsZero() {
		optFns = append(optFns, func(o *s3.PresignOptions) {
			o.Presigner = fixedTimeSigner{signer: v4.NewSigner(func(so *v4.SignerOptions) {
				so.DisableURIPathEscaping = true
			}), at: params.SignedAt}
		})
	}

	req, err := p.client.PresignPutObject(ctx, input, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to presign put: %w", err)
	}

	out := &URL{
		URL:          req.URL,
		Method:       req.Method,
		Key:          params.Key,
		SignedHeader: req.SignedHeader,
	}
	if u, err := url.Parse(req.URL); err == nil {
		if t, err := time.Parse("20060102T150405Z", u.Query().Get("X-Amz-Date")); err == nil {
			out.SignedAt = t
			out.ExpiresAt = t.Add(expires)
		}
	}

	logrus.WithFields(logrus.Fields{
		"bucket":     p.bucket,
		"key":        params.Key,
		"expires_in": expires.String(),
	}).Debug("Issued pre-signed PUT URL")

	return out, nil
}

// fixedTimeSigner signs at a fixed time instead of the request time
type fixedTimeSigner struct {
	signer *v4.Signer
	at     time.Time
}

func (f fixedTimeSigner) PresignHTTP(
	ctx context.Context, credentials aws.Credentials, r *http.Request,
	payloadHash string, service string, region string, _ time.Time,
	optFns ...func(*v4.SignerOptions),
) (string, http.Header, error) {
	return f.signer.PresignHTTP(ctx, credentials, r, payloadHash, service, region, f.at, optFns...)
}

// PresignNewObject generates a fresh key for tenantID and presigns it
func (p *Presigner) PresignNewObject(ctx context.Context, tenantID, ext string, expires time.Duration) (*URL, error) {
	key, err := objectkey.New(tenantID, ext)
	if err != nil {
		return nil, err
	}
	return p.PresignPut(ctx, PutParams{Key: key.String(), Expires: expires})
}
