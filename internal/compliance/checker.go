package compliance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/s3client"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultProbeTenant   = "assetguard-probe"
	defaultSampleLimit   = 100
	defaultPresignExpiry = time.Minute
)

// Options configures a Checker
type Options struct {
	Endpoint        string // empty targets AWS
	Region          string
	Bucket          string
	AppOrigin       string
	ImageExtensions []string

	App     aws.CredentialsProvider
	Backend aws.CredentialsProvider
	// Auditor reads bucket configuration. The backend credential is used
	// when it is nil.
	Auditor aws.CredentialsProvider

	// ProbeTenant is the tenant segment of the objects the checker writes
	ProbeTenant string
	// SampleLimit caps how many objects and versions are examined
	SampleLimit int
	// PresignExpiry is the lifetime of probe URLs
	PresignExpiry time.Duration
	// ExpectSingleUse fails the presign property when a URL can be replayed.
	// S3 itself does not enforce single use; the emulator does.
	ExpectSingleUse bool

	HTTPClient *http.Client
	Metrics    metrics.Manager
}

// OptionsFromConfig builds checker options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Endpoint:        cfg.Bucket.Endpoint,
		Region:          cfg.Bucket.Region,
		Bucket:          cfg.Bucket.Name,
		AppOrigin:       cfg.Bucket.AppOrigin,
		ImageExtensions: cfg.Bucket.ImageExtensions,
		App:             provider(cfg.Credentials.App),
		Backend:         provider(cfg.Credentials.Backend),
		// a backend role scoped to one tenant can only write there
		ProbeTenant: config.TenantScope(cfg.Bucket.ObjectPrefix),
	}
	if cfg.Credentials.Auditor.Configured() {
		opts.Auditor = provider(cfg.Credentials.Auditor)
	}
	return opts
}

// Checker runs the compliance properties against one bucket
type Checker struct {
	opts      Options
	app       *s3.Client
	backend   *s3.Client
	auditor   *s3.Client
	anonymous *s3.Client
	presigner *presigned.Presigner
	http      *http.Client
	metrics   metrics.Manager
}

// NewChecker creates a checker. No request is sent until Run.
func NewChecker(opts Options) (*Checker, error) {
	if opts.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if opts.App == nil || opts.Backend == nil {
		return nil, ErrMissingCredentials
	}
	if opts.ProbeTenant == "" {
		opts.ProbeTenant = defaultProbeTenant
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = defaultSampleLimit
	}
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = defaultPresignExpiry
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewManager(config.MetricsConfig{})
	}

	client := func(creds aws.CredentialsProvider) *s3.Client {
		return s3client.New(s3client.Options{Endpoint: opts.Endpoint, Region: opts.Region, Credentials: creds})
	}

	presigner, err := presigned.New(presigned.Options{
		Endpoint:      opts.Endpoint,
		Region:        opts.Region,
		Bucket:        opts.Bucket,
		Credentials:   opts.App,
		DefaultExpiry: opts.PresignExpiry,
		MaxExpiry:     presigned.MaxExpiration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create presigner: %w", err)
	}

	auditor := opts.Auditor
	if auditor == nil {
		auditor = opts.Backend
	}

	return &Checker{
		opts:      opts,
		app:       client(opts.App),
		backend:   client(opts.Backend),
		auditor:   client(auditor),
		anonymous: client(nil),
		presigner: presigner,
		http:      opts.HTTPClient,
		metrics:   opts.Metrics,
	}, nil
}

// Run checks the named properties, or all of them when none are named. A
// failing property never stops the run.
func (c *Checker) Run(ctx context.Context, properties ...string) (*Report, error) {
	if len(properties) == 0 {
		properties = Properties
	}
	for _, p := range properties {
		if c.probe(p) == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, p)
		}
	}

	report := &Report{
		ID:        uuid.New().String(),
		Endpoint:  c.endpointLabel(),
		Bucket:    c.opts.Bucket,
		StartedAt: time.Now().UTC(),
	}

	for _, p := range properties {
		start := time.Now()
		res := c.probe(p)(ctx)
		res.Property = p
		res.Duration = time.Since(start)
		report.Results = append(report.Results, res)

		c.metrics.RecordComplianceResult(p, string(res.Status))
		logrus.WithFields(logrus.Fields{
			"run_id":   report.ID,
			"property": p,
			"status":   res.Status,
			"reason":   res.Reason,
			"duration": res.Duration.String(),
		}).Info("Compliance property checked")
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

func (c *Checker) probe(property string) func(context.Context) Result {
	switch property {
	case PropertyPublicRead:
		return c.checkPublicRead
	case PropertyACLDeny:
		return c.checkACLDeny
	case PropertyPresignExpiry:
		return c.checkPresignExpiry
	case PropertyCORS:
		return c.checkCORS
	case PropertyNoVersions:
		return c.checkNoVersions
	}
	return nil
}

func (c *Checker) endpointLabel() string {
	if c.opts.Endpoint != "" {
		return c.opts.Endpoint
	}
	return "aws:" + c.opts.Region
}

func (c *Checker) objectURL(key string) string {
	return s3client.ObjectURL(c.opts.Endpoint, c.opts.Region, c.opts.Bucket, key)
}

func provider(key config.AccessKeyConfig) aws.CredentialsProvider {
	if !key.Configured() {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(key.AccessKey, key.SecretKey, "")
}

// errorCode extracts the S3 error code from an SDK error
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isAccessDenied(err error) bool {
	code := errorCode(err)
	return code == "AccessDenied" || code == "Forbidden"
}

func pass(details ...string) Result {
	return Result{Status: StatusPass, Details: details}
}

func fail(reason string, details ...string) Result {
	return Result{Status: StatusFail, Reason: reason, Details: details}
}

func skip(reason string) Result {
	return Result{Status: StatusSkip, Reason: reason}
}
