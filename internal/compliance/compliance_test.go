package compliance

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/server/servertest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T, e *servertest.Emulator, mutate ...func(*Options)) *Checker {
	t.Helper()
	opts := OptionsFromConfig(e.Config)
	opts.ExpectSingleUse = true
	for _, fn := range mutate {
		fn(&opts)
	}
	c, err := NewChecker(opts)
	require.NoError(t, err)
	return c
}

func seed(t *testing.T, e *servertest.Emulator, key string, acl types.ObjectCannedACL) {
	t.Helper()
	_, err := e.Client(servertest.Backend).PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader([]byte("asset")),
		ACL:    acl,
	})
	require.NoError(t, err)
}

func statusOf(t *testing.T, r *Report, property string) Result {
	t.Helper()
	res, ok := r.Result(property)
	require.True(t, ok, "property %s did not run", property)
	return res
}

func TestNewChecker_Validation(t *testing.T) {
	_, err := NewChecker(Options{})
	assert.ErrorIs(t, err, ErrMissingBucket)

	_, err = NewChecker(Options{Bucket: "b"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	cfg := servertest.Config(t)
	cfg.Credentials.Auditor = config.AccessKeyConfig{}
	opts := OptionsFromConfig(cfg)
	assert.Nil(t, opts.Auditor)
	assert.NotNil(t, opts.App)

	c, err := NewChecker(opts)
	require.NoError(t, err)
	assert.Equal(t, defaultProbeTenant, c.opts.ProbeTenant)
	assert.Equal(t, defaultSampleLimit, c.opts.SampleLimit)

	cfg.Bucket.ObjectPrefix = "tenant-7/*"
	assert.Equal(t, "tenant-7", OptionsFromConfig(cfg).ProbeTenant)
}

func TestChecker_AllPropertiesPass(t *testing.T) {
	e := servertest.Start(t)
	seed(t, e, "tenant-1/logo.png", "")
	seed(t, e, "tenant-2/banner.jpg", types.ObjectCannedACLPublicRead)

	m := metrics.NewManager(config.MetricsConfig{Enable: true})
	c := newChecker(t, e, func(o *Options) { o.Metrics = m })

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, len(Properties))

	for _, res := range report.Results {
		assert.Equal(t, StatusPass, res.Status, "%s: %s %v", res.Property, res.Reason, res.Details)
	}
	assert.True(t, report.Passed())
	assert.Equal(t, len(Properties), report.Count(StatusPass))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, e.URL(), report.Endpoint)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "assetguard_compliance_results_total" {
			found = true
			assert.Len(t, f.GetMetric(), len(Properties))
		}
	}
	assert.True(t, found)

	list, err := e.Client(servertest.Backend).ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String(servertest.Bucket),
		Prefix: aws.String(defaultProbeTenant + "/"),
	})
	require.NoError(t, err)
	assert.Empty(t, list.Contents, "probe objects are cleaned up")
}

func TestChecker_PublicRead(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e)

	report, err := c.Run(context.Background(), PropertyPublicRead)
	require.NoError(t, err)
	assert.Equal(t, StatusSkip, statusOf(t, report, PropertyPublicRead).Status, "empty bucket")
	assert.True(t, report.Passed())

	seed(t, e, "tenant-1/secret.png", types.ObjectCannedACLPrivate)
	report, err = c.Run(context.Background(), PropertyPublicRead)
	require.NoError(t, err)
	res := statusOf(t, report, PropertyPublicRead)
	assert.Equal(t, StatusFail, res.Status)
	require.Len(t, res.Details, 1)
	assert.Contains(t, res.Details[0], "tenant-1/secret.png")
	assert.False(t, report.Passed())
}

func TestChecker_ACLDenyDetectsLooseRule(t *testing.T) {
	e := servertest.Start(t, func(cfg *config.Config) {
		cfg.Bucket.ImageExtensions = append(cfg.Bucket.ImageExtensions, ".html")
	})
	c := newChecker(t, e, func(o *Options) {
		o.ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}
	})

	report, err := c.Run(context.Background(), PropertyACLDeny)
	require.NoError(t, err)
	res := statusOf(t, report, PropertyACLDeny)
	assert.Equal(t, StatusFail, res.Status)
	require.Len(t, res.Details, 1)
	assert.Contains(t, res.Details[0], ".html")
}

func TestChecker_ACLDenyCaseVariants(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e)

	report, err := c.Run(context.Background(), PropertyACLDeny)
	require.NoError(t, err)
	res := statusOf(t, report, PropertyACLDeny)
	require.Equal(t, StatusPass, res.Status, "%s %v", res.Reason, res.Details)

	var upper, mixed bool
	for _, d := range res.Details {
		if strings.Contains(d, ".PNG: allowed=true") {
			upper = true
		}
		if strings.Contains(d, ".Png: allowed=false") {
			mixed = true
		}
	}
	assert.True(t, upper, "uppercase spelling may be made public: %v", res.Details)
	assert.True(t, mixed, "mixed-case spelling stays denied: %v", res.Details)
}

func TestChecker_ScopedBackendPrefix(t *testing.T) {
	e := servertest.Start(t, func(cfg *config.Config) {
		cfg.Bucket.ObjectPrefix = "t1"
	})
	seed(t, e, "t1/logo.png", "")
	seed(t, e, "t1/"+checkObjectPrefix+"leftover.png", types.ObjectCannedACLPrivate)

	c := newChecker(t, e)
	assert.Equal(t, "t1", c.opts.ProbeTenant)

	report, err := c.Run(context.Background(), PropertyPublicRead, PropertyACLDeny, PropertyPresignExpiry, PropertyCORS)
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, StatusPass, res.Status, "%s: %s %v", res.Property, res.Reason, res.Details)
	}
	assert.Equal(t, []string{"1 objects readable without credentials"}, statusOf(t, report, PropertyPublicRead).Details)

	list, err := e.Client(servertest.Backend).ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String(servertest.Bucket),
		Prefix: aws.String("t1/"),
	})
	require.NoError(t, err)
	var keys []string
	for _, obj := range list.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	assert.ElementsMatch(t, []string{"t1/logo.png", "t1/" + checkObjectPrefix + "leftover.png"}, keys)
}

func TestExtensionSpellings(t *testing.T) {
	assert.Equal(t, []string{".png", ".PNG", ".Png"}, extensionSpellings(".png"))
	assert.Equal(t, []string{".jpeg", ".JPEG", ".Jpeg"}, extensionSpellings("JPEG"))
	assert.Equal(t, []string{".x", ".X"}, extensionSpellings(".x"))
}

func TestIsCheckObject(t *testing.T) {
	assert.True(t, isCheckObject("t1/"+checkObjectPrefix+"abc.png"))
	assert.False(t, isCheckObject("t1/logo.png"))
	assert.False(t, isCheckObject(checkObjectPrefix+"abc.png"))
}

func TestChecker_CORSWrongOrigin(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e, func(o *Options) { o.AppOrigin = "https://other.example.com" })

	report, err := c.Run(context.Background(), PropertyCORS)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, statusOf(t, report, PropertyCORS).Status)

	c = newChecker(t, e, func(o *Options) { o.AppOrigin = "" })
	report, err = c.Run(context.Background(), PropertyCORS)
	require.NoError(t, err)
	assert.Equal(t, StatusSkip, statusOf(t, report, PropertyCORS).Status)
}

func TestChecker_NoVersionsWithoutAuditor(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e, func(o *Options) { o.Auditor = nil })

	report, err := c.Run(context.Background(), PropertyNoVersions)
	require.NoError(t, err)
	res := statusOf(t, report, PropertyNoVersions)
	assert.Equal(t, StatusSkip, res.Status, "the backend role cannot read versioning")
}

func TestChecker_PresignExpiry(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e, func(o *Options) { o.PresignExpiry = 30 * time.Second })

	report, err := c.Run(context.Background(), PropertyPresignExpiry)
	require.NoError(t, err)
	res := statusOf(t, report, PropertyPresignExpiry)
	assert.Equal(t, StatusPass, res.Status, "%s %v", res.Reason, res.Details)
	assert.Contains(t, res.Details, "expired URL rejected")
}

func TestChecker_UnknownProperty(t *testing.T) {
	e := servertest.Start(t)
	c := newChecker(t, e)
	_, err := c.Run(context.Background(), "teleport")
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestInspector(t *testing.T) {
	e := servertest.Start(t)
	auditor := provider(servertest.Auditor)

	drift, err := NewInspector(e.URL(), auditor, e.Server.Settings()).Inspect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)

	expected := bucket.AssetBucket(bucket.Options{
		Name:          servertest.Bucket,
		Region:        servertest.Region,
		AppOrigin:     "https://other.example.com",
		MaxAgeSeconds: 600,
	})
	expected.PublicAccessBlock.BlockPublicPolicy = true

	drift, err = NewInspector(e.URL(), auditor, expected).Inspect(context.Background())
	require.NoError(t, err)

	settings := map[string]Drift{}
	for _, d := range drift {
		settings[d.Setting] = d
	}
	assert.Len(t, drift, 3)
	assert.Equal(t, "https://app.example.com", settings["cors.rules[0].allowed_origins"].Actual)
	assert.Equal(t, "3000", settings["cors.rules[0].max_age_seconds"].Actual)
	assert.Equal(t, "false", settings["public_access_block.block_public_policy"].Actual)
}

func TestInspector_Unreachable(t *testing.T) {
	e := servertest.Start(t)
	expected := e.Server.Settings()
	expected.Name = "missing-bucket"

	_, err := NewInspector(e.URL(), provider(servertest.Auditor), expected).Inspect(context.Background())
	assert.Error(t, err)
}

func TestCompareCORS(t *testing.T) {
	age := 3000
	expected := bucket.CORSConfig{CORSRules: []bucket.CORSRule{{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "HEAD", "PUT"},
		MaxAgeSeconds:  &age,
	}}}

	same := []types.CORSRule{{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"PUT", "get", "HEAD"},
		MaxAgeSeconds:  aws.Int32(3000),
	}}
	assert.Empty(t, compareCORS(expected, same))

	assert.Equal(t, []Drift{{Setting: "cors.rules", Expected: "1", Actual: "0"}}, compareCORS(expected, nil))

	wider := []types.CORSRule{{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "PUT", "DELETE"},
	}}
	drift := compareCORS(expected, wider)
	assert.Len(t, drift, 3)
}

func TestReportHelpers(t *testing.T) {
	r := &Report{Results: []Result{
		{Property: PropertyCORS, Status: StatusPass},
		{Property: PropertyPublicRead, Status: StatusSkip},
	}}
	assert.True(t, r.Passed())
	assert.Equal(t, 1, r.Count(StatusSkip))

	r.Results = append(r.Results, Result{Property: PropertyACLDeny, Status: StatusFail})
	assert.False(t, r.Passed())

	_, ok := r.Result(PropertyNoVersions)
	assert.False(t, ok)
}
