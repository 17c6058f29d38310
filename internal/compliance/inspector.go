package compliance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/s3client"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// Inspector compares a live bucket's configuration with the model
type Inspector struct {
	client   *s3.Client
	expected bucket.Settings
}

// NewInspector creates an inspector that reads the bucket with creds
func NewInspector(endpoint string, creds aws.CredentialsProvider, expected bucket.Settings) *Inspector {
	return &Inspector{
		client:   s3client.New(s3client.Options{Endpoint: endpoint, Region: expected.Region, Credentials: creds}),
		expected: expected,
	}
}

// Inspect reads every bucket setting and returns the ones that differ.
// A setting that cannot be read is reported as drift with the error code.
func (i *Inspector) Inspect(ctx context.Context) ([]Drift, error) {
	name := aws.String(i.expected.Name)
	if _, err := i.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: name}); err != nil {
		return nil, fmt.Errorf("failed to reach bucket %s: %w", i.expected.Name, err)
	}

	var drift []Drift
	add := func(setting, expected, actual string) {
		if expected != actual {
			drift = append(drift, Drift{Setting: setting, Expected: expected, Actual: actual})
		}
	}

	// Versioning
	if out, err := i.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: name}); err != nil {
		add("versioning", versioningLabel(i.expected.Versioning.Status), unreadable(err))
	} else {
		add("versioning", versioningLabel(i.expected.Versioning.Status), versioningLabel(string(out.Status)))
	}

	// Public access block. A missing configuration means every flag is off.
	want := i.expected.PublicAccessBlock
	got := bucket.PublicAccessBlock{}
	if out, err := i.client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: name}); err == nil {
		cfg := out.PublicAccessBlockConfiguration
		got = bucket.PublicAccessBlock{
			BlockPublicAcls:       aws.ToBool(cfg.BlockPublicAcls),
			IgnorePublicAcls:      aws.ToBool(cfg.IgnorePublicAcls),
			BlockPublicPolicy:     aws.ToBool(cfg.BlockPublicPolicy),
			RestrictPublicBuckets: aws.ToBool(cfg.RestrictPublicBuckets),
		}
	} else if errorCode(err) != "NoSuchPublicAccessBlockConfiguration" {
		add("public_access_block", "readable", unreadable(err))
	}
	add("public_access_block.block_public_acls", strconv.FormatBool(want.BlockPublicAcls), strconv.FormatBool(got.BlockPublicAcls))
	add("public_access_block.ignore_public_acls", strconv.FormatBool(want.IgnorePublicAcls), strconv.FormatBool(got.IgnorePublicAcls))
	add("public_access_block.block_public_policy", strconv.FormatBool(want.BlockPublicPolicy), strconv.FormatBool(got.BlockPublicPolicy))
	add("public_access_block.restrict_public_buckets", strconv.FormatBool(want.RestrictPublicBuckets), strconv.FormatBool(got.RestrictPublicBuckets))

	// Ownership controls. Buckets without the setting behave as ObjectWriter.
	ownership := string(acl.OwnershipObjectWriter)
	if out, err := i.client.GetBucketOwnershipControls(ctx, &s3.GetBucketOwnershipControlsInput{Bucket: name}); err == nil {
		if out.OwnershipControls != nil && len(out.OwnershipControls.Rules) > 0 {
			ownership = string(out.OwnershipControls.Rules[0].ObjectOwnership)
		}
	} else if errorCode(err) != "OwnershipControlsNotFoundError" {
		ownership = unreadable(err)
	}
	add("ownership", string(i.expected.Ownership), ownership)

	// Bucket ACL, compared by its group grants
	if expectedACL, err := i.expected.BucketACL(); err != nil {
		return nil, fmt.Errorf("failed to expand canned ACL: %w", err)
	} else if out, err := i.client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: name}); err != nil {
		add("acl", groupGrantsLabel(expectedACL), unreadable(err))
	} else {
		add("acl", groupGrantsLabel(expectedACL), sdkGroupGrantsLabel(out.Grants))
	}

	// CORS
	out, err := i.client.GetBucketCors(ctx, &s3.GetBucketCorsInput{Bucket: name})
	switch {
	case err != nil && errorCode(err) == "NoSuchCORSConfiguration":
		add("cors.rules", strconv.Itoa(len(i.expected.CORS.CORSRules)), "0")
	case err != nil:
		add("cors", "readable", unreadable(err))
	default:
		drift = append(drift, compareCORS(i.expected.CORS, out.CORSRules)...)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": i.expected.Name,
		"drift":  len(drift),
	}).Info("Bucket configuration inspected")

	return drift, nil
}

func compareCORS(expected bucket.CORSConfig, actual []types.CORSRule) []Drift {
	var drift []Drift
	if len(expected.CORSRules) != len(actual) {
		return append(drift, Drift{
			Setting:  "cors.rules",
			Expected: strconv.Itoa(len(expected.CORSRules)),
			Actual:   strconv.Itoa(len(actual)),
		})
	}

	for n, want := range expected.CORSRules {
		got := actual[n]
		prefix := fmt.Sprintf("cors.rules[%d].", n)
		check := func(field string, w, g []string) {
			if ws, gs := setLabel(w), setLabel(g); ws != gs {
				drift = append(drift, Drift{Setting: prefix + field, Expected: ws, Actual: gs})
			}
		}
		check("allowed_origins", want.AllowedOrigins, got.AllowedOrigins)
		check("allowed_methods", want.AllowedMethods, got.AllowedMethods)
		check("allowed_headers", want.AllowedHeaders, got.AllowedHeaders)
		check("expose_headers", want.ExposeHeaders, got.ExposeHeaders)

		wantAge, gotAge := "unset", "unset"
		if want.MaxAgeSeconds != nil {
			wantAge = strconv.Itoa(*want.MaxAgeSeconds)
		}
		if got.MaxAgeSeconds != nil {
			gotAge = strconv.Itoa(int(*got.MaxAgeSeconds))
		}
		if wantAge != gotAge {
			drift = append(drift, Drift{Setting: prefix + "max_age_seconds", Expected: wantAge, Actual: gotAge})
		}
	}
	return drift
}

func versioningLabel(status string) string {
	if status == bucket.VersioningNeverEnabled {
		return "never enabled"
	}
	return status
}

func unreadable(err error) string {
	return "unreadable: " + describe(err)
}

// setLabel renders values as a sorted, case-folded list
func setLabel(values []string) string {
	folded := make([]string, 0, len(values))
	for _, v := range values {
		folded = append(folded, strings.ToLower(strings.TrimSpace(v)))
	}
	sort.Strings(folded)
	return strings.Join(folded, ",")
}

func groupGrantsLabel(a *acl.ACL) string {
	var grants []string
	for _, g := range a.Grants {
		if g.Grantee.Type == acl.GranteeTypeGroup {
			grants = append(grants, groupName(g.Grantee.URI)+":"+string(g.Permission))
		}
	}
	return grantList(grants)
}

func sdkGroupGrantsLabel(grants []types.Grant) string {
	var out []string
	for _, g := range grants {
		if g.Grantee == nil || g.Grantee.Type != types.TypeGroup {
			continue
		}
		out = append(out, groupName(aws.ToString(g.Grantee.URI))+":"+string(g.Permission))
	}
	return grantList(out)
}

func grantList(grants []string) string {
	if len(grants) == 0 {
		return "none"
	}
	sort.Strings(grants)
	return strings.Join(grants, ",")
}

func groupName(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}
