package compliance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/assetguard/assetguard/internal/objectkey"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// nonImageExtensions are probed for the ACL deny rule. The empty extension
// covers keys without a suffix.
var nonImageExtensions = []string{".html", ".svg", ".js", ""}

// foreignOrigin is used for the negative CORS probe
const foreignOrigin = "https://assetguard-probe.invalid"

var probeBody = []byte("assetguard compliance probe")

// checkObjectPrefix starts the object id of every object the checker
// writes, so sampling can tell them apart from tenant uploads
const checkObjectPrefix = "assetguard-check-"

// checkPublicRead fetches a sample of listed objects without credentials
func (c *Checker) checkPublicRead(ctx context.Context) Result {
	keys, err := c.sampleKeys(ctx)
	if err != nil {
		return fail("failed to list objects", err.Error())
	}
	if len(keys) == 0 {
		return skip("bucket has no objects to sample")
	}

	var denied []string
	for _, key := range keys {
		out, err := c.anonymous.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.opts.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			denied = append(denied, fmt.Sprintf("%s: %s", key, describe(err)))
			continue
		}
		io.Copy(io.Discard, out.Body)
		out.Body.Close()
	}

	if len(denied) > 0 {
		return fail(fmt.Sprintf("%d of %d objects are not publicly readable", len(denied), len(keys)), denied...)
	}
	return pass(fmt.Sprintf("%d objects readable without credentials", len(keys)))
}

// sampleKeys lists up to SampleLimit keys, leaving out the checker's own
// objects
func (c *Checker) sampleKeys(ctx context.Context) ([]string, error) {
	var keys []string

	p := s3.NewListObjectsV2Paginator(c.backend, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.opts.Bucket),
	})
	for p.HasMorePages() && len(keys) < c.opts.SampleLimit {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if isCheckObject(key) {
				continue
			}
			keys = append(keys, key)
			if len(keys) == c.opts.SampleLimit {
				break
			}
		}
	}
	return keys, nil
}

// checkACLDeny has the app credential make probe objects public. Only keys
// ending in the lowercase or uppercase spelling of an image extension may
// succeed; mixed-case spellings must be denied like any other key.
func (c *Checker) checkACLDeny(ctx context.Context) Result {
	var problems, details []string

	probe := func(ext string) {
		key, err := c.putProbe(ctx, ext)
		if err != nil {
			problems = append(problems, fmt.Sprintf("failed to write probe %q: %s", ext, describe(err)))
			return
		}
		defer c.deleteProbe(ctx, key)
		wantAllowed := objectkey.HasExtension(key, c.opts.ImageExtensions)

		_, err = c.app.PutObjectAcl(ctx, &s3.PutObjectAclInput{
			Bucket: aws.String(c.opts.Bucket),
			Key:    aws.String(key),
			ACL:    types.ObjectCannedACLPublicRead,
		})
		switch {
		case wantAllowed && err == nil, !wantAllowed && isAccessDenied(err):
			details = append(details, fmt.Sprintf("%s: allowed=%t as expected", key, wantAllowed))
		case wantAllowed:
			problems = append(problems, fmt.Sprintf("%s: image key rejected: %s", key, describe(err)))
		case err == nil:
			problems = append(problems, fmt.Sprintf("%s: app credential changed the ACL of a non-image key", key))
		default:
			problems = append(problems, fmt.Sprintf("%s: expected AccessDenied, got %s", key, describe(err)))
		}
	}

	for _, ext := range nonImageExtensions {
		probe(ext)
	}
	for _, ext := range c.opts.ImageExtensions {
		for _, spelling := range extensionSpellings(ext) {
			probe(spelling)
		}
	}

	if len(problems) > 0 {
		return fail("PutObjectAcl deny rule does not hold", problems...)
	}
	return pass(details...)
}

// checkPresignExpiry issues a live URL and a back-dated one. The live URL
// must work once; the expired one must be rejected.
func (c *Checker) checkPresignExpiry(ctx context.Context) Result {
	var problems, details []string

	key, err := c.checkKey(".png")
	if err != nil {
		return fail("failed to build probe key", err.Error())
	}
	defer c.deleteProbe(ctx, key)

	live, err := c.presigner.PresignPut(ctx, presigned.PutParams{Key: key, Expires: c.opts.PresignExpiry})
	if err != nil {
		return fail("failed to presign probe upload", err.Error())
	}

	status, err := c.sendPresigned(ctx, live)
	switch {
	case err != nil:
		return fail("pre-signed PUT failed", err.Error())
	case status/100 != 2:
		problems = append(problems, fmt.Sprintf("unexpired URL rejected with status %d", status))
	default:
		details = append(details, "unexpired URL accepted")

		status, err = c.sendPresigned(ctx, live)
		switch {
		case err != nil:
			problems = append(problems, "replay failed: "+err.Error())
		case status/100 == 2 && c.opts.ExpectSingleUse:
			problems = append(problems, "replayed URL accepted")
		case status/100 == 2:
			details = append(details, "replayed URL accepted; the endpoint does not enforce single use")
		default:
			details = append(details, fmt.Sprintf("replayed URL rejected with status %d", status))
		}
	}

	expiredKey, err := c.checkKey(".png")
	if err != nil {
		return fail("failed to build probe key", err.Error())
	}
	defer c.deleteProbe(ctx, expiredKey)

	expired, err := c.presigner.PresignPut(ctx, presigned.PutParams{
		Key:      expiredKey,
		Expires:  c.opts.PresignExpiry,
		SignedAt: time.Now().Add(-c.opts.PresignExpiry - time.Minute),
	})
	if err != nil {
		return fail("failed to presign expired probe upload", err.Error())
	}

	status, err = c.sendPresigned(ctx, expired)
	switch {
	case err != nil:
		problems = append(problems, "expired PUT failed: "+err.Error())
	case status == http.StatusForbidden:
		details = append(details, "expired URL rejected")
	default:
		problems = append(problems, fmt.Sprintf("expired URL answered with status %d", status))
	}

	if len(problems) > 0 {
		return fail("pre-signed URLs are not time-bounded", problems...)
	}
	return pass(details...)
}

func (c *Checker) sendPresigned(ctx context.Context, u *presigned.URL) (int, error) {
	req, err := http.NewRequestWithContext(ctx, u.Method, u.URL, bytes.NewReader(probeBody))
	if err != nil {
		return 0, err
	}
	for k, v := range u.SignedHeader {
		if strings.EqualFold(k, "host") {
			continue
		}
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// checkCORS sends browser-style preflights from the app origin and from a
// foreign one
func (c *Checker) checkCORS(ctx context.Context) Result {
	if c.opts.AppOrigin == "" {
		return skip("no app origin configured")
	}

	target := c.objectURL(c.opts.ProbeTenant + "/" + checkObjectPrefix + "cors.png")
	var problems, details []string

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPut} {
		resp, err := c.preflight(ctx, target, c.opts.AppOrigin, method)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s preflight failed: %s", method, err))
			continue
		}
		allowOrigin := resp.Header.Get("Access-Control-Allow-Origin")
		allowMethods := resp.Header.Get("Access-Control-Allow-Methods")
		switch {
		case resp.StatusCode/100 != 2:
			problems = append(problems, fmt.Sprintf("%s preflight from app origin got status %d", method, resp.StatusCode))
		case allowOrigin != c.opts.AppOrigin:
			problems = append(problems, fmt.Sprintf("%s preflight allowed origin %q", method, allowOrigin))
		case !containsToken(allowMethods, method):
			problems = append(problems, fmt.Sprintf("%s preflight allowed methods %q", method, allowMethods))
		default:
			details = append(details, method+" allowed from app origin")
		}
	}

	resp, err := c.preflight(ctx, target, foreignOrigin, http.MethodGet)
	switch {
	case err != nil:
		problems = append(problems, "foreign preflight failed: "+err.Error())
	case resp.Header.Get("Access-Control-Allow-Origin") != "":
		problems = append(problems, fmt.Sprintf("foreign origin allowed as %q", resp.Header.Get("Access-Control-Allow-Origin")))
	default:
		details = append(details, fmt.Sprintf("foreign origin rejected with status %d", resp.StatusCode))
	}

	if len(problems) > 0 {
		return fail("CORS is not restricted to the app origin", problems...)
	}
	return pass(details...)
}

func (c *Checker) preflight(ctx context.Context, target, origin, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}

// checkNoVersions confirms versioning was never enabled and that no object
// has a version other than "null"
func (c *Checker) checkNoVersions(ctx context.Context) Result {
	out, err := c.auditor.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(c.opts.Bucket),
	})
	if isAccessDenied(err) {
		return skip("credential cannot read bucket versioning")
	}
	if err != nil {
		return fail("failed to read bucket versioning", describe(err))
	}
	if out.Status != "" {
		return fail("versioning has been enabled", "status: "+string(out.Status))
	}

	var problems []string
	seen := 0
	input := &s3.ListObjectVersionsInput{Bucket: aws.String(c.opts.Bucket)}
	for seen < c.opts.SampleLimit {
		page, err := c.auditor.ListObjectVersions(ctx, input)
		if isAccessDenied(err) {
			return skip("credential cannot list object versions")
		}
		if err != nil {
			return fail("failed to list object versions", describe(err))
		}

		for _, v := range page.Versions {
			seen++
			if id := aws.ToString(v.VersionId); id != "" && id != "null" {
				problems = append(problems, fmt.Sprintf("%s has version %s", aws.ToString(v.Key), id))
			}
		}
		for _, m := range page.DeleteMarkers {
			problems = append(problems, fmt.Sprintf("%s has a delete marker", aws.ToString(m.Key)))
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}

	if len(problems) > 0 {
		return fail("object history exists", problems...)
	}
	return pass(fmt.Sprintf("versioning never enabled; %d versions listed, all null", seen))
}

// checkKey returns a fresh key under the checker's tenant. ext keeps its
// spelling so case variants can be exercised.
func (c *Checker) checkKey(ext string) (string, error) {
	key, err := objectkey.Build(c.opts.ProbeTenant, checkObjectPrefix+objectkey.NewObjectID("")+ext)
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

func isCheckObject(key string) bool {
	k, err := objectkey.Parse(key)
	return err == nil && strings.HasPrefix(k.ObjectID, checkObjectPrefix)
}

// extensionSpellings returns the lowercase, uppercase and capitalized
// spellings of ext, without duplicates
func extensionSpellings(ext string) []string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	spellings := []string{ext}
	for _, s := range []string{strings.ToUpper(ext), capitalizeExtension(ext)} {
		if !slices.Contains(spellings, s) {
			spellings = append(spellings, s)
		}
	}
	return spellings
}

// capitalizeExtension turns ".png" into ".Png"
func capitalizeExtension(ext string) string {
	if len(ext) < 2 {
		return ext
	}
	return ext[:1] + strings.ToUpper(ext[1:2]) + ext[2:]
}

// putProbe writes a probe object with the backend credential
func (c *Checker) putProbe(ctx context.Context, ext string) (string, error) {
	key, err := c.checkKey(ext)
	if err != nil {
		return "", err
	}
	_, err = c.backend.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(probeBody),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (c *Checker) deleteProbe(ctx context.Context, key string) {
	_, err := c.backend.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Failed to delete compliance probe")
	}
}

func describe(err error) string {
	if code := errorCode(err); code != "" {
		return code
	}
	return err.Error()
}

func containsToken(list, token string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
