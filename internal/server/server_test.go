package server_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/server"
	"github.com/assetguard/assetguard/internal/server/servertest"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %v", err)
	return apiErr.ErrorCode()
}

func putObject(t *testing.T, client *s3.Client, key, body string) {
	t.Helper()
	_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(servertest.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("image/png"),
	})
	require.NoError(t, err)
}

func objectURL(e *servertest.Emulator, key string) string {
	return e.URL() + "/" + servertest.Bucket + "/" + key
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := servertest.Config(t)
	cfg.Credentials.Backend = config.AccessKeyConfig{}
	_, err := server.New(cfg)
	assert.Error(t, err)
}

func TestNew_SettingsAreImmutable(t *testing.T) {
	cfg := servertest.Config(t)
	srv, err := server.New(cfg)
	require.NoError(t, err)
	srv.Close()

	srv, err = server.New(cfg)
	require.NoError(t, err, "same settings reopen")
	srv.Close()

	cfg.Bucket.AppOrigin = "https://other.example.com"
	_, err = server.New(cfg)
	assert.Error(t, err)
}

func TestEmulator_BucketConfiguration(t *testing.T) {
	e := servertest.Start(t)
	ctx := context.Background()
	auditor := e.Client(servertest.Auditor)
	bucket := aws.String(servertest.Bucket)

	versioning, err := auditor.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: bucket})
	require.NoError(t, err)
	assert.Empty(t, versioning.Status)

	cors, err := auditor.GetBucketCors(ctx, &s3.GetBucketCorsInput{Bucket: bucket})
	require.NoError(t, err)
	require.Len(t, cors.CORSRules, 1)
	assert.Equal(t, []string{servertest.AppOrigin}, cors.CORSRules[0].AllowedOrigins)
	assert.ElementsMatch(t, []string{"GET", "HEAD", "PUT"}, cors.CORSRules[0].AllowedMethods)
	assert.Equal(t, int32(3000), aws.ToInt32(cors.CORSRules[0].MaxAgeSeconds))

	bucketACL, err := auditor.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: bucket})
	require.NoError(t, err)
	publicRead := false
	for _, g := range bucketACL.Grants {
		if g.Grantee != nil && aws.ToString(g.Grantee.URI) == "http://acs.amazonaws.com/groups/global/AllUsers" && g.Permission == types.PermissionRead {
			publicRead = true
		}
	}
	assert.True(t, publicRead, "bucket ACL grants AllUsers READ")

	ownership, err := auditor.GetBucketOwnershipControls(ctx, &s3.GetBucketOwnershipControlsInput{Bucket: bucket})
	require.NoError(t, err)
	require.Len(t, ownership.OwnershipControls.Rules, 1)
	assert.Equal(t, types.ObjectOwnershipBucketOwnerPreferred, ownership.OwnershipControls.Rules[0].ObjectOwnership)

	pab, err := auditor.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: bucket})
	require.NoError(t, err)
	assert.False(t, aws.ToBool(pab.PublicAccessBlockConfiguration.BlockPublicAcls))
	assert.False(t, aws.ToBool(pab.PublicAccessBlockConfiguration.IgnorePublicAcls))
	assert.False(t, aws.ToBool(pab.PublicAccessBlockConfiguration.BlockPublicPolicy))
	assert.False(t, aws.ToBool(pab.PublicAccessBlockConfiguration.RestrictPublicBuckets))
}

func TestEmulator_BucketConfigurationNeedsAuditor(t *testing.T) {
	e := servertest.Start(t)
	_, err := e.Client(servertest.App).GetBucketCors(context.Background(), &s3.GetBucketCorsInput{Bucket: aws.String(servertest.Bucket)})
	assert.Equal(t, "AccessDenied", errorCode(t, err))
}

func TestEmulator_PublicRead(t *testing.T) {
	e := servertest.Start(t)
	putObject(t, e.Client(servertest.App), "tenant-1/logo.png", "png-bytes")

	req, err := http.NewRequest(http.MethodGet, objectURL(e, "tenant-1/logo.png"), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", servertest.AppOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.NotEmpty(t, resp.Header.Get("X-Amz-Request-Id"))
	assert.Equal(t, servertest.AppOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "ETag")

	head, err := http.Head(objectURL(e, "tenant-1/logo.png"))
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, "9", head.Header.Get("Content-Length"))
}

func TestEmulator_PrivateObjectIsNotPublic(t *testing.T) {
	e := servertest.Start(t)
	_, err := e.Client(servertest.Backend).PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/secret.png"),
		Body:   bytes.NewReader([]byte("x")),
		ACL:    types.ObjectCannedACLPrivate,
	})
	require.NoError(t, err)

	resp, err := http.Get(objectURL(e, "tenant-1/secret.png"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEmulator_MissingObject(t *testing.T) {
	e := servertest.Start(t)

	_, err := e.Client(servertest.Backend).GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/missing.png"),
	})
	assert.Equal(t, "NoSuchKey", errorCode(t, err))

	// public-read lets anyone list, so anonymous callers see NoSuchKey too
	resp, err := http.Get(objectURL(e, "tenant-1/missing.png"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = e.Client(servertest.Backend).GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String("other-bucket"),
		Key:    aws.String("tenant-1/missing.png"),
	})
	assert.Equal(t, "NoSuchBucket", errorCode(t, err))
}

func TestEmulator_PutObjectAclDeny(t *testing.T) {
	e := servertest.Start(t)
	ctx := context.Background()
	app := e.Client(servertest.App)
	backend := e.Client(servertest.Backend)

	for _, key := range []string{"tenant-1/page.html", "tenant-1/logo.png"} {
		_, err := backend.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(servertest.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader([]byte("x")),
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		client   *s3.Client
		key      string
		wantCode string
	}{
		{"app on html", app, "tenant-1/page.html", "AccessDenied"},
		{"app on png", app, "tenant-1/logo.png", ""},
		{"backend on html", backend, "tenant-1/page.html", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
				Bucket: aws.String(servertest.Bucket),
				Key:    aws.String(tt.key),
				ACL:    types.ObjectCannedACLPublicRead,
			})
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, errorCode(t, err))
		})
	}
}

func TestEmulator_PutObjectWithACLHeaderNeedsPutObjectAcl(t *testing.T) {
	e := servertest.Start(t)
	ctx := context.Background()

	_, err := e.Client(servertest.App).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/page.html"),
		Body:   bytes.NewReader([]byte("<html>")),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	assert.Equal(t, "AccessDenied", errorCode(t, err))

	_, err = e.Client(servertest.App).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/logo.gif"),
		Body:   bytes.NewReader([]byte("gif")),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	assert.NoError(t, err)
}

func TestEmulator_GetObjectAcl(t *testing.T) {
	e := servertest.Start(t)
	putObject(t, e.Client(servertest.App), "tenant-1/logo.png", "x")

	out, err := e.Client(servertest.App).GetObjectAcl(context.Background(), &s3.GetObjectAclInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/logo.png"),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Owner)
	assert.Equal(t, sigv4.PrincipalApp, aws.ToString(out.Owner.ID), "BucketOwnerPreferred keeps the writer as owner")
	assert.GreaterOrEqual(t, len(out.Grants), 2)
}

func TestEmulator_InvalidKey(t *testing.T) {
	e := servertest.Start(t)
	_, err := e.Client(servertest.App).PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/nested/logo.png"),
		Body:   bytes.NewReader([]byte("x")),
	})
	assert.Equal(t, "InvalidArgument", errorCode(t, err))
}

func TestEmulator_AnonymousWriteDenied(t *testing.T) {
	e := servertest.Start(t)

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, objectURL(e, "tenant-1/logo.png"), strings.NewReader("x"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, method)
	}
}

func TestEmulator_DeleteObject(t *testing.T) {
	e := servertest.Start(t)
	ctx := context.Background()
	putObject(t, e.Client(servertest.App), "tenant-1/logo.png", "x")

	_, err := e.Client(servertest.App).DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/logo.png"),
	})
	assert.Equal(t, "AccessDenied", errorCode(t, err), "the app credential cannot delete")

	backend := e.Client(servertest.Backend)
	for i := 0; i < 2; i++ {
		_, err = backend.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(servertest.Bucket),
			Key:    aws.String("tenant-1/logo.png"),
		})
		require.NoError(t, err, "delete is idempotent")
	}

	resp, err := http.Get(objectURL(e, "tenant-1/logo.png"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmulator_ListObjectsAndVersions(t *testing.T) {
	e := servertest.Start(t)
	ctx := context.Background()
	app := e.Client(servertest.App)
	for _, key := range []string{"tenant-1/a.png", "tenant-1/b.png", "tenant-2/c.jpg"} {
		putObject(t, app, key, "x")
	}
	putObject(t, app, "tenant-1/a.png", "overwritten")

	list, err := e.Client(servertest.Backend).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(servertest.Bucket),
		Prefix: aws.String("tenant-1/"),
	})
	require.NoError(t, err)
	require.Len(t, list.Contents, 2)
	assert.Equal(t, "tenant-1/a.png", aws.ToString(list.Contents[0].Key))
	assert.Equal(t, int64(len("overwritten")), aws.ToInt64(list.Contents[0].Size))

	page, err := e.Client(servertest.Backend).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(servertest.Bucket),
		MaxKeys: aws.Int32(2),
	})
	require.NoError(t, err)
	assert.True(t, aws.ToBool(page.IsTruncated))
	require.NotNil(t, page.NextContinuationToken)

	rest, err := e.Client(servertest.Backend).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:            aws.String(servertest.Bucket),
		ContinuationToken: page.NextContinuationToken,
	})
	require.NoError(t, err)
	require.Len(t, rest.Contents, 1)
	assert.Equal(t, "tenant-2/c.jpg", aws.ToString(rest.Contents[0].Key))

	delimited, err := e.Client(servertest.Backend).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(servertest.Bucket),
		Delimiter: aws.String("/"),
	})
	require.NoError(t, err)
	assert.Empty(t, delimited.Contents)
	require.Len(t, delimited.CommonPrefixes, 2)
	assert.Equal(t, "tenant-1/", aws.ToString(delimited.CommonPrefixes[0].Prefix))

	versions, err := e.Client(servertest.Auditor).ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket: aws.String(servertest.Bucket),
	})
	require.NoError(t, err)
	require.Len(t, versions.Versions, 3, "overwrites keep a single version")
	for _, v := range versions.Versions {
		assert.Equal(t, "null", aws.ToString(v.VersionId))
		assert.True(t, aws.ToBool(v.IsLatest))
	}
}

func TestEmulator_PresignedPutIsSingleUse(t *testing.T) {
	e := servertest.Start(t)
	p, err := presigned.New(presigned.Options{
		Endpoint:    e.URL(),
		Region:      servertest.Region,
		Bucket:      servertest.Bucket,
		Credentials: credentials.NewStaticCredentialsProvider(servertest.App.AccessKey, servertest.App.SecretKey, ""),
	})
	require.NoError(t, err)

	u, err := p.PresignPut(context.Background(), presigned.PutParams{
		Key:         "tenant-1/upload.png",
		ContentType: "image/png",
		Expires:     5 * time.Minute,
	})
	require.NoError(t, err)

	put := func() *http.Response {
		req, err := http.NewRequest(u.Method, u.URL, strings.NewReader("png"))
		require.NoError(t, err)
		for k, v := range u.SignedHeader {
			if !strings.EqualFold(k, "host") {
				req.Header[k] = v
			}
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusOK, put().StatusCode)
	assert.Equal(t, http.StatusForbidden, put().StatusCode, "replay is rejected")

	resp, err := http.Get(objectURL(e, "tenant-1/upload.png"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "pre-signed uploads get the public-read default")
}

func TestEmulator_PresignedPutExpired(t *testing.T) {
	e := servertest.Start(t)

	req, err := http.NewRequest(http.MethodPut, objectURL(e, "tenant-1/late.png"), nil)
	require.NoError(t, err)
	q := req.URL.Query()
	q.Set("X-Amz-Expires", "900")
	req.URL.RawQuery = q.Encode()

	signer := v4.NewSigner(func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true })
	signedAt := time.Now().Add(-20 * time.Minute)
	uri, _, err := signer.PresignHTTP(context.Background(), servertest.Credential(servertest.App, sigv4.PrincipalApp).AWS(),
		req, "UNSIGNED-PAYLOAD", "s3", servertest.Region, signedAt)
	require.NoError(t, err)

	put, err := http.NewRequest(http.MethodPut, uri, strings.NewReader("png"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(put)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "Request has expired")
}

func TestEmulator_PayloadHashMismatch(t *testing.T) {
	e := servertest.Start(t)

	req, err := http.NewRequest(http.MethodPut, objectURL(e, "tenant-1/logo.png"), strings.NewReader("actual body"))
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("declared body"))
	hash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", hash)

	signer := v4.NewSigner(func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true })
	require.NoError(t, signer.SignHTTP(context.Background(), servertest.Credential(servertest.App, sigv4.PrincipalApp).AWS(),
		req, hash, "s3", servertest.Region, time.Now()))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "XAmzContentSHA256Mismatch")

	head, err := http.Head(objectURL(e, "tenant-1/logo.png"))
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusNotFound, head.StatusCode, "the write was discarded")
}

func TestEmulator_BadSignature(t *testing.T) {
	e := servertest.Start(t)
	wrong := servertest.App
	wrong.SecretKey = "not-the-secret"

	_, err := e.Client(wrong).PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(servertest.Bucket),
		Key:    aws.String("tenant-1/logo.png"),
		Body:   bytes.NewReader([]byte("x")),
	})
	assert.Equal(t, "SignatureDoesNotMatch", errorCode(t, err))

	unknown := config.AccessKeyConfig{AccessKey: "AKIANOBODY", SecretKey: "x"}
	_, err = e.Client(unknown).ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{Bucket: aws.String(servertest.Bucket)})
	assert.Equal(t, "InvalidAccessKeyId", errorCode(t, err))
}

func TestEmulator_CORSPreflight(t *testing.T) {
	e := servertest.Start(t)

	preflight := func(origin, method string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, objectURL(e, "tenant-1/logo.png"), nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", method)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	for _, method := range []string{"GET", "HEAD", "PUT"} {
		resp := preflight(servertest.AppOrigin, method)
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
		assert.Equal(t, servertest.AppOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, HEAD, PUT", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "3000", resp.Header.Get("Access-Control-Max-Age"))
	}

	denied := []struct{ origin, method string }{
		{"https://evil.example.com", "GET"},
		{servertest.AppOrigin, "DELETE"},
	}
	for _, d := range denied {
		resp := preflight(d.origin, d.method)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestEmulator_ServiceEndpoints(t *testing.T) {
	e := servertest.Start(t)
	putObject(t, e.Client(servertest.App), "tenant-1/logo.png", "x")

	resp, err := http.Get(e.URL() + "/health")
	require.NoError(t, err)
	var health struct {
		Status string `json:"status"`
		Disk   *struct {
			TotalBytes uint64 `json:"total_bytes"`
		} `json:"disk"`
		Requests *struct {
			TotalRequests uint64 `json:"total_requests"`
		} `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.Requests)
	assert.GreaterOrEqual(t, health.Requests.TotalRequests, uint64(1))

	resp, err = http.Get(e.URL() + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.URL() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "assetguard_access_decisions_total")
	assert.Contains(t, string(body), "assetguard_http_requests_total")
}
