// Package sigv4 authenticates S3 requests signed with AWS Signature
// Version 4, either in the Authorization header or as a pre-signed URL.
package sigv4

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnknownAccessKey  = errors.New("unknown access key")
	ErrSignatureMismatch = errors.New("signature does not match")
	ErrTimestampSkew     = errors.New("timestamp skew too large")
	ErrExpired           = errors.New("request has expired")
	ErrNotYetValid       = errors.New("request is not yet valid")
	ErrExpiryTooLong     = errors.New("expiry exceeds seven days")
	ErrUnsupportedBody   = errors.New("unsupported payload signing mode")
)

const (
	algorithm       = "AWS4-HMAC-SHA256"
	amzDateFormat   = "20060102T150405Z"
	service         = "s3"
	unsignedPayload = "UNSIGNED-PAYLOAD"

	// StreamingUnsignedTrailer marks an aws-chunked body whose chunks are not
	// signed and whose checksum arrives in a trailer
	StreamingUnsignedTrailer = "STREAMING-UNSIGNED-PAYLOAD-TRAILER"

	// MaxPresignExpiry is the longest validity SigV4 allows
	MaxPresignExpiry = 7 * 24 * time.Hour

	// DefaultMaxSkew bounds clock drift for header-signed requests
	DefaultMaxSkew = 15 * time.Minute
)

// Query parameters written by the signer
const (
	QueryAlgorithm     = "X-Amz-Algorithm"
	QueryCredential    = "X-Amz-Credential"
	QueryDate          = "X-Amz-Date"
	QueryExpires       = "X-Amz-Expires"
	QuerySignedHeaders = "X-Amz-SignedHeaders"
	QuerySignature     = "X-Amz-Signature"
)

// Identity is the authenticated caller of a request
type Identity struct {
	Principal string
	AccessKey string
	Presigned bool
	Signature string
	SignedAt  time.Time
	ExpiresAt time.Time // zero for header-signed requests
}

// Verifier checks SigV4 signatures by re-signing the request with the
// SDK signer and comparing the results.
type Verifier struct {
	creds   *Registry
	region  string
	maxSkew time.Duration
	signer  *v4.Signer
	now     func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithMaxSkew overrides the allowed clock drift
func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) { v.maxSkew = d }
}

// NewVerifier creates a verifier. An empty region accepts any region
// named in the credential scope.
func NewVerifier(creds *Registry, region string, opts ...Option) *Verifier {
	v := &Verifier{
		creds:   creds,
		region:  region,
		maxSkew: DefaultMaxSkew,
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = true
			o.DisableHeaderHoisting = true
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// IsPresigned reports whether the request carries query authentication
func IsPresigned(r *http.Request) bool {
	return r.URL.Query().Get(QueryAlgorithm) != ""
}

// IsSigned reports whether the request carries any SigV4 material
func IsSigned(r *http.Request) bool {
	return IsPresigned(r) || strings.HasPrefix(r.Header.Get("Authorization"), algorithm)
}

// Verify authenticates r. Anonymous requests return ErrMissingSignature.
func (v *Verifier) Verify(r *http.Request) (*Identity, error) {
	if IsPresigned(r) {
		return v.verifyPresigned(r)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return v.verifyHeader(r, auth)
	}
	return nil, ErrMissingSignature
}

// scope is the parsed credential scope AK/date/region/service/aws4_request
type scope struct {
	accessKey string
	date      string
	region    string
}

func parseCredential(value string) (scope, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 5 || parts[4] != "aws4_request" || parts[3] != service {
		return scope{}, fmt.Errorf("%w: malformed credential scope", ErrInvalidSignature)
	}
	return scope{accessKey: parts[0], date: parts[1], region: parts[2]}, nil
}

func (v *Verifier) lookup(sc scope, signedAt time.Time) (Credential, error) {
	if v.region != "" && sc.region != v.region {
		return Credential{}, fmt.Errorf("%w: region %q does not match %q", ErrInvalidSignature, sc.region, v.region)
	}
	if sc.date != signedAt.Format("20060102") {
		return Credential{}, fmt.Errorf("%w: credential date does not match request date", ErrInvalidSignature)
	}
	cred, ok := v.creds.Lookup(sc.accessKey)
	if !ok {
		return Credential{}, ErrUnknownAccessKey
	}
	return cred, nil
}

func (v *Verifier) verifyHeader(r *http.Request, auth string) (*Identity, error) {
	if !strings.HasPrefix(auth, algorithm+" ") {
		return nil, fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidSignature)
	}

	var credential, signedHeaders, signature string
	for _, param := range strings.Split(strings.TrimPrefix(auth, algorithm+" "), ",") {
		kv := strings.SplitN(strings.TrimSpace(param), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "Credential":
			credential = kv[1]
		case "SignedHeaders":
			signedHeaders = kv[1]
		case "Signature":
			signature = kv[1]
		}
	}
	if credential == "" || signedHeaders == "" || signature == "" {
		return nil, fmt.Errorf("%w: incomplete authorization header", ErrInvalidSignature)
	}

	sc, err := parseCredential(credential)
	if err != nil {
		return nil, err
	}

	signedAt, err := time.Parse(amzDateFormat, r.Header.Get("X-Amz-Date"))
	if err != nil {
		return nil, fmt.Errorf("%w: missing or malformed X-Amz-Date", ErrInvalidSignature)
	}
	if d := v.now().Sub(signedAt); d > v.maxSkew || d < -v.maxSkew {
		return nil, ErrTimestampSkew
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		return nil, fmt.Errorf("%w: missing X-Amz-Content-Sha256", ErrInvalidSignature)
	}
	if strings.HasPrefix(payloadHash, "STREAMING-") && payloadHash != StreamingUnsignedTrailer {
		return nil, ErrUnsupportedBody
	}

	cred, err := v.lookup(sc, signedAt)
	if err != nil {
		return nil, err
	}

	req, err := rebuild(r, r.URL.Query(), signedHeaders)
	if err != nil {
		return nil, err
	}
	if err := v.signer.SignHTTP(r.Context(), cred.AWS(), req, payloadHash, service, sc.region, signedAt); err != nil {
		return nil, fmt.Errorf("failed to compute signature: %w", err)
	}

	expected := signatureFromAuthorization(req.Header.Get("Authorization"))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		logrus.WithFields(logrus.Fields{
			"access_key":     sc.accessKey,
			"signed_headers": signedHeaders,
		}).Debug("SigV4 header signature mismatch")
		return nil, ErrSignatureMismatch
	}

	return &Identity{
		Principal: cred.Principal,
		AccessKey: cred.AccessKey,
		Signature: signature,
		SignedAt:  signedAt,
	}, nil
}

func (v *Verifier) verifyPresigned(r *http.Request) (*Identity, error) {
	q := r.URL.Query()
	if q.Get(QueryAlgorithm) != algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrInvalidSignature)
	}

	signature := q.Get(QuerySignature)
	signedHeaders := q.Get(QuerySignedHeaders)
	if signature == "" || signedHeaders == "" {
		return nil, fmt.Errorf("%w: incomplete query signature", ErrInvalidSignature)
	}

	sc, err := parseCredential(q.Get(QueryCredential))
	if err != nil {
		return nil, err
	}

	signedAt, err := time.Parse(amzDateFormat, q.Get(QueryDate))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s", ErrInvalidSignature, QueryDate)
	}

	expiresSec, err := strconv.ParseInt(q.Get(QueryExpires), 10, 64)
	if err != nil || expiresSec <= 0 {
		return nil, fmt.Errorf("%w: malformed %s", ErrInvalidSignature, QueryExpires)
	}
	expiry := time.Duration(expiresSec) * time.Second
	if expiry > MaxPresignExpiry {
		return nil, ErrExpiryTooLong
	}

	now := v.now()
	expiresAt := signedAt.Add(expiry)
	if now.Before(signedAt.Add(-v.maxSkew)) {
		return nil, ErrNotYetValid
	}
	if !now.Before(expiresAt) {
		return nil, ErrExpired
	}

	cred, err := v.lookup(sc, signedAt)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, vals := range q {
		switch k {
		case QueryAlgorithm, QueryCredential, QueryDate, QuerySignedHeaders, QuerySignature:
			continue
		}
		query[k] = vals
	}

	req, err := rebuild(r, query, signedHeaders)
	if err != nil {
		return nil, err
	}
	signedURI, _, err := v.signer.PresignHTTP(context.WithoutCancel(r.Context()), cred.AWS(), req, unsignedPayload, service, sc.region, signedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to compute signature: %w", err)
	}
	u, err := url.Parse(signedURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed uri: %w", err)
	}

	if !hmac.Equal([]byte(u.Query().Get(QuerySignature)), []byte(signature)) {
		logrus.WithFields(logrus.Fields{
			"access_key":     sc.accessKey,
			"signed_headers": signedHeaders,
		}).Debug("SigV4 presigned signature mismatch")
		return nil, ErrSignatureMismatch
	}

	return &Identity{
		Principal: cred.Principal,
		AccessKey: cred.AccessKey,
		Presigned: true,
		Signature: signature,
		SignedAt:  signedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// rebuild copies the parts of r covered by the signature into a fresh
// client-side request the SDK signer can sign.
func rebuild(r *http.Request, query url.Values, signedHeaders string) (*http.Request, error) {
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	// Preserve the exact escaped path the client signed
	req.URL.Path = r.URL.Path
	req.URL.RawPath = r.URL.RawPath
	req.Host = r.Host

	hasHost := false
	for _, name := range strings.Split(signedHeaders, ";") {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "host":
			hasHost = true
		case "content-length":
			req.ContentLength = r.ContentLength
		default:
			values := r.Header.Values(name)
			if len(values) == 0 {
				return nil, fmt.Errorf("%w: signed header %q is missing", ErrInvalidSignature, name)
			}
			for _, val := range values {
				req.Header.Add(name, val)
			}
		}
	}
	if !hasHost {
		return nil, fmt.Errorf("%w: host must be a signed header", ErrInvalidSignature)
	}
	return req, nil
}

func signatureFromAuthorization(auth string) string {
	idx := strings.Index(auth, "Signature=")
	if idx < 0 {
		return ""
	}
	sig := auth[idx+len("Signature="):]
	if end := strings.IndexByte(sig, ','); end >= 0 {
		sig = sig[:end]
	}
	return strings.TrimSpace(sig)
}
