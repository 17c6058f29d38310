package bucket

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/assetguard/assetguard/internal/acl"
)

// S3 bucket naming rules
const (
	MinBucketNameLength = 3
	MaxBucketNameLength = 63
)

var (
	validBucketNameRegex     = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?$`)
	invalidConsecutiveDashes = regexp.MustCompile(`--`)
	ipAddressPattern         = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// ValidateBucketName validates bucket name according to S3 rules
func ValidateBucketName(name string) error {
	if name == "" {
		return ErrInvalidBucketName
	}

	if len(name) < MinBucketNameLength || len(name) > MaxBucketNameLength {
		return fmt.Errorf("%w: name must be between %d and %d characters",
			ErrInvalidBucketName, MinBucketNameLength, MaxBucketNameLength)
	}

	if !validBucketNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name must start and end with alphanumeric characters and contain only lowercase letters, numbers, and hyphens",
			ErrInvalidBucketName)
	}

	if invalidConsecutiveDashes.MatchString(name) {
		return fmt.Errorf("%w: name cannot contain consecutive dashes", ErrInvalidBucketName)
	}

	if ipAddressPattern.MatchString(name) {
		return fmt.Errorf("%w: name cannot be formatted as IP address", ErrInvalidBucketName)
	}

	if strings.HasPrefix(name, "xn--") {
		return fmt.Errorf("%w: name cannot start with 'xn--'", ErrInvalidBucketName)
	}

	if strings.HasSuffix(name, "-s3alias") {
		return fmt.Errorf("%w: name cannot end with '-s3alias'", ErrInvalidBucketName)
	}

	return nil
}

// ValidateCORSConfig validates a CORS configuration
func ValidateCORSConfig(config *CORSConfig) error {
	if config == nil || len(config.CORSRules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidCORS)
	}

	for i, rule := range config.CORSRules {
		if err := validateCORSRule(rule, i); err != nil {
			return err
		}
	}
	return nil
}

func validateCORSRule(rule CORSRule, index int) error {
	if len(rule.AllowedMethods) == 0 {
		return fmt.Errorf("%w: rule %d: must specify at least one allowed method", ErrInvalidCORS, index)
	}
	if len(rule.AllowedOrigins) == 0 {
		return fmt.Errorf("%w: rule %d: must specify at least one allowed origin", ErrInvalidCORS, index)
	}

	validMethods := map[string]bool{
		"GET": true, "PUT": true, "POST": true, "DELETE": true, "HEAD": true,
	}
	for _, method := range rule.AllowedMethods {
		if !validMethods[method] {
			return fmt.Errorf("%w: rule %d: invalid method '%s'", ErrInvalidCORS, index, method)
		}
	}

	for _, origin := range rule.AllowedOrigins {
		if strings.Count(origin, "*") > 1 {
			return fmt.Errorf("%w: rule %d: origin %q may contain at most one wildcard", ErrInvalidCORS, index, origin)
		}
	}
	for _, h := range rule.AllowedHeaders {
		if strings.Count(h, "*") > 1 {
			return fmt.Errorf("%w: rule %d: header %q may contain at most one wildcard", ErrInvalidCORS, index, h)
		}
	}

	if rule.MaxAgeSeconds != nil && *rule.MaxAgeSeconds < 0 {
		return fmt.Errorf("%w: rule %d: max age cannot be negative", ErrInvalidCORS, index)
	}
	return nil
}

// ValidateVersioningConfig rejects any status other than never-enabled
func ValidateVersioningConfig(config VersioningConfig) error {
	switch config.Status {
	case VersioningNeverEnabled:
		return nil
	case VersioningEnabled, VersioningSuspended:
		return fmt.Errorf("%w: status is %q", ErrVersioningEnabled, config.Status)
	default:
		return fmt.Errorf("%w: unknown versioning status %q", ErrInvalidSettings, config.Status)
	}
}

// Validate checks the settings as a whole
func (s Settings) Validate() error {
	var errs []error

	if err := ValidateBucketName(s.Name); err != nil {
		errs = append(errs, err)
	}
	if s.Owner.ID == "" {
		errs = append(errs, fmt.Errorf("%w: owner is required", ErrInvalidSettings))
	}
	if !s.Ownership.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", acl.ErrInvalidOwnership, s.Ownership))
	}
	if !acl.IsValidCannedACL(s.CannedACL) {
		errs = append(errs, fmt.Errorf("%w: %q", acl.ErrInvalidCannedACL, s.CannedACL))
	}
	if s.CannedACL != acl.CannedACLPrivate && s.CannedACL != acl.CannedACLBucketOwnerFullControl && !s.Ownership.ACLsEnabled() {
		errs = append(errs, fmt.Errorf("%w: canned ACL %q requires ACLs to be enabled", acl.ErrACLsDisabled, s.CannedACL))
	}
	if err := ValidateCORSConfig(&s.CORS); err != nil {
		errs = append(errs, err)
	}
	for _, rule := range s.CORS.CORSRules {
		for _, origin := range rule.AllowedOrigins {
			if origin == "*" {
				continue
			}
			if u, err := url.Parse(strings.Replace(origin, "*", "x", 1)); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%w: origin %q is not scheme://host", ErrInvalidCORS, origin))
			}
		}
	}
	if err := ValidateVersioningConfig(s.Versioning); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
