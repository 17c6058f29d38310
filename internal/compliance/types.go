// Package compliance verifies the asset bucket's access policy against a
// live S3-compatible endpoint.
package compliance

import (
	"errors"
	"time"
)

// Status is the outcome of a single property
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Property names
const (
	PropertyPublicRead    = "public-read"
	PropertyACLDeny       = "acl-deny"
	PropertyPresignExpiry = "presign-expiry"
	PropertyCORS          = "cors"
	PropertyNoVersions    = "no-versions"
)

// Properties lists every property in the order Run checks them
var Properties = []string{
	PropertyPublicRead,
	PropertyACLDeny,
	PropertyPresignExpiry,
	PropertyCORS,
	PropertyNoVersions,
}

var (
	ErrMissingBucket      = errors.New("bucket is required")
	ErrMissingCredentials = errors.New("app and backend credentials are required")
	ErrUnknownProperty    = errors.New("unknown property")
)

// Result is the outcome of one property
type Result struct {
	Property string        `json:"property" yaml:"property"`
	Status   Status        `json:"status" yaml:"status"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Details  []string      `json:"details,omitempty" yaml:"details,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Report is one run of the checker
type Report struct {
	ID         string    `json:"id" yaml:"id"`
	Endpoint   string    `json:"endpoint" yaml:"endpoint"`
	Bucket     string    `json:"bucket" yaml:"bucket"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Results    []Result  `json:"results" yaml:"results"`
}

// Passed reports whether no property failed. Skipped properties do not fail
// a run.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFail {
			return false
		}
	}
	return true
}

// Count returns how many results have status s
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Result returns the result for a property, if it ran
func (r *Report) Result(property string) (Result, bool) {
	for _, res := range r.Results {
		if res.Property == property {
			return res, true
		}
	}
	return Result{}, false
}

// Drift is one bucket setting whose live value differs from the model
type Drift struct {
	Setting  string `json:"setting" yaml:"setting"`
	Expected string `json:"expected" yaml:"expected"`
	Actual   string `json:"actual" yaml:"actual"`
}
