package bucket

import (
	"strconv"
	"strings"
)

// CORSVary lists the request headers a CORS response depends on. Caches
// must not reuse a response across origins.
const CORSVary = "Origin, Access-Control-Request-Headers, Access-Control-Request-Method"

// CORSResult carries the headers to send for a matched CORS request
type CORSResult struct {
	AllowOrigin   string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAgeSeconds *int
}

// Headers returns the Access-Control-* response headers. Preflight
// responses carry methods, headers and max age; actual responses only
// origin and expose headers.
func (r *CORSResult) Headers(preflight bool) map[string]string {
	h := map[string]string{
		"Access-Control-Allow-Origin": r.AllowOrigin,
	}
	if r.AllowOrigin != "*" {
		h["Access-Control-Allow-Credentials"] = "true"
	}
	if len(r.ExposeHeaders) > 0 {
		h["Access-Control-Expose-Headers"] = strings.Join(r.ExposeHeaders, ", ")
	}
	if preflight {
		h["Access-Control-Allow-Methods"] = strings.Join(r.AllowMethods, ", ")
		if len(r.AllowHeaders) > 0 {
			h["Access-Control-Allow-Headers"] = strings.Join(r.AllowHeaders, ", ")
		}
		if r.MaxAgeSeconds != nil {
			h["Access-Control-Max-Age"] = strconv.Itoa(*r.MaxAgeSeconds)
		}
	}
	return h
}

// Preflight finds the first rule that permits origin to send method with
// the requested headers. It returns nil when no rule matches, which S3
// answers with 403.
func (c *CORSConfig) Preflight(origin, method string, requestHeaders []string) *CORSResult {
	if c == nil || origin == "" || method == "" {
		return nil
	}

	for _, rule := range c.CORSRules {
		allowOrigin, ok := rule.matchOrigin(origin)
		if !ok || !rule.allowsMethod(method) {
			continue
		}
		if !rule.allowsHeaders(requestHeaders) {
			continue
		}

		var allowHeaders []string
		for _, h := range requestHeaders {
			if h = strings.TrimSpace(h); h != "" {
				allowHeaders = append(allowHeaders, strings.ToLower(h))
			}
		}
		return &CORSResult{
			AllowOrigin:   allowOrigin,
			AllowMethods:  rule.AllowedMethods,
			AllowHeaders:  allowHeaders,
			ExposeHeaders: rule.ExposeHeaders,
			MaxAgeSeconds: rule.MaxAgeSeconds,
		}
	}
	return nil
}

// Actual finds the rule governing a non-preflight cross-origin request
func (c *CORSConfig) Actual(origin, method string) *CORSResult {
	return c.Preflight(origin, method, nil)
}

// ParseRequestHeaders splits an Access-Control-Request-Headers value
func ParseRequestHeaders(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchOrigin returns the Allow-Origin value to echo back
func (r CORSRule) matchOrigin(origin string) (string, bool) {
	for _, allowed := range r.AllowedOrigins {
		if allowed == "*" {
			return "*", true
		}
		if matchOneWildcard(strings.ToLower(allowed), strings.ToLower(origin)) {
			return origin, true
		}
	}
	return "", false
}

func (r CORSRule) allowsMethod(method string) bool {
	for _, m := range r.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// allowsHeaders requires every requested header to match an allowed header
func (r CORSRule) allowsHeaders(requested []string) bool {
	for _, h := range requested {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		matched := false
		for _, allowed := range r.AllowedHeaders {
			if matchOneWildcard(strings.ToLower(allowed), h) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// matchOneWildcard matches patterns with at most one '*'
func matchOneWildcard(pattern, s string) bool {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern == s
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return len(s) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(s, prefix) &&
		strings.HasSuffix(s, suffix)
}
