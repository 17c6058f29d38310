package middleware

import (
	"net/http"

	"github.com/assetguard/assetguard/internal/bucket"
)

// CORSRulesFunc returns the CORS rules that apply to a request, or nil
type CORSRulesFunc func(r *http.Request) *bucket.CORSConfig

// CORS adds response headers to actual (non-preflight) cross-origin
// requests whose origin and method match a bucket rule, and Vary to every
// cross-origin request on a bucket with CORS rules. Preflight OPTIONS
// requests are answered by the bucket handler, not here.
func CORS(rules CORSRulesFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && r.Method != http.MethodOptions {
				if cfg := rules(r); cfg != nil {
					w.Header().Add("Vary", bucket.CORSVary)
					if res := cfg.Actual(origin, r.Method); res != nil {
						for k, v := range res.Headers(false) {
							w.Header().Set(k, v)
						}
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
