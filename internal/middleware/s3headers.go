package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// S3Headers adds S3-compatible headers to every response, including auth
// failures that return before reaching a handler. The request id is also
// stored in the request context.
func S3Headers(server string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := generateRequestID()

			h := w.Header()
			h.Set("X-Amz-Request-Id", requestID)
			h.Set("X-Amz-Id-2", generateHostID())
			h.Set("Server", server)
			h.Set("Accept-Ranges", "bytes")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Add("Vary", "Origin")

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID returns the id S3Headers assigned to the request
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// generateRequestID generates a 16 character hex request ID
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b))
}

// generateHostID generates a 64 character hex host ID
func generateHostID() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
