package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	out, formatter := logrus.StandardLogger().Out, logrus.StandardLogger().Formatter
	logrus.SetOutput(&buf)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	t.Cleanup(func() {
		logrus.SetOutput(out)
		logrus.SetFormatter(formatter)
	})

	handler := S3Headers("assetguard")(Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/notify-assets/t/a.txt", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "denied", rec.Body.String())
	assert.Contains(t, buf.String(), `"status":403`)
	assert.Contains(t, buf.String(), `"level":"warning"`)
	assert.Contains(t, buf.String(), rec.Header().Get("X-Amz-Request-Id"))
}

func TestResponseWriterWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriterWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, wrapped.statusCode)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestS3Headers(t *testing.T) {
	var seen string
	handler := S3Headers("assetguard")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	id := rec.Header().Get("X-Amz-Request-Id")
	assert.Len(t, id, 16)
	assert.Equal(t, id, seen)
	assert.Len(t, rec.Header().Get("X-Amz-Id-2"), 64)
	assert.Equal(t, "assetguard", rec.Header().Get("Server"))

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))
	assert.NotEqual(t, id, rec2.Header().Get("X-Amz-Request-Id"))
}

func TestRequestID_Missing(t *testing.T) {
	assert.Empty(t, RequestID(httptest.NewRequest("GET", "/", nil).Context()))
}

func TestCORS(t *testing.T) {
	settings := bucket.AssetBucket(bucket.Options{Name: "notify-assets", AppOrigin: "https://app.example.com"})
	rules := func(r *http.Request) *bucket.CORSConfig { return &settings.CORS }

	handler := CORS(rules)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		method string
		origin string
		allow  string
		vary   bool
	}{
		{"matching origin", http.MethodGet, "https://app.example.com", "https://app.example.com", true},
		{"matching put", http.MethodPut, "https://app.example.com", "https://app.example.com", true},
		{"other origin", http.MethodGet, "https://evil.example.com", "", true},
		{"method not allowed", http.MethodDelete, "https://app.example.com", "", true},
		{"no origin", http.MethodGet, "", "", false},
		{"preflight untouched", http.MethodOptions, "https://app.example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/notify-assets/t/a.png", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.vary {
				assert.Equal(t, bucket.CORSVary, rec.Header().Get("Vary"))
			} else {
				assert.Empty(t, rec.Header().Get("Vary"))
			}
			if tt.allow != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "ETag")
				assert.Empty(t, rec.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORS_NoRules(t *testing.T) {
	handler := CORS(func(*http.Request) *bucket.CORSConfig { return nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Vary"))
}
