package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTokenBucketRefills(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.allow("ip") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.allow("ip") {
		t.Fatalf("bucket should be empty")
	}
	if !l.allow("other") {
		t.Fatalf("keys must not share a bucket")
	}
	now = now.Add(time.Second)
	if !l.allow("ip") {
		t.Fatalf("expected one token after a second at 60/min")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("redis down") }

func serve(h ...gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(h, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewSimpleTokenBucket(1, 1)
	mw := RateLimit(l, nil)
	if w := serve(mw); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := serve(mw)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second request: %d %v", w.Code, w.Header())
	}
	if w := serve(RateLimit(errLimiter{}, nil)); w.Code != http.StatusOK {
		t.Fatalf("limiter errors should fail open, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders())
	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing headers: %v", w.Header())
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be set outside release mode")
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	serve(RequestLogger(logger))
	if logs.Len() != 1 {
		t.Fatalf("expected one log line, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["status"] != int64(200) || entry.ContextMap()["path"] != "/x" {
		t.Fatalf("unexpected fields %v", entry.ContextMap())
	}

	core, logs = observer.New(zap.InfoLevel)
	serve(RequestLogger(zap.New(core), "/x"))
	if logs.Len() != 0 {
		t.Fatalf("skipped path was logged")
	}
}
