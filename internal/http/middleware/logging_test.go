package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if c.GetString(requestIDKey) == "" {
			t.Fatalf("requestID not set in context")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	r.ServeHTTP(w2, req)
	if got := w2.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestRecovery_AfterWriteOnlyAborts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogger(t)

	r := gin.New()
	r.Use(Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status already written, got %d", w.Code)
	}
	if w.Body.String() != "partial" {
		t.Fatalf("body should be untouched, got %q", w.Body.String())
	}
}

func TestLoggerFrom_FallsBackToGlobal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	LoggerFrom(c).Info().Msg("global")
	if !strings.Contains(buf.String(), `"message":"global"`) {
		t.Fatalf("expected global logger output, got %s", buf.String())
	}

	scoped := zerolog.New(buf).With().Str("scope", "req").Logger()
	c.Set(loggerKey, &scoped)
	buf.Reset()
	LoggerFrom(c).Info().Msg("scoped")
	if !strings.Contains(buf.String(), `"scope":"req"`) {
		t.Fatalf("expected scoped logger output, got %s", buf.String())
	}
}

func TestIdentity_AndRequireIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity())
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.GET("/closed", RequireIdentity(), func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"open without header", "/open", "", http.StatusOK, ""},
		{"open trims", "/open", "  u-1 ", http.StatusOK, "u-1"},
		{"closed with header", "/closed", "u-2", http.StatusOK, "u-2"},
		{"closed without header", "/closed", "", http.StatusUnauthorized, ""},
		{"closed with oversized header", "/closed", strings.Repeat("x", maxUserIDLen+1), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
			if tc.status == http.StatusOK && w.Body.String() != tc.body {
				t.Fatalf("body = %q; want %q", w.Body.String(), tc.body)
			}
			if tc.status == http.StatusUnauthorized {
				var env map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if env["code"] != "unauthorized" || env["request_id"] == "" {
					t.Fatalf("unexpected envelope: %v", env)
				}
			}
		})
	}
}
