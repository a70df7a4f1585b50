package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func lastLine(t *testing.T, raw string) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRedactingLogger_ScrubsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Identity(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/conversations/:id/messages/search", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusOK)
	})

	q := "q=pizza+tonight&contact=a.b@example.com&ref=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages/search?"+q, nil)
	req.Header.Set(requestIDHeader, "rid-7")
	req.Header.Set(HeaderUserID, "u-9")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Note", "mail me at a@b.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	for _, leak := range []string{"pizza", "a.b@example.com", "123e4567", "secret", "shhh", "a@b.com"} {
		if strings.Contains(out, leak) {
			t.Fatalf("log leaked %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, `"message":"inside"`) || !strings.Contains(out, `"user_id":"u-9"`) {
		t.Fatalf("request-scoped logger missing fields: %s", out)
	}

	m := lastLine(t, out)
	if m["message"] != "http_request" || m["level"] != "info" {
		t.Fatalf("unexpected access line: %v", m)
	}
	if m["request_id"] != "rid-7" || m["path"] != "/conversations/:id/messages/search" {
		t.Fatalf("unexpected fields: %v", m)
	}
	headers, _ := m["headers"].(map[string]any)
	if headers["Authorization"] != redacted || headers["X-Api-Key"] != redacted {
		t.Fatalf("headers not masked: %v", headers)
	}
	if !strings.Contains(headers["X-Note"].(string), "[REDACTED:email]") {
		t.Fatalf("header not scrubbed: %v", headers["X-Note"])
	}
}

func TestRedactingLogger_LevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RedactingLogger(RedactOptions{}))
		r.GET("/x", func(c *gin.Context) { c.Status(tc.status) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if got := lastLine(t, buf.String())["level"]; got != tc.level {
			t.Fatalf("status %d logged at %v; want %s", tc.status, got, tc.level)
		}
	}
}

func TestRedactingLogger_UnmatchedPathFallsBackToURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if got := lastLine(t, buf.String())["path"]; got != "/nowhere" {
		t.Fatalf("path = %v; want /nowhere", got)
	}
}

func TestSafeQuery(t *testing.T) {
	mask := lowerSet([]string{"q"}, []string{"Token"})
	if got := safeQuery("", mask); got != "" {
		t.Fatalf("empty query should stay empty, got %q", got)
	}
	got := safeQuery("Token=abc&page=2", mask)
	if !strings.Contains(got, "Token=%5BREDACTED%5D") || !strings.Contains(got, "page=2") {
		t.Fatalf("unexpected query: %q", got)
	}
	if got := safeQuery("bad=%zz a@b.com", mask); strings.Contains(got, "a@b.com") {
		t.Fatalf("unparseable query not scrubbed: %q", got)
	}
}
