package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions tunes RedactingLogger.
//
// MaskHeaders and MaskQuery name extra headers and query parameters whose
// values are replaced wholesale. Header names match case-insensitively.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

const redacted = "[REDACTED]"

var (
	// UUIDs go first so the phone pattern cannot eat their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func lowerSet(defaults []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(defaults)+len(extra))
	for _, v := range append(defaults, extra...) {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// RedactingLogger emits one structured access log line per request with PII
// scrubbed from the query string and headers. Bodies are never logged.
//
// It also attaches a request-scoped logger carrying request_id and user_id,
// which handlers fetch with LoggerFrom. Register it after RequestID and
// Identity so both fields are known.
//
// Authorization, cookies and the message search text ("q") are always masked.
// Levels: INFO for 2xx/3xx, WARN for 4xx, ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskQuery := lowerSet([]string{"q"}, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetString(requestIDKey)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		reqLog := log.With().Str("request_id", rid).Str("user_id", UserID(c)).Logger()
		c.Set(loggerKey, &reqLog)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := safeQuery(c.Request.URL.RawQuery, maskQuery)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = redacted
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := reqLog.Info()
		switch {
		case status >= 500:
			ev = reqLog.Error()
		case status >= 400:
			ev = reqLog.Warn()
		}
		ev.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// safeQuery masks named parameters and scrubs the rest. Unparseable input is
// scrubbed as a whole.
func safeQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return scrub(raw)
	}
	for k, vv := range vals {
		_, masked := mask[strings.ToLower(k)]
		for i := range vv {
			if masked {
				vv[i] = redacted
			} else {
				vv[i] = scrub(vv[i])
			}
		}
	}
	return vals.Encode()
}
