package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/httputil"
	"github.com/willianmendesf/whatsapp-sender/internal/privacy"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
	"github.com/willianmendesf/whatsapp-sender/internal/tracing"
)

const masked = "***MASKED***"

// DetailedLoggingConfig controls the debug dump of inbound requests.
type DetailedLoggingConfig struct {
	LogHeaders       bool
	LogBody          bool
	MaxBodySize      int
	SensitiveHeaders []string
	SkipPaths        []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogHeaders:  true,
		LogBody:     true,
		MaxBodySize: 4096,
		SensitiveHeaders: []string{
			"authorization", "x-api-key", "x-webhook-hmac", "cookie",
		},
		SkipPaths: []string{"/metrics", "/health", "/app/logs/history"},
	}
}

// DetailedLoggingMiddleware dumps request headers and send payloads at
// debug level. Recipient numbers are masked and media data is elided.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				"content_length":          r.ContentLength,
			}

			if config.LogHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}

			if config.LogBody && isJSON(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = summarizeBody(body)
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

func skipPath(path string, skip []string) bool {
	for _, p := range skip {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = masked
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// summarizeBody masks top level recipient fields and replaces inline
// media data with its length.
func summarizeBody(body []byte) interface{} {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "unparseable json"
	}

	if media, ok := payload["media"].(map[string]interface{}); ok {
		if data, ok := media["data"].(string); ok && !strings.HasPrefix(data, "http") {
			media["data"] = map[string]int{"inline_bytes": len(data)}
		}
	}
	if msg, ok := payload["message"].(string); ok {
		payload["message"] = map[string]int{"chars": len([]rune(msg))}
	}
	return privacy.MaskSensitiveFields(payload)
}
