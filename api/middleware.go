package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/fhevm-go/log"
)

// DisabledLogging is a global flag to disable logging middleware
var DisabledLogging = false

// RedactedFields are the request body fields replaced by their length in the
// debug logs: sealed payloads, authorization material and key bytes.
var RedactedFields = []string{"ciphertext", "signature", "publicKey", "sealed", "inputProof"}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	MaxBodyLog       int
	ExcludedPrefixes []string // URL path prefixes to exclude from logging
	RedactedFields   []string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		MaxBodyLog:       512,
		ExcludedPrefixes: LogExcludedPrefixes,
		RedactedFields:   RedactedFields,
	}
}

// shouldSkipLogging checks if the request should be skipped from logging
func (lc LoggingConfig) shouldSkipLogging(r *http.Request) bool {
	if log.Level() != log.LogLevelDebug || DisabledLogging {
		return true
	}
	for _, prefix := range lc.ExcludedPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// summarizeBody renders a JSON object body for the logs with the redacted
// fields replaced by their size. Anything else yields an empty string.
func (lc LoggingConfig) summarizeBody(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, name := range lc.RedactedFields {
		if v, ok := fields[name].(string); ok {
			fields[name] = fmt.Sprintf("<%d bytes>", len(strings.TrimPrefix(v, "0x"))/2)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return ""
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if lc.MaxBodyLog > 0 && len(out) > lc.MaxBodyLog {
		return string(out[:lc.MaxBodyLog]) + "..."
	}
	return string(out)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// loggingMiddleware logs requests at debug level with the default config.
func loggingMiddleware(maxBodyLog int) func(http.Handler) http.Handler {
	config := DefaultLoggingConfig()
	config.MaxBodyLog = maxBodyLog
	return loggingMiddlewareWithConfig(config)
}

// loggingMiddlewareWithConfig logs every request and its outcome at debug
// level. Server errors are always logged at warn level, whatever the log
// level or exclusions.
func loggingMiddlewareWithConfig(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w}
			debug := !config.shouldSkipLogging(r)

			if debug {
				var body string
				if r.Body != nil && r.ContentLength > 0 {
					bodyBytes, err := io.ReadAll(r.Body)
					if err != nil {
						log.Error(err)
						http.Error(w, "unable to read request body", http.StatusInternalServerError)
						return
					}
					r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
					body = config.summarizeBody(bodyBytes)
				}
				log.Debugw("api request",
					"id", RequestID(r.Context()),
					"method", r.Method,
					"url", r.URL.String(),
					"body", body,
				)
			}

			next.ServeHTTP(wrapped, r)

			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.Warnw("api server error",
					"id", RequestID(r.Context()),
					"method", r.Method,
					"url", r.URL.String(),
					"status", wrapped.statusCode,
					"took", time.Since(start).String(),
				)
			case debug:
				log.Debugw("api response",
					"id", RequestID(r.Context()),
					"status", wrapped.statusCode,
					"took", time.Since(start).String(),
				)
			}
		})
	}
}

type requestIDKey struct{}

// requestIDMiddleware propagates the X-Request-Id header, generating a new
// identifier when the client did not send one. The identifier is echoed in
// the response and stored in the request context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request identifier stored by the API middleware, or
// an empty string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
