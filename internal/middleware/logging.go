// Package middleware contains HTTP middleware functions.
//
// The pattern is:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // before
//	        next.ServeHTTP(w, r)
//	        // after
//	    })
//	}
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture the status code and
// the number of bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func wrap(w http.ResponseWriter) *responseWriter {
	// 200 is what net/http sends if WriteHeader is never called
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routePattern returns the chi route that matched, or "unmatched". Only
// valid after the router has served the request.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Logger returns an HTTP middleware that logs each request with slog.
//
// Each log line includes: method, path, route, status code, duration,
// bytes written and the request id set by chi's RequestID middleware.
// 5xx responses are logged at WARN.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
