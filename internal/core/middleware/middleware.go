// Package middleware holds the chi middlewares shared by the HTTP server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// Logging tags the request context with a request id (taken from
// X-Request-ID or generated) and logs each request at debug level once it
// completes. The id is always echoed back.
func Logging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = logger.NewID()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := logger.WithComponent(logger.WithRequestID(r.Context(), id), "http")
			began := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))

			l.LogAttrs(ctx, slog.LevelDebug, "request done",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("took", time.Since(began)))
		})
	}
}

// Recover turns a handler panic into a plain 500.
func Recover(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				l.ErrorContext(r.Context(), "handler panic", "panic", rec, "method", r.Method, "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows any origin; preflights are answered here.
func CORS() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
