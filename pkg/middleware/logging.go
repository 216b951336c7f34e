package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"tutorlink/pkg/logging"
)

// RequestLogger logs each request and injects the request scoped logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if id := middleware.GetReqID(r.Context()); id != "" {
				reqLog = reqLog.With(logging.RequestID(id))
			}
			ctx := logging.WithContext(r.Context(), reqLog)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			reqLog.Debug("request finished",
				slog.Int("status", ww.Status()),
				slog.Duration("took", time.Since(start)),
			)
		})
	}
}
