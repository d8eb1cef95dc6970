package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/util"
)

type requestIDKey struct{}

// RequestID returns the id assigned to the request by requestLogger.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestLogger(logger *zerolog.Logger, corsOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if requestID == "" {
				requestID = util.NewID("req")
			}

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ctx := context.WithValue(reqLogger.WithContext(r.Context()), requestIDKey{}, requestID)
			r = r.WithContext(ctx)

			started := time.Now()
			writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			setCORSHeaders(writer.Header(), corsOrigin)
			writer.Header().Set("X-Request-ID", requestID)

			if r.Method == http.MethodOptions {
				writer.WriteHeader(http.StatusNoContent)
			} else {
				next.ServeHTTP(writer, r)
			}

			event := reqLogger.Info()
			if writer.status >= http.StatusInternalServerError {
				event = reqLogger.Error()
			}
			event.Int("status", writer.status).
				Int64("duration_ms", time.Since(started).Milliseconds()).
				Msg("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
}
