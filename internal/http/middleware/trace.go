package middleware

import (
	"net/http"
	"time"

	"github.com/iago/technoshare-commentator/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func Trace(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if log == nil {
				return
			}
			fields := []any{
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			// Slack marks redeliveries; they are expected to be no-ops.
			if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
				fields = append(fields, "retry_num", retry, "retry_reason", r.Header.Get("X-Slack-Retry-Reason"))
			}
			log.Info("request", fields...)
		})
	}
}
