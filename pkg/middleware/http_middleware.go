package middleware

import (
	"net/http"
	"time"

	"gomarketplace_sync/metrics"
)

// responseWriter оборачивает http.ResponseWriter для сохранения кода ответа.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader перехватывает вызов WriteHeader, сохраняя код ответа.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// PrometheusMiddleware собирает метрики по запросам к status API.
// Paths outside known routes are folded into "other" to keep label cardinality bounded.
func PrometheusMiddleware(routes ...string) Middleware {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if _, ok := known[path]; !ok {
				path = "other"
			}
			metrics.RecordRequest(r.Method, path, rw.status, time.Since(start))
		})
	}
}

// Recover turns a handler panic into a 500 and logs it.
func Recover(log func(format string, v ...interface{})) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
