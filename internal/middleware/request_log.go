package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос (method, path, время) и пишет метрики
// по шаблону маршрута chi, чтобы не плодить метки на каждый user_id.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		wrap := wrapWriter(w)
		next.ServeHTTP(wrap, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		metrics.HttpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrap.status)).Inc()
		metrics.HttpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
