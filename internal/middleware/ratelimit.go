package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

const rateLimitWindow = time.Minute

// RateLimitAPI ограничивает запросы к /api/* по IP и по user_id (если есть в контексте). 429 при превышении.
// Счётчики живут в storage.RateLimiter (Redis или in-memory); при ошибке хранилища запрос пропускается.
func RateLimitAPI(limiter storage.RateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}
		perIP := perMinute * 2
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r, limiter, "ip:"+clientIP(r), perIP) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !allow(r, limiter, "u:"+userID, perMinute) {
					http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allow(r *http.Request, limiter storage.RateLimiter, key string, max int) bool {
	ok, err := limiter.Allow(r.Context(), "api:"+key, max, rateLimitWindow)
	if err != nil {
		logger.Errorf("ratelimit key=%s: %v", key, err)
		return true
	}
	return ok
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if idx := strings.Index(x, ","); idx > 0 {
			return strings.TrimSpace(x[:idx])
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
