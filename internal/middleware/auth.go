package middleware

import (
	"net/http"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/logger"
)

// TokenVerifier проверяет bearer-токен и возвращает subject (user_id).
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// BearerAuth берёт токен из Authorization: Bearer или из ?token= (браузерный
// WebSocket не умеет ставить заголовки) и кладёт subject в контекст.
func BearerAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.FromHeader(r.Header.Get("Authorization"))
			if err != nil {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := v.Verify(token)
			if err != nil {
				logger.Debugf("auth: reject token=%s path=%s: %v", MaskToken(token), r.URL.Path, err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
