package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/media"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/service"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/ws"
)

// Deps — всё, что нужно HTTP-слою. Push и Limiter могут быть nil.
type Deps struct {
	Config   *config.Config
	Chat     *service.ChatService
	Hub      *ws.Hub
	Verifier *auth.Verifier
	Limiter  storage.RateLimiter
	Media    *media.Store
	Push     *push.Sender
}

// NewRouter собирает chi-роутер: общий стек middleware, публичные маршруты и
// маршруты под bearer-токеном.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	chatH := NewChatHandler(d.Chat)
	groupH := NewGroupHandler(d.Chat)
	wsH := NewWSHandler(d.Hub, cfg.CORSAllowedOrigins)
	configH := NewConfigHandler(cfg, d.Push)
	mediaH := NewMediaHandler(d.Media, cfg.MaxUploadSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())
	r.Get("/api/config", configH.GetClientConfig)
	r.Get("/api/config/push", configH.GetPushConfig)
	if cfg.Auth.DevMode {
		r.Post("/auth/verify", NewAuthHandler(d.Verifier).Verify)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.Verifier))
		r.Get("/ws", wsH.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitAPI(d.Limiter, cfg.APIRateLimit))

			r.Post("/api/chat/send", chatH.Send)
			r.Post("/api/chat/messages/{id}/ack", chatH.Ack)
			r.Get("/api/chat/history/{me}", chatH.History)
			r.Get("/api/chat/history/{me}/{other}", chatH.History)
			r.Get("/api/chat/chats/{me}", chatH.Chats)
			r.Put("/api/chat/seen/{me}", chatH.Seen)
			r.Put("/api/chat/seen/{me}/{other}", chatH.Seen)
			r.Get("/api/presence/{userId}", chatH.Presence)

			r.Post("/api/groups/create", groupH.Create)
			r.Get("/api/groups/{id}/members", groupH.Members)
			r.Post("/api/groups/{id}/members", groupH.AddMembers)
			r.Post("/api/groups/{id}/leave", groupH.Leave)
			r.Post("/api/groups/{id}/join", groupH.Join)

			r.Post("/api/media/upload", mediaH.Upload)
			r.Get("/api/media/{filename}", mediaH.Serve)

			if d.Push != nil {
				pushH := NewPushHandler(d.Push)
				r.Post("/api/push/subscribe", pushH.Subscribe)
				r.Delete("/api/push/subscribe", pushH.Unsubscribe)
			}
		})
	})
	return r
}
