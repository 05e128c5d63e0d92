package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Qwalex/ai-chat/internal/auth"
	"github.com/Qwalex/ai-chat/internal/billing"
	"github.com/Qwalex/ai-chat/internal/config"
	"github.com/Qwalex/ai-chat/internal/conversation"
	"github.com/Qwalex/ai-chat/internal/currency"
	"github.com/Qwalex/ai-chat/internal/openrouter"
	"github.com/Qwalex/ai-chat/internal/usagelog"
	"github.com/Qwalex/ai-chat/internal/user"
)

func NewRouter(cfg config.Config, db *sql.DB) http.Handler {
	users := user.NewStore(db)
	conversations := conversation.NewStore(db, cfg.DefaultModel)
	verifier := auth.NewVerifier(cfg)
	client := openrouter.NewClient(cfg, nil)
	rates := currency.NewCache(cfg, nil)
	coordinator := billing.NewCoordinator(users, cfg.UsdToTokensRate)
	usageLog := usagelog.New(cfg.UsageLogPath)

	h := NewHandler(cfg, users, conversations, verifier, client, rates, coordinator, usageLog)
	return newRouter(cfg, h)
}

func newRouter(cfg config.Config, h Handler) http.Handler {
	messageThrottle := newPerIPThrottle(cfg.MessagesPerMinute)
	adminThrottle := newPerIPThrottle(cfg.AdminCallsPerMinute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(api chi.Router) {
		api.Use(h.WithIdentity)

		api.Get("/models", h.ListModels)

		api.Route("/conversations", func(conv chi.Router) {
			conv.Post("/", h.CreateConversation)
			conv.Get("/", h.ListConversations)
			conv.Get("/{id}", h.GetConversation)
			conv.With(messageThrottle.middleware).Post("/{id}/messages", h.SendMessage)
		})

		api.Post("/chat", h.Chat)
		api.Get("/balance-history", h.BalanceHistory)
		api.With(adminThrottle.middleware).Post("/admin/top-up", h.AdminTopUp)
	})

	return r
}
