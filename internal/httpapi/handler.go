// Package httpapi exposes the chat backend over HTTP: the model catalog,
// conversation CRUD, the streaming relay and the billing/admin endpoints.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/Qwalex/ai-chat/internal/auth"
	"github.com/Qwalex/ai-chat/internal/billing"
	"github.com/Qwalex/ai-chat/internal/config"
	"github.com/Qwalex/ai-chat/internal/conversation"
	"github.com/Qwalex/ai-chat/internal/currency"
	"github.com/Qwalex/ai-chat/internal/models"
	"github.com/Qwalex/ai-chat/internal/openrouter"
	"github.com/Qwalex/ai-chat/internal/usagelog"
	"github.com/Qwalex/ai-chat/internal/user"
)

// chatStreamer is the OpenRouter surface the handler needs; satisfied by
// openrouter.Client and stubbed in tests.
type chatStreamer interface {
	StreamChatCompletion(
		ctx context.Context,
		req openrouter.Request,
		onStart func() error,
		onDelta func(string) error,
		onUsage func(openrouter.Usage) error,
	) error
	Complete(ctx context.Context, model string, messages []openrouter.Message) (string, *openrouter.Usage, error)
}

type Handler struct {
	cfg           config.Config
	users         user.Store
	conversations *conversation.Store
	verifier      auth.Verifier
	openRouter    chatStreamer
	rates         *currency.Cache
	billing       billing.Coordinator
	usageLog      *usagelog.Writer
}

func NewHandler(
	cfg config.Config,
	users user.Store,
	conversations *conversation.Store,
	verifier auth.Verifier,
	openRouter chatStreamer,
	rates *currency.Cache,
	coordinator billing.Coordinator,
	usageLog *usagelog.Writer,
) Handler {
	return Handler{
		cfg:           cfg,
		users:         users,
		conversations: conversations,
		verifier:      verifier,
		openRouter:    openRouter,
		rates:         rates,
		billing:       coordinator,
		usageLog:      usageLog,
	}
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity resolves an optional bearer token. A missing, malformed or
// expired token degrades to anonymous instead of failing the request;
// endpoints that require an account check for the identity themselves.
func (h Handler) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || !h.verifier.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := h.verifier.Verify(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.users.Ensure(r.Context(), identity.UserID, identity.Email); err != nil {
			log.Printf("ensure user %s: %v", identity.UserID, err)
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": models.Allowed})
}

type createConversationRequest struct {
	Title  string `json:"title"`
	System string `json:"system"`
}

func (h Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	identity, _ := identityFromContext(r.Context())
	conv, err := h.conversations.Create(r.Context(), identity.UserID, req.Title, req.System)
	if err != nil {
		log.Printf("create conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv})
}

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	summaries, err := h.conversations.ListSummaries(r.Context(), identity.UserID)
	if err != nil {
		log.Printf("list conversations: %v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (h Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	conv, err := h.conversations.Get(r.Context(), conversationID(r), identity.UserID)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		log.Printf("get conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (h Handler) BalanceHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
		return
	}

	entries, err := h.users.ListUsage(r.Context(), identity.UserID, 0, 0)
	if err != nil {
		log.Printf("list usage for %s: %v", identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load balance history")
		return
	}

	type historyItem struct {
		ID          string `json:"id"`
		ModelID     string `json:"modelId"`
		ModelLabel  string `json:"modelLabel"`
		TokensSpent int    `json:"tokensSpent"`
		CreatedAt   string `json:"createdAt"`
	}
	history := make([]historyItem, 0, len(entries))
	for _, entry := range entries {
		history = append(history, historyItem{
			ID:          entry.ID,
			ModelID:     entry.ModelID,
			ModelLabel:  entry.ModelLabel,
			TokensSpent: entry.TokensSpent,
			CreatedAt:   entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type topUpRequest struct {
	UserID      string `json:"userId"`
	Tokens      int    `json:"tokens"`
	AdminSecret string `json:"adminSecret"`
}

// AdminTopUp credits tokens to a user. Authorized by the shared admin
// secret, passed either in X-Admin-Key or in the body.
func (h Handler) AdminTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	provided := r.Header.Get("X-Admin-Key")
	if provided == "" {
		provided = req.AdminSecret
	}
	if h.cfg.AdminSecret == "" || provided != h.cfg.AdminSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin secret")
		return
	}

	if req.UserID == "" || req.Tokens <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}

	if err := h.users.AddTokens(r.Context(), req.UserID, req.Tokens); err != nil {
		log.Printf("top up %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to add tokens")
		return
	}
	balance, err := h.users.GetBalance(r.Context(), req.UserID)
	if err != nil {
		log.Printf("balance after top up %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "newBalance": balance})
}
