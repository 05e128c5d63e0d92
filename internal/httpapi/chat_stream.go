package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Qwalex/ai-chat/internal/billing"
	"github.com/Qwalex/ai-chat/internal/conversation"
	"github.com/Qwalex/ai-chat/internal/models"
	"github.com/Qwalex/ai-chat/internal/openrouter"
	"github.com/Qwalex/ai-chat/internal/usagelog"
)

const titleTaskTimeout = 30 * time.Second

func conversationID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

type sendMessageRequest struct {
	Message string   `json:"message"`
	Model   string   `json:"model"`
	Images  []string `json:"images"`
}

// SendMessage is the streaming relay for one exchange. The user message is
// appended speculatively before the upstream call; every failure path before
// a complete assistant answer rolls that append back, so a conversation
// never keeps an unanswered user turn.
//
// Before the upstream 200 errors are plain JSON; once streaming started they
// become SSE error events, because the 200 is already on the wire.
func (h Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, authed := identityFromContext(ctx)

	conv, err := h.conversations.Get(ctx, conversationID(r), identity.UserID)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		log.Printf("get conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load conversation")
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	images := make([]string, 0, len(req.Images))
	for _, url := range req.Images {
		if strings.TrimSpace(url) != "" {
			images = append(images, url)
		}
	}
	if strings.TrimSpace(req.Message) == "" && len(images) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "message or images required")
		return
	}

	modelID := models.Resolve(req.Model, h.cfg.DefaultModel)

	if !models.IsFree(modelID) {
		if !authed {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED",
				"Для платных моделей необходима авторизация")
			return
		}
		balance, err := h.users.GetBalance(ctx, identity.UserID)
		if err != nil {
			log.Printf("get balance for %s: %v", identity.UserID, err)
			writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
			return
		}
		if balance < 1 {
			writeError(w, http.StatusForbidden, "INSUFFICIENT_BALANCE",
				"Недостаточно токенов на балансе. Пополните баланс.")
			return
		}
	}

	content := conversation.UserContent(req.Message, images)
	upstream := upstreamMessages(conversation.BuildUpstreamPayload(conv, content, modelID))
	isFirstUserMessage := !conv.HasUserMessages()

	turn, err := h.conversations.BeginTurn(ctx, conv, content)
	if err != nil {
		log.Printf("append user message: %v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to store message")
		return
	}
	// Persistence and rollback must survive a client disconnect; the request
	// context dies with the connection.
	storeCtx := context.WithoutCancel(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = turn.Rollback(storeCtx)
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	started := false
	var answer strings.Builder
	var usage *openrouter.Usage

	streamErr := h.openRouter.StreamChatCompletion(ctx,
		openrouter.Request{Model: modelID, Messages: upstream},
		func() error {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()
			return nil
		},
		func(delta string) error {
			answer.WriteString(delta)
			return sendSSE(w, flusher, "delta", map[string]string{"delta": delta})
		},
		func(u openrouter.Usage) error {
			usage = &u
			return nil
		},
	)
	if streamErr != nil {
		if err := turn.Rollback(storeCtx); err != nil {
			log.Printf("rollback turn: %v", err)
		}
		if !started {
			status := http.StatusInternalServerError
			message := streamErr.Error()
			var statusErr *openrouter.StatusError
			if errors.As(streamErr, &statusErr) {
				status = statusErr.StatusCode
				message = statusErr.Message
			}
			writeJSON(w, status, upstreamErrorJSON(message))
			return
		}
		message := "Stream failed"
		var se *openrouter.StreamError
		if errors.As(streamErr, &se) {
			message = se.Message
		}
		_ = sendSSE(w, flusher, "error", upstreamErrorJSON(message))
		return
	}

	text := answer.String()
	rate := h.rates.Rate(storeCtx)

	var costUSD *float64
	var usageRaw json.RawMessage
	if usage != nil {
		costUSD = usage.Cost
		usageRaw = usage.Raw
	}
	costRub, costRubFinal := billing.ComputeCost(costUSD, rate, h.cfg.CommissionMultiplier)

	meta := &conversation.Meta{
		CostUSD:      costUSD,
		CostRub:      costRub,
		CostRubFinal: costRubFinal,
		Rate:         rate,
		Usage:        usageRaw,
	}
	if err := turn.Commit(storeCtx, text, meta); err != nil {
		log.Printf("commit turn: %v", err)
		_ = sendSSE(w, flusher, "error", upstreamErrorJSON("failed to store assistant message"))
		return
	}

	if err := h.usageLog.Append(usagelog.Entry{
		Model:        modelID,
		Prompt:       req.Message,
		CostUSD:      costUSD,
		CostRub:      costRub,
		CostRubFinal: costRubFinal,
		Rate:         rate,
	}); err != nil {
		log.Printf("usage log: %v", err)
	}

	if !models.IsFree(modelID) && authed {
		if err := h.billing.Settle(storeCtx, identity.UserID, modelID, models.Label(modelID), costUSD); err != nil {
			log.Printf("settle exchange for %s: %v", identity.UserID, err)
		}
	}

	if isFirstUserMessage && conv.Title == conversation.DefaultTitle {
		go h.generateTitle(conv.ID, identity.UserID, req.Message)
	}

	updated, err := h.conversations.Get(storeCtx, conv.ID, identity.UserID)
	if err != nil {
		log.Printf("reload conversation: %v", err)
		updated = conv
	}
	_ = sendSSE(w, flusher, "done", map[string]any{
		"conversation": updated,
		"text":         text,
		"usage":        usageRaw,
		"costUsd":      costUSD,
		"costRub":      costRub,
		"costRubFinal": costRubFinal,
		"rate":         rate,
	})
}

// generateTitle names a conversation after its first question, using the
// fixed free title model. Best effort: any failure falls back to a trimmed
// copy of the question itself.
func (h Handler) generateTitle(convID, ownerID, question string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTaskTimeout)
	defer cancel()

	source := strings.TrimSpace(question)
	if source == "" {
		source = "Изображение"
	}

	prompt := fmt.Sprintf(
		"Сформулируй короткое название диалога (3-6 слов, до 40 символов). Одна строка. Без кавычек и точек. По фразе: %q",
		source,
	)
	generated, _, err := h.openRouter.Complete(ctx, models.TitleModel,
		[]openrouter.Message{{Role: conversation.RoleUser, Content: prompt}})
	if err != nil {
		log.Printf("generate title for %s: %v", convID, err)
	}

	title := conversation.NormalizeTitle(generated)
	if title == "" {
		title = conversation.FallbackTitle(source)
	}
	if err := h.conversations.SetTitle(ctx, convID, ownerID, title); err != nil {
		log.Printf("set title for %s: %v", convID, err)
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}

func upstreamMessages(history []conversation.Message) []openrouter.Message {
	out := make([]openrouter.Message, 0, len(history))
	for _, m := range history {
		out = append(out, openrouter.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
