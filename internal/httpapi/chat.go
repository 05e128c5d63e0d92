package httpapi

import (
	"net/http"
	"strings"

	"github.com/Qwalex/ai-chat/internal/billing"
	"github.com/Qwalex/ai-chat/internal/conversation"
	"github.com/Qwalex/ai-chat/internal/models"
	"github.com/Qwalex/ai-chat/internal/openrouter"
)

type chatRequest struct {
	Message string `json:"message"`
	System  string `json:"system"`
	Model   string `json:"model"`
}

// Chat is the stateless one-shot completion endpoint: no conversation, no
// persistence, no token deduction. Requires an account.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if _, ok := identityFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	modelID := models.Resolve(req.Model, h.cfg.DefaultModel)

	messages := []openrouter.Message{
		{Role: conversation.RoleSystem, Content: models.SystemPromptFor(modelID)},
	}
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openrouter.Message{Role: conversation.RoleSystem, Content: req.System})
	}
	messages = append(messages, openrouter.Message{Role: conversation.RoleUser, Content: req.Message})

	text, usage, err := h.openRouter.Complete(r.Context(), modelID, messages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream_error", err.Error())
		return
	}

	rate := h.rates.Rate(r.Context())
	var costUSD *float64
	var usageRaw any
	if usage != nil {
		costUSD = usage.Cost
		usageRaw = usage.Raw
	}
	costRub, costRubFinal := billing.ComputeCost(costUSD, rate, h.cfg.CommissionMultiplier)
	writeJSON(w, http.StatusOK, map[string]any{
		"text":         text,
		"costUsd":      costUSD,
		"costRub":      costRub,
		"costRubFinal": costRubFinal,
		"rate":         rate,
		"usage":        usageRaw,
	})
}
