// Package conversation owns conversations and their append-only message
// logs. Anonymous conversations live in an in-process map for the lifetime
// of the process; conversations attached to a user are persisted.
package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/Qwalex/ai-chat/internal/models"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is the placeholder given to new conversations until the title
// generation task replaces it.
const DefaultTitle = "Новый диалог"

type ImageRef struct {
	URL string `json:"url"`
}

// ContentPart is one segment of a multimodal user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"imageUrl,omitempty"`
}

// Content is either plain text or an ordered list of parts. It serializes
// the way the upstream wire format expects: a bare JSON string for text-only
// messages, an array of typed parts for multimodal ones.
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c Content) IsMultimodal() bool {
	return len(c.Parts) > 0
}

// Plain reduces content to a single string: the text itself, or the first
// text part of a multimodal message.
func (c Content) Plain() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	for _, part := range c.Parts {
		if part.Type == "text" {
			return part.Text
		}
	}
	return ""
}

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Content{Text: text}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode message content: %w", err)
	}
	*c = Content{Parts: parts}
	return nil
}

// UserContent builds the content of an inbound user message. Image
// attachments turn the message into an ordered parts list with the text
// segment first.
func UserContent(text string, imageURLs []string) Content {
	if len(imageURLs) == 0 {
		return Content{Text: text}
	}
	parts := make([]ContentPart, 0, len(imageURLs)+1)
	parts = append(parts, ContentPart{Type: "text", Text: text})
	for _, url := range imageURLs {
		if url == "" {
			continue
		}
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageRef{URL: url}})
	}
	return Content{Parts: parts}
}

// Meta is cost/usage metadata attached to assistant messages only.
type Meta struct {
	CostUSD      *float64        `json:"costUsd,omitempty"`
	CostRub      *float64        `json:"costRub,omitempty"`
	CostRubFinal *float64        `json:"costRubFinal,omitempty"`
	Rate         float64         `json:"rate"`
	Usage        json.RawMessage `json:"usage,omitempty"`
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
	Meta    *Meta   `json:"meta,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// HasUserMessages reports whether any user turn exists yet; used to decide
// whether a send is the conversation's first question.
func (c *Conversation) HasUserMessages() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

func (c *Conversation) clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	UpdatedAt    string `json:"updatedAt"`
	MessageCount int    `json:"messageCount"`
}

// BuildUpstreamPayload reconstructs the message list sent upstream for one
// turn: leading system messages from storage are dropped and replaced with a
// fresh system prompt for the model answering this turn, because the
// conversation may have switched models since the prompt was stored.
func BuildUpstreamPayload(conv *Conversation, newUserContent Content, modelID string) []Message {
	history := conv.Messages
	for len(history) > 0 && history[0].Role == RoleSystem {
		history = history[1:]
	}

	out := make([]Message, 0, len(history)+2)
	out = append(out, Message{Role: RoleSystem, Content: Content{Text: models.SystemPromptFor(modelID)}})
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	out = append(out, Message{Role: RoleUser, Content: newUserContent})
	return out
}
