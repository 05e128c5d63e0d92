package conversation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Qwalex/ai-chat/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("conversation not found")

// Store keeps anonymous conversations in an in-process map and owned
// conversations in sqlite. All mutation goes through locked store methods;
// accessors hand out snapshots, never live map entries.
type Store struct {
	db           *sql.DB
	defaultModel string

	mu        sync.Mutex
	ephemeral map[string]*Conversation
}

func NewStore(db *sql.DB, defaultModel string) *Store {
	return &Store{
		db:           db,
		defaultModel: defaultModel,
		ephemeral:    make(map[string]*Conversation),
	}
}

// Create builds a conversation seeded with the default model's system prompt
// plus an optional caller-supplied system message. Without an owner the
// conversation is ephemeral and survives only until process restart.
func (s *Store) Create(ctx context.Context, ownerID, title, system string) (*Conversation, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	messages := []Message{
		{Role: RoleSystem, Content: Content{Text: models.SystemPromptFor(s.defaultModel)}},
	}
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: Content{Text: system}})
	}

	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	conv := &Conversation{
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  messages,
	}

	if ownerID == "" {
		conv.ID = shortID()
		s.mu.Lock()
		s.ephemeral[conv.ID] = conv
		snapshot := conv.clone()
		s.mu.Unlock()
		return snapshot, nil
	}

	conv.ID = uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?);
`, conv.ID, ownerID, conv.Title, now, now); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	for _, m := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, m); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return conv, nil
}

// Get returns a snapshot of the conversation. For durable conversations an
// owner mismatch reads exactly like a missing id: lookups are existence
// based, there is no separate "forbidden" outcome.
func (s *Store) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	s.mu.Lock()
	if conv, ok := s.ephemeral[id]; ok {
		snapshot := conv.clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	s.mu.Unlock()

	if ownerID == "" {
		return nil, ErrNotFound
	}

	conv := &Conversation{ID: id, OwnerID: ownerID}
	err := s.db.QueryRowContext(ctx, `
SELECT title, created_at, updated_at
FROM conversations
WHERE id = ? AND user_id = ?;
`, id, ownerID).Scan(&conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, meta
FROM messages
WHERE conversation_id = ?
ORDER BY seq ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, rawContent string
		var rawMeta sql.NullString
		if err := rows.Scan(&role, &rawContent, &rawMeta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message := Message{Role: role}
		if err := json.Unmarshal([]byte(rawContent), &message.Content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		if rawMeta.Valid && rawMeta.String != "" {
			meta := &Meta{}
			if err := json.Unmarshal([]byte(rawMeta.String), meta); err != nil {
				return nil, fmt.Errorf("decode meta: %w", err)
			}
			message.Meta = meta
		}
		conv.Messages = append(conv.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return conv, nil
}

// ListSummaries returns the caller's visible conversations, most recently
// updated first. Anonymous callers see the ephemeral set.
func (s *Store) ListSummaries(ctx context.Context, ownerID string) ([]Summary, error) {
	if ownerID == "" {
		s.mu.Lock()
		out := make([]Summary, 0, len(s.ephemeral))
		for _, conv := range s.ephemeral {
			out = append(out, Summary{
				ID:           conv.ID,
				Title:        conv.Title,
				UpdatedAt:    conv.UpdatedAt,
				MessageCount: len(conv.Messages),
			})
		}
		s.mu.Unlock()
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.title, c.updated_at, COUNT(m.seq)
FROM conversations c
LEFT JOIN messages m ON m.conversation_id = c.id
WHERE c.user_id = ?
GROUP BY c.id
ORDER BY c.updated_at DESC;
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, 16)
	for rows.Next() {
		var summary Summary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// AppendUser appends a user message without bumping updatedAt; the exchange
// only counts as activity once the assistant answer lands.
func (s *Store) AppendUser(ctx context.Context, conv *Conversation, content Content) error {
	message := Message{Role: RoleUser, Content: content}

	if conv.OwnerID == "" {
		return s.mutateEphemeral(conv, func(c *Conversation) {
			c.Messages = append(c.Messages, message)
		})
	}
	return insertMessage(ctx, s.db, conv.ID, message)
}

func (s *Store) AppendAssistant(ctx context.Context, conv *Conversation, text string, meta *Meta) error {
	message := Message{Role: RoleAssistant, Content: Content{Text: text}, Meta: meta}
	now := time.Now().UTC().Format(time.RFC3339)

	if conv.OwnerID == "" {
		return s.mutateEphemeral(conv, func(c *Conversation) {
			c.Messages = append(c.Messages, message)
			c.UpdatedAt = now
		})
	}

	if err := insertMessage(ctx, s.db, conv.ID, message); err != nil {
		return err
	}
	return s.touch(ctx, conv.ID, now)
}

// PopLast removes the most recent message. It is the sole rollback
// mechanism: a failed upstream call must not leave an unanswered user turn
// in the log.
func (s *Store) PopLast(ctx context.Context, conv *Conversation) error {
	if conv.OwnerID == "" {
		return s.mutateEphemeral(conv, func(c *Conversation) {
			if len(c.Messages) > 0 {
				c.Messages = c.Messages[:len(c.Messages)-1]
			}
		})
	}

	_, err := s.db.ExecContext(ctx, `
DELETE FROM messages
WHERE seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = ?);
`, conv.ID)
	if err != nil {
		return fmt.Errorf("pop last message: %w", err)
	}
	return nil
}

func (s *Store) SetTitle(ctx context.Context, id, ownerID, title string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	if conv, ok := s.ephemeral[id]; ok {
		conv.Title = title
		conv.UpdatedAt = now
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if ownerID == "" {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET title = ?, updated_at = ?
WHERE id = ? AND user_id = ?;
`, title, now, id, ownerID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Turn is the speculative append around one exchange: Begin writes the user
// message, then exactly one of Commit or Rollback follows.
type Turn struct {
	store *Store
	conv  *Conversation
	done  bool
}

func (s *Store) BeginTurn(ctx context.Context, conv *Conversation, content Content) (*Turn, error) {
	if err := s.AppendUser(ctx, conv, content); err != nil {
		return nil, err
	}
	return &Turn{store: s, conv: conv}, nil
}

// Commit persists the assistant answer and closes the turn.
func (t *Turn) Commit(ctx context.Context, text string, meta *Meta) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.store.AppendAssistant(ctx, t.conv, text, meta)
}

// Rollback removes the speculative user message. Safe to call after Commit;
// it becomes a no-op.
func (t *Turn) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.store.PopLast(ctx, t.conv)
}

func (s *Store) mutateEphemeral(conv *Conversation, mutate func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.ephemeral[conv.ID]
	if !ok {
		return ErrNotFound
	}
	mutate(stored)
	return nil
}

func (s *Store) touch(ctx context.Context, id, now string) error {
	if _, err := s.db.ExecContext(ctx, `
UPDATE conversations SET updated_at = ? WHERE id = ?;
`, now, id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, conversationID string, message Message) error {
	rawContent, err := json.Marshal(message.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	var rawMeta any
	if message.Meta != nil {
		encoded, err := json.Marshal(message.Meta)
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		rawMeta = string(encoded)
	}
	if _, err := db.ExecContext(ctx, `
INSERT INTO messages (conversation_id, role, content, meta)
VALUES (?, ?, ?, ?);
`, conversationID, message.Role, string(rawContent), rawMeta); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// shortID generates the compact ids used for ephemeral conversations.
func shortID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()[:8]
	}
	for i, b := range buf {
		buf[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return string(buf)
}
