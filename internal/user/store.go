// Package user owns persisted user balances and the token-usage ledger.
// Registration and password handling live in a separate auth service; this
// store only covers what billing needs.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Qwalex/ai-chat/internal/billing"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("user not found")

// InitialTokenBalance is granted to every newly created user.
const InitialTokenBalance = 100

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	TokenBalance int    `json:"tokenBalance"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// UsageEntry is one immutable row of the token-usage ledger.
type UsageEntry struct {
	ID          string   `json:"id"`
	ModelID     string   `json:"modelId"`
	ModelLabel  string   `json:"modelLabel"`
	TokensSpent int      `json:"tokensSpent"`
	CostUSD     *float64 `json:"costUsd,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) FindByID(ctx context.Context, id string) (User, error) {
	var out User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, token_balance, created_at, updated_at
FROM users
WHERE id = ?;
`, id).Scan(&out.ID, &out.Email, &out.TokenBalance, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return out, nil
}

// Ensure inserts a user row if one does not exist yet. Used by tests and by
// the admin top-up path when seeding accounts.
func (s Store) Ensure(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, email, token_balance)
VALUES (?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, id, strings.ToLower(strings.TrimSpace(email)), InitialTokenBalance)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (s Store) GetBalance(ctx context.Context, id string) (int, error) {
	user, err := s.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return user.TokenBalance, nil
}

func (s Store) DeductTokens(ctx context.Context, id string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE users
SET token_balance = token_balance - ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, tokens, id)
	if err != nil {
		return fmt.Errorf("deduct tokens: %w", err)
	}
	return nil
}

func (s Store) AddTokens(ctx context.Context, id string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE users
SET token_balance = token_balance + ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, tokens, id)
	if err != nil {
		return fmt.Errorf("add tokens: %w", err)
	}
	return nil
}

// RecordUsage appends one ledger entry. Entries are never updated or deleted.
func (s Store) RecordUsage(ctx context.Context, record billing.UsageRecord) error {
	var costUSD sql.NullFloat64
	if record.CostUSD != nil {
		costUSD = sql.NullFloat64{Float64: *record.CostUSD, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO token_usage (id, user_id, model_id, model_label, tokens_spent, cost_usd, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), record.UserID, record.ModelID, record.ModelLabel, record.TokensSpent, costUSD, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s Store) ListUsage(ctx context.Context, userID string, limit, offset int) ([]UsageEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, model_id, model_label, tokens_spent, cost_usd, created_at
FROM token_usage
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;
`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	entries := make([]UsageEntry, 0, 16)
	for rows.Next() {
		var entry UsageEntry
		var costUSD sql.NullFloat64
		if err := rows.Scan(&entry.ID, &entry.ModelID, &entry.ModelLabel, &entry.TokensSpent, &costUSD, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if costUSD.Valid {
			value := costUSD.Float64
			entry.CostUSD = &value
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return entries, nil
}
