package conversation

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Qwalex/ai-chat/internal/db"
)

const testDefaultModel = "moonshotai/kimi-k2.5"

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One in-memory database per pooled connection otherwise.
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(conn, testDefaultModel), conn
}

func seedUser(t *testing.T, conn *sql.DB, id string) {
	t.Helper()
	if _, err := conn.Exec(
		`INSERT INTO users (id, email, password_hash) VALUES (?, ?, '');`,
		id, id+"@example.com",
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestCreateEphemeralSeedsSystemPrompt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" || conv.OwnerID != "" {
		t.Fatalf("unexpected identity: %+v", conv)
	}
	if conv.Title != DefaultTitle {
		t.Fatalf("expected default title, got %q", conv.Title)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != RoleSystem {
		t.Fatalf("expected single system message, got %+v", conv.Messages)
	}

	got, err := store.Get(ctx, conv.ID, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Messages[0].Content.Text != conv.Messages[0].Content.Text {
		t.Fatalf("system prompt lost on reload")
	}
}

func TestCreateWithExtraSystemMessage(t *testing.T) {
	store, _ := newTestStore(t)

	conv, err := store.Create(context.Background(), "", "Новый диалог", "отвечай кратко")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected prompt plus extra system message, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Content.Text != "отвечай кратко" {
		t.Fatalf("extra system message mangled: %+v", conv.Messages[1])
	}
}

func TestGetSnapshotIsDetached(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	snapshot, err := store.Get(ctx, conv.ID, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	snapshot.Messages[0].Content.Text = "tampered"
	snapshot.Title = "tampered"

	again, err := store.Get(ctx, conv.ID, "")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Title == "tampered" || again.Messages[0].Content.Text == "tampered" {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestDurableGetRequiresMatchingOwner(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	seedUser(t, conn, "alice")
	seedUser(t, conn, "bob")

	conv, err := store.Create(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.Get(ctx, conv.ID, "bob"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if _, err := store.Get(ctx, conv.ID, ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for anonymous reader, got %v", err)
	}
	if _, err := store.Get(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
}

func TestTurnCommitAppendsBothMessages(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	seedUser(t, conn, "alice")

	conv, err := store.Create(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	turn, err := store.BeginTurn(ctx, conv, Content{Text: "привет"})
	if err != nil {
		t.Fatalf("begin turn: %v", err)
	}
	meta := &Meta{Rate: 90}
	if err := turn.Commit(ctx, "здравствуйте", meta); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.Get(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected system+user+assistant, got %d messages", len(got.Messages))
	}
	last := got.Messages[2]
	if last.Role != RoleAssistant || last.Content.Text != "здравствуйте" {
		t.Fatalf("unexpected assistant message: %+v", last)
	}
	if last.Meta == nil || last.Meta.Rate != 90 {
		t.Fatalf("meta not persisted: %+v", last.Meta)
	}
	if got.UpdatedAt <= conv.UpdatedAt && got.UpdatedAt != conv.UpdatedAt {
		t.Fatalf("updatedAt went backwards: %q -> %q", conv.UpdatedAt, got.UpdatedAt)
	}
}

func TestTurnRollbackRestoresExactMessageList(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	seedUser(t, conn, "alice")

	for _, owner := range []string{"", "alice"} {
		conv, err := store.Create(ctx, owner, "", "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		turn, err := store.BeginTurn(ctx, conv, Content{Text: "первый"})
		if err != nil {
			t.Fatalf("begin turn: %v", err)
		}
		if err := turn.Commit(ctx, "ответ", nil); err != nil {
			t.Fatalf("commit: %v", err)
		}

		before, err := store.Get(ctx, conv.ID, owner)
		if err != nil {
			t.Fatalf("get before: %v", err)
		}

		failed, err := store.BeginTurn(ctx, conv, Content{Text: "второй"})
		if err != nil {
			t.Fatalf("begin failed turn: %v", err)
		}
		if err := failed.Rollback(ctx); err != nil {
			t.Fatalf("rollback: %v", err)
		}

		after, err := store.Get(ctx, conv.ID, owner)
		if err != nil {
			t.Fatalf("get after: %v", err)
		}
		if len(after.Messages) != len(before.Messages) {
			t.Fatalf("owner %q: message count changed after rollback: %d -> %d",
				owner, len(before.Messages), len(after.Messages))
		}
		for i := range before.Messages {
			if after.Messages[i].Role != before.Messages[i].Role ||
				after.Messages[i].Content.Plain() != before.Messages[i].Content.Plain() {
				t.Fatalf("owner %q: message %d changed after rollback", owner, i)
			}
		}
	}
}

func TestTurnRollbackAfterCommitIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	turn, err := store.BeginTurn(ctx, conv, Content{Text: "вопрос"})
	if err != nil {
		t.Fatalf("begin turn: %v", err)
	}
	if err := turn.Commit(ctx, "ответ", nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := turn.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}

	got, err := store.Get(ctx, conv.ID, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("rollback after commit dropped a message: %d", len(got.Messages))
	}
}

func TestListSummariesOrdersByActivity(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	seedUser(t, conn, "alice")

	first, err := store.Create(ctx, "alice", "Первый", "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.Create(ctx, "alice", "Второй", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Force distinct timestamps so ordering is deterministic.
	if _, err := conn.Exec(
		`UPDATE conversations SET updated_at = '2026-01-02T00:00:00Z' WHERE id = ?;`, first.ID,
	); err != nil {
		t.Fatalf("touch first: %v", err)
	}
	if _, err := conn.Exec(
		`UPDATE conversations SET updated_at = '2026-01-01T00:00:00Z' WHERE id = ?;`, second.ID,
	); err != nil {
		t.Fatalf("touch second: %v", err)
	}

	summaries, err := store.ListSummaries(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != first.ID {
		t.Fatalf("expected most recent first, got %q", summaries[0].Title)
	}
	if summaries[0].MessageCount != 1 {
		t.Fatalf("expected system message counted, got %d", summaries[0].MessageCount)
	}
}

func TestSetTitle(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	seedUser(t, conn, "alice")

	conv, err := store.Create(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetTitle(ctx, conv.ID, "alice", "SSE-парсер"); err != nil {
		t.Fatalf("set title: %v", err)
	}
	got, err := store.Get(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "SSE-парсер" {
		t.Fatalf("title not updated: %q", got.Title)
	}

	if err := store.SetTitle(ctx, conv.ID, "bob", "чужой"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
}
