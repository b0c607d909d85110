package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSessionCreatesAndUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "first", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" || got.Emoji != "💬" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "renamed", Emoji: "📚", CreatedAt: base, UpdatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, err = s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Title != "renamed" || got.Emoji != "📚" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at changed on upsert: %v", got.CreatedAt)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsOrderedByUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := s.UpsertSession(ctx, Session{ID: id, Title: id, CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sessions, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestAddMessageBumpsSessionUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	msgAt := base.Add(2 * time.Hour)
	id, err := s.AddMessage(ctx, Message{SessionID: "s1", Role: "user", Content: "hello", CreatedAt: msgAt})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero message id")
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.UpdatedAt.Equal(msgAt) {
		t.Fatalf("updated_at not bumped: got %v want %v", sess.UpdatedAt, msgAt)
	}
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.AddMessage(ctx, Message{SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected cascaded delete, %d messages remain", n)
	}

	if err := s.DeleteSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestReplaceMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.AddMessage(ctx, Message{SessionID: "s1", Role: "user", Content: "old", CreatedAt: base}); err != nil {
		t.Fatalf("add: %v", err)
	}

	replacement := []Message{
		{SessionID: "s1", Role: "user", Content: "q", CreatedAt: base.Add(time.Minute)},
		{SessionID: "s1", Role: "assistant", Content: "a", CreatedAt: base.Add(2 * time.Minute)},
	}
	if err := s.ReplaceMessages(ctx, "s1", replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 2 || got[0].Content != "q" || got[1].Content != "a" {
		t.Fatalf("unexpected history: %+v", got)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.UpdatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("updated_at not set to newest message: %v", sess.UpdatedAt)
	}
}

func TestGetMessagesPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := s.AddMessage(ctx, Message{
			SessionID: "s1", Role: "user",
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	tests := []struct {
		name    string
		limit   int
		offset  int
		want    []string
		hasMore bool
	}{
		{"newest window", 3, 0, []string{"h", "i", "j"}, true},
		{"second window", 3, 3, []string{"e", "f", "g"}, true},
		{"tail window clipped", 4, 8, []string{"a", "b"}, false},
		{"offset past end", 3, 10, nil, false},
		{"whole history", 20, 0, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, err := s.GetMessagesPage(ctx, "s1", tc.limit, tc.offset)
			if err != nil {
				t.Fatalf("page: %v", err)
			}
			if page.Total != 10 {
				t.Fatalf("total = %d, want 10", page.Total)
			}
			if page.HasMore != tc.hasMore {
				t.Fatalf("has_more = %v, want %v", page.HasMore, tc.hasMore)
			}
			if len(page.Messages) != len(tc.want) {
				t.Fatalf("got %d messages, want %d", len(page.Messages), len(tc.want))
			}
			for i, w := range tc.want {
				if page.Messages[i].Content != w {
					t.Fatalf("message %d = %q, want %q", i, page.Messages[i].Content, w)
				}
			}
		})
	}
}

func TestSearchSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	seed := []struct {
		id, title string
		messages  []string
	}{
		{"s1", "quantum computing", []string{"qubits are fragile", "decoherence limits depth"}},
		{"s2", "garden planning", []string{"tomatoes need quantum leaps", "compost schedule"}},
		{"s3", "unrelated", []string{"nothing here"}},
	}
	for i, sd := range seed {
		ts := base.Add(time.Duration(i) * time.Hour)
		if err := s.UpsertSession(ctx, Session{ID: sd.id, Title: sd.title, CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("upsert %s: %v", sd.id, err)
		}
		for j, content := range sd.messages {
			if _, err := s.AddMessage(ctx, Message{
				SessionID: sd.id, Role: "user", Content: content,
				CreatedAt: ts.Add(time.Duration(j) * time.Minute),
			}); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
	}

	got, err := s.SearchSessions(ctx, "quantum", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
	// s2 was updated later so it sorts first.
	if got[0].ID != "s2" || got[1].ID != "s1" {
		t.Fatalf("unexpected ordering: %s, %s", got[0].ID, got[1].ID)
	}
	for _, m := range got {
		if m.MatchCount != 1 {
			t.Fatalf("session %s: match_count = %d, want 1", m.ID, m.MatchCount)
		}
	}

	capped, err := s.SearchSessions(ctx, "quantum", 1)
	if err != nil {
		t.Fatalf("capped search: %v", err)
	}
	if len(capped) != 1 || capped[0].ID != "s2" {
		t.Fatalf("limit 1 should keep the most recent match: %+v", capped)
	}
}

func TestSearchSessionsEmptyQueryListsAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.UpsertSession(ctx, Session{ID: id, Title: id}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := s.SearchSessions(ctx, "   ", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected all sessions, got %d", len(got))
	}
	for _, m := range got {
		if m.MatchCount != 0 {
			t.Fatalf("expected zero match_count, got %d", m.MatchCount)
		}
	}
}

func TestSearchSessionsSubstringFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "microservices"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// "services" is inside a token, so only the LIKE path can find it.
	got, err := s.SearchSessions(ctx, "services", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("fallback miss: %+v", got)
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	id, err := s.SaveDocument(ctx, Document{
		SessionID: "s1",
		SourceURL: "https://example.com/a",
		Content:   "session scoped",
		Embedding: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveDocument(ctx, Document{
		SourceURL: "https://example.com/b",
		Content:   "shared",
	}); err != nil {
		t.Fatalf("save shared: %v", err)
	}

	docs, err := s.DocumentsForSession(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected scoped + shared docs, got %d", len(docs))
	}

	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteDocument(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesSameTimestampKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := s.AddMessage(ctx, Message{
			SessionID: "s1", Role: "user", Content: fmt.Sprintf("m%d", i), CreatedAt: at,
		}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	msgs, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i, m := range msgs {
		if m.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d = %q, insertion order lost", i, m.Content)
		}
	}

	page, err := s.GetMessagesPage(ctx, "s1", 3, 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	want := []string{"m2", "m3", "m4"}
	if len(page.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(page.Messages))
	}
	for i, w := range want {
		if page.Messages[i].Content != w {
			t.Fatalf("page message %d = %q, want %q", i, page.Messages[i].Content, w)
		}
	}
}

func TestCorruptTimestampReportsColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE sessions SET created_at = 'yesterday' WHERE id = 's1'`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, err := s.GetSession(ctx, "s1")
	if err == nil || !strings.Contains(err.Error(), "sessions.created_at") {
		t.Fatalf("expected parse error naming the column, got %v", err)
	}
}
