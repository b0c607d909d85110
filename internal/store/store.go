package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// timeLayout is RFC3339 with fixed-width nanoseconds so that stored
// timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is a persisted chat session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single chat message within a session.
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessagePage is one window of a session's history, counted from the
// newest message backwards.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// SessionMatch is a session returned from full-text search together
// with how many of its messages matched.
type SessionMatch struct {
	Session
	MatchCount int `json:"match_count"`
}

// Document is a retrieved source kept for semantic recall. A document
// with an empty SessionID is shared across sessions.
type Document struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	SourceURL string    `json:"source_url"`
	Content   string    `json:"content"`
	Embedding []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the embedded SQLite database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	// modernc/sqlite handles one writer; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", p, err)
		}
	}

	s := &Store{DB: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			emoji TEXT NOT NULL DEFAULT '💬',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			source_url TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rag_session_id ON rag_documents(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
			id UNINDEXED, title, content='sessions', content_rowid='rowid'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			session_id UNINDEXED, content, content='messages', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS sessions_ai AFTER INSERT ON sessions BEGIN
			INSERT INTO sessions_fts(rowid, id, title) VALUES (new.rowid, new.id, new.title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
			INSERT INTO sessions_fts(sessions_fts, rowid, id, title) VALUES ('delete', old.rowid, old.id, old.title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE ON sessions BEGIN
			INSERT INTO sessions_fts(sessions_fts, rowid, id, title) VALUES ('delete', old.rowid, old.id, old.title);
			INSERT INTO sessions_fts(rowid, id, title) VALUES (new.rowid, new.id, new.title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, session_id, content) VALUES (new.id, new.session_id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, session_id, content) VALUES ('delete', old.id, old.session_id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, session_id, content) VALUES ('delete', old.id, old.session_id, old.content);
			INSERT INTO messages_fts(rowid, session_id, content) VALUES (new.id, new.session_id, new.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return s.backfillFTS(ctx)
}

// backfillFTS populates the full-text indexes for databases created
// before the FTS tables existed.
func (s *Store) backfillFTS(ctx context.Context) error {
	var ftsCount, baseCount int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions_fts`).Scan(&ftsCount); err != nil {
		return err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&baseCount); err != nil {
		return err
	}
	if ftsCount == 0 && baseCount > 0 {
		if _, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions_fts(rowid, id, title) SELECT rowid, id, title FROM sessions
`); err != nil {
			return fmt.Errorf("backfilling session index: %w", err)
		}
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages_fts`).Scan(&ftsCount); err != nil {
		return err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&baseCount); err != nil {
		return err
	}
	if ftsCount == 0 && baseCount > 0 {
		if _, err := s.DB.ExecContext(ctx, `
INSERT INTO messages_fts(rowid, session_id, content) SELECT id, session_id, content FROM messages
`); err != nil {
			return fmt.Errorf("backfilling message index: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// parseTime names the column in its error so a corrupt timestamp is
// traceable to the row field that held it.
func parseTime(column, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %q: %w", column, s, err)
	}
	return t, nil
}

// UpsertSession inserts the session or, when the id already exists,
// refreshes its title, emoji and updated_at.
func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id required")
	}
	if sess.Emoji == "" {
		sess.Emoji = "💬"
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (id, title, emoji, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, emoji = excluded.emoji, updated_at = excluded.updated_at
`, sess.ID, sess.Title, sess.Emoji, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns the session by id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, title, emoji, created_at, updated_at FROM sessions WHERE id = ?
`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, emoji, created_at, updated_at FROM sessions ORDER BY updated_at DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session; messages and documents cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Emoji, &created, &updated); err != nil {
		return Session{}, err
	}
	var err error
	if sess.CreatedAt, err = parseTime("sessions.created_at", created); err != nil {
		return Session{}, err
	}
	if sess.UpdatedAt, err = parseTime("sessions.updated_at", updated); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// AddMessage appends a message and bumps the session's updated_at to
// the message timestamp. Returns the new message id.
func (s *Store) AddMessage(ctx context.Context, m Message) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	created := formatTime(m.CreatedAt)
	var meta any
	if len(m.Metadata) > 0 {
		meta = string(m.Metadata)
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO messages (session_id, role, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?)
`, m.SessionID, m.Role, m.Content, meta, created)
	if err != nil {
		return 0, fmt.Errorf("adding message to %s: %w", m.SessionID, err)
	}
	if _, err := s.DB.ExecContext(ctx, `
UPDATE sessions SET updated_at = ? WHERE id = ?
`, created, m.SessionID); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ReplaceMessages swaps the session's entire history for msgs in a
// single transaction and bumps updated_at to the newest message.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, msgs []Message) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing messages for %s: %w", sessionID, err)
	}
	var last string
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		created := formatTime(m.CreatedAt)
		var meta any
		if len(m.Metadata) > 0 {
			meta = string(m.Metadata)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (session_id, role, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?)
`, sessionID, m.Role, m.Content, meta, created); err != nil {
			return fmt.Errorf("inserting message for %s: %w", sessionID, err)
		}
		last = created
	}
	if last != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET updated_at = ? WHERE id = ?
`, last, sessionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetMessages returns the full history, oldest first.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content, metadata, created_at
FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetMessagesPage returns one window of history counted backwards from
// the newest message, with the window itself in chronological order.
func (s *Store) GetMessagesPage(ctx context.Context, sessionID string, limit, offset int) (MessagePage, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM messages WHERE session_id = ?
`, sessionID).Scan(&total); err != nil {
		return MessagePage{}, err
	}

	realLimit := limit
	if rem := total - offset; rem < realLimit {
		realLimit = rem
	}
	if realLimit < 0 {
		realLimit = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content, metadata, created_at FROM (
	SELECT id, session_id, role, content, metadata, created_at
	FROM messages WHERE session_id = ?
	ORDER BY created_at DESC, id DESC LIMIT ?
) ORDER BY created_at ASC, id ASC LIMIT ?
`, sessionID, offset+limit, realLimit)
	if err != nil {
		return MessagePage{}, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return MessagePage{}, err
	}
	return MessagePage{
		Messages: msgs,
		Total:    total,
		HasMore:  offset+len(msgs) < total,
	}, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var meta sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &meta, &created); err != nil {
			return nil, err
		}
		if meta.Valid {
			m.Metadata = json.RawMessage(meta.String)
		}
		ts, err := parseTime("messages.created_at", created)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = ts
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchSessions finds sessions whose title or message content matches
// query. Matching is full-text first with a substring fallback when the
// indexed search yields nothing. MatchCount reports matching messages
// per session; a title-only hit counts as one. A limit above zero caps
// the result after the recency sort; an empty query lists all sessions.
func (s *Store) SearchSessions(ctx context.Context, query string, limit int) ([]SessionMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		sessions, err := s.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]SessionMatch, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, SessionMatch{Session: sess})
		}
		return capMatches(out, limit), nil
	}

	matches, err := s.searchSessionsFTS(ctx, query)
	if err != nil || len(matches) == 0 {
		matches, err = s.searchSessionsLike(ctx, query)
		if err != nil {
			return nil, err
		}
	}
	return capMatches(matches, limit), nil
}

func capMatches(matches []SessionMatch, limit int) []SessionMatch {
	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}

func (s *Store) searchSessionsFTS(ctx context.Context, query string) ([]SessionMatch, error) {
	// Phrase syntax keeps user punctuation from being parsed as FTS
	// operators.
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`

	byID := map[string]*SessionMatch{}

	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.title, s.emoji, s.created_at, s.updated_at
FROM sessions_fts f JOIN sessions s ON s.rowid = f.rowid
WHERE sessions_fts MATCH ?
`, phrase)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[sess.ID] = &SessionMatch{Session: sess, MatchCount: 1}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.DB.QueryContext(ctx, `
SELECT m.session_id, COUNT(*)
FROM messages_fts m
WHERE messages_fts MATCH ?
GROUP BY m.session_id
`, phrase)
	if err != nil {
		return nil, err
	}
	contentCounts := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, err
		}
		contentCounts[id] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for id, n := range contentCounts {
		if m, ok := byID[id]; ok {
			m.MatchCount = n
			continue
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		byID[id] = &SessionMatch{Session: sess, MatchCount: n}
	}

	out := make([]SessionMatch, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) searchSessionsLike(ctx context.Context, query string) ([]SessionMatch, error) {
	pattern := "%" + query + "%"
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.title, s.emoji, s.created_at, s.updated_at,
       COUNT(CASE WHEN m.content LIKE ? THEN 1 END) AS match_count
FROM sessions s
LEFT JOIN messages m ON m.session_id = s.id
WHERE s.title LIKE ? OR m.content LIKE ?
GROUP BY s.id
ORDER BY s.updated_at DESC
`, pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionMatch
	for rows.Next() {
		var m SessionMatch
		var created, updated string
		if err := rows.Scan(&m.ID, &m.Title, &m.Emoji, &created, &updated, &m.MatchCount); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime("sessions.created_at", created); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = parseTime("sessions.updated_at", updated); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveDocument stores a retrieved source. A generated id is assigned
// when empty.
func (s *Store) SaveDocument(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	var sessionID any
	if doc.SessionID != "" {
		sessionID = doc.SessionID
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO rag_documents (id, session_id, source_url, content, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET content = excluded.content, embedding = excluded.embedding
`, doc.ID, sessionID, doc.SourceURL, doc.Content, doc.Embedding, formatTime(doc.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("saving document %s: %w", doc.SourceURL, err)
	}
	return doc.ID, nil
}

// DocumentsForSession returns the session's documents plus the shared
// ones, oldest first.
func (s *Store) DocumentsForSession(ctx context.Context, sessionID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, source_url, content, embedding, created_at
FROM rag_documents
WHERE session_id = ? OR session_id IS NULL
ORDER BY created_at ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var sess sql.NullString
		var created string
		if err := rows.Scan(&d.ID, &sess, &d.SourceURL, &d.Content, &d.Embedding, &created); err != nil {
			return nil, err
		}
		if sess.Valid {
			d.SessionID = sess.String
		}
		if d.CreatedAt, err = parseTime("rag_documents.created_at", created); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes a stored source.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM rag_documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
