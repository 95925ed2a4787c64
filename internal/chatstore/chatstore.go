// Package chatstore persists conversation messages in SQLite. Messages are
// append-only; the only mutation ever applied to a written row is a one-time
// feedback rating.
package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Roles a message can carry. Summary rows compress older history out of the
// prompt window and are written by the system user only.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleSummary   = "summary"
)

var (
	ErrNotFound       = errors.New("message not found")
	ErrFeedbackSet    = errors.New("feedback already recorded")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrConversationID = errors.New("conversation id required")
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_history (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	username        TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	feedback        INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chat_history_conversation ON chat_history(conversation_id);
CREATE INDEX IF NOT EXISTS idx_chat_history_username ON chat_history(username);
`

// Message is one conversation turn.
type Message struct {
	ID             int64     `json:"chat_id"`
	ConversationID string    `json:"conversation_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Feedback       *int      `json:"feedback,omitempty"`
}

// ConversationSummary is the per-conversation digest returned to chat list
// views: the opening user message, the message count, and when it started.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	FirstMessage   string    `json:"first_message"`
	MessageCount   int       `json:"message_count"`
	FirstTime      time.Time `json:"first_time"`
}

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one message with the given timestamp and returns its id.
func (s *Store) Insert(ctx context.Context, m Message) (int64, error) {
	if m.ConversationID == "" {
		return 0, ErrConversationID
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (conversation_id, username, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ConversationID, m.Username, m.Role, m.Content, timeToString(ts),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// History returns every message of a conversation in timestamp order.
func (s *Store) History(ctx context.Context, conversationID string) ([]Message, error) {
	return s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history WHERE conversation_id = ? ORDER BY timestamp, id`, conversationID)
}

// NonSummaryHistory returns a conversation's messages excluding summary rows,
// in timestamp order.
func (s *Store) NonSummaryHistory(ctx context.Context, conversationID string) ([]Message, error) {
	return s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history WHERE conversation_id = ? AND role != ? ORDER BY timestamp, id`,
		conversationID, RoleSummary)
}

// LatestSummary returns the most recent summary-role message for the
// conversation, or nil when none has been written yet. Older summaries stay
// in the table for audit but only the newest one is active.
func (s *Store) LatestSummary(ctx context.Context, conversationID string) (*Message, error) {
	msgs, err := s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history WHERE conversation_id = ? AND role = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		conversationID, RoleSummary)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ListAll returns every stored message in timestamp order.
func (s *Store) ListAll(ctx context.Context) ([]Message, error) {
	return s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history ORDER BY timestamp, id`)
}

// ListByUsername returns every message written under a username, in
// timestamp order.
func (s *Store) ListByUsername(ctx context.Context, username string) ([]Message, error) {
	return s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history WHERE username = ? ORDER BY timestamp, id`, username)
}

// ByID returns a single message.
func (s *Store) ByID(ctx context.Context, id int64) (*Message, error) {
	msgs, err := s.query(ctx,
		`SELECT id, conversation_id, username, role, content, timestamp, feedback
		FROM chat_history WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// SetFeedback records a 1..5 rating on a message. A rating can be recorded
// once; later attempts fail with ErrFeedbackSet.
func (s *Store) SetFeedback(ctx context.Context, id int64, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_history SET feedback = ? WHERE id = ? AND feedback IS NULL`, rating, id)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	if n == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return ErrFeedbackSet
	}
	return nil
}

// MessageCount returns the number of messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM chat_history WHERE conversation_id = ?`, conversationID); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ConversationSummaries returns one digest per conversation the user has
// participated in, newest conversation first.
func (s *Store) ConversationSummaries(ctx context.Context, username string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT conversation_id, COUNT(*) AS message_count, MIN(timestamp) AS first_time
		FROM chat_history WHERE username = ? GROUP BY conversation_id ORDER BY first_time DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []ConversationSummary{}
	for rows.Next() {
		var cs ConversationSummary
		var firstTime string
		if err := rows.Scan(&cs.ConversationID, &cs.MessageCount, &firstTime); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		cs.FirstTime, _ = time.Parse(time.RFC3339Nano, firstTime)
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range summaries {
		var first string
		err := s.db.GetContext(ctx, &first,
			`SELECT content FROM chat_history WHERE conversation_id = ? AND role = ? ORDER BY timestamp, id LIMIT 1`,
			summaries[i].ConversationID, RoleUser)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("first message: %w", err)
		}
		summaries[i].FirstMessage = first
	}
	return summaries, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var ts string
		var feedback sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Username, &m.Role, &m.Content, &ts, &feedback); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if feedback.Valid {
			v := int(feedback.Int64)
			m.Feedback = &v
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

func timeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
