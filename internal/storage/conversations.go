// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations and sign-in records in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/model"
)

// ErrConversationNotFound is returned when a conversation does not exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is matches any ConversationError with the same message, and ErrNotFound
// for the not-found case.
func (e *ConversationError) Is(target error) bool {
	if target == ErrNotFound {
		return e.Message == ErrConversationNotFound.Message
	}
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Conversation is a stored conversation with its committed messages.
type Conversation struct {
	ConversationMeta
	Messages []model.Message `json:"messages"`
}

// titleLength is the rune length of titles derived from the first prompt.
const titleLength = 50

// NewConversationID returns a fresh conversation ID.
func NewConversationID() string {
	return uuid.NewString()
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore reads and writes conversations.
type ConversationStore struct {
	db  *sql.DB
	log *zap.Logger
}

// Conversations returns the conversation store backed by s.
func (s *Store) Conversations() *ConversationStore {
	return &ConversationStore{db: s.db, log: s.log}
}

// SaveExchange appends a committed [user, assistant] pair to a conversation,
// creating the conversation on first use. Both rows are written in one
// transaction.
func (c *ConversationStore) SaveExchange(ctx context.Context, convID, modelName string, user, assistant model.Message) error {
	if convID == "" {
		return &ConversationError{Message: "conversation id is required"}
	}
	if user.Role != model.RoleUser || assistant.Role != model.RoleAssistant {
		return model.ErrInvalidExchange
	}

	now := time.Now()
	title := user.Preview(titleLength)

	err := withTx(ctx, c.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, model, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				updated_at = excluded.updated_at,
				model = CASE WHEN excluded.model != '' THEN excluded.model ELSE conversations.model END`,
			convID, title, modelName, now.UnixNano(), now.UnixNano())
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?`, convID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		for i, msg := range []model.Message{user, assistant} {
			if err := insertMessage(ctx, tx, convID, next+int64(i), msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save exchange to %s: %w", convID, err)
	}

	c.log.Debug("exchange saved",
		zap.String("conversation", convID),
		zap.Int("reply_bytes", len(assistant.Content)))
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, convID string, seq int64, msg model.Message) error {
	id := msg.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var hasStats int
	var stats model.GenerationStats
	if msg.Meta != nil {
		hasStats = 1
		stats = *msg.Meta
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, seq, role, content, created_at, has_stats,
			load_duration, total_duration, eval_count, prompt_eval_count, eval_duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, convID, seq, string(msg.Role), msg.Content, ts.UnixNano(), hasStats,
		stats.LoadDuration, stats.TotalDuration, stats.EvalCount, stats.PromptEvalCount, stats.EvalDuration)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", seq, err)
	}
	return nil
}

// Load returns a conversation with all of its messages in commit order.
func (c *ConversationStore) Load(ctx context.Context, convID string) (*Conversation, error) {
	meta, err := c.meta(ctx, convID)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, role, content, created_at, has_stats,
		       load_duration, total_duration, eval_count, prompt_eval_count, eval_duration
		FROM messages WHERE conversation_id = ? ORDER BY seq`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	conv := &Conversation{ConversationMeta: *meta}
	for rows.Next() {
		var (
			msg      model.Message
			role     string
			created  int64
			hasStats int
			stats    model.GenerationStats
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &created, &hasStats,
			&stats.LoadDuration, &stats.TotalDuration, &stats.EvalCount,
			&stats.PromptEvalCount, &stats.EvalDuration); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, created)
		if hasStats == 1 {
			s := stats
			msg.Meta = &s
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	conv.MessageCount = len(conv.Messages)
	return conv, nil
}

// LoadTranscript rebuilds the committed transcript of a conversation.
func (c *ConversationStore) LoadTranscript(ctx context.Context, convID string) (*model.Transcript, error) {
	conv, err := c.Load(ctx, convID)
	if err != nil {
		return nil, err
	}
	return model.NewTranscript(conv.Messages...)
}

func (c *ConversationStore) meta(ctx context.Context, convID string) (*ConversationMeta, error) {
	var (
		meta             ConversationMeta
		created, updated int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, convID,
	).Scan(&meta.ID, &meta.Title, &meta.Model, &created, &updated, &meta.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	meta.CreatedAt = time.Unix(0, created)
	meta.UpdatedAt = time.Unix(0, updated)
	return &meta, nil
}

// ListConversations returns conversation metadata, most recently updated first.
func (c *ConversationStore) ListConversations(ctx context.Context) ([]ConversationMeta, error) {
	return c.list(ctx, "")
}

// Search returns conversations whose title or messages contain query,
// case-insensitively.
func (c *ConversationStore) Search(ctx context.Context, query string) ([]ConversationMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.list(ctx, "")
	}
	return c.list(ctx, query)
}

func (c *ConversationStore) list(ctx context.Context, query string) ([]ConversationMeta, error) {
	stmt := `
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c`
	var args []any
	if query != "" {
		pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
		stmt += `
		WHERE LOWER(c.title) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM messages m
		              WHERE m.conversation_id = c.id AND LOWER(m.content) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	stmt += ` ORDER BY c.updated_at DESC, c.id`

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	metas := []ConversationMeta{}
	for rows.Next() {
		var (
			meta             ConversationMeta
			created, updated int64
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model, &created, &updated, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// DeleteConversation removes a conversation and its messages.
func (c *ConversationStore) DeleteConversation(ctx context.Context, convID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, convID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	c.log.Info("conversation deleted", zap.String("conversation", convID))
	return nil
}

// =============================================================================
// PERSISTENT TRANSCRIPT
// =============================================================================

// persistTimeout bounds a single commit write.
const persistTimeout = 5 * time.Second

// PersistentTranscript is a transcript whose exchanges are written to the
// store before they become visible in memory. A failed write commits nothing.
type PersistentTranscript struct {
	mu    sync.Mutex
	store *ConversationStore
	id    string
	model string
	mem   *model.Transcript
}

// OpenTranscript loads a conversation as a transcript. A conversation that
// does not exist yet starts empty and is created by its first exchange.
func (c *ConversationStore) OpenTranscript(ctx context.Context, convID, modelName string) (*PersistentTranscript, error) {
	if convID == "" {
		return nil, &ConversationError{Message: "conversation id is required"}
	}
	mem, err := c.LoadTranscript(ctx, convID)
	if errors.Is(err, ErrConversationNotFound) {
		mem, err = model.NewEmptyTranscript(), nil
	}
	if err != nil {
		return nil, err
	}
	return &PersistentTranscript{store: c, id: convID, model: modelName, mem: mem}, nil
}

// ID returns the conversation ID.
func (t *PersistentTranscript) ID() string {
	return t.id
}

// AppendExchange persists the pair, then appends it in memory.
func (t *PersistentTranscript) AppendExchange(user, assistant model.Message) error {
	if user.Role != model.RoleUser || assistant.Role != model.RoleAssistant {
		return model.ErrInvalidExchange
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.mem.Last(); ok && last.Role == model.RoleUser {
		return model.ErrRoleSequence
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.store.SaveExchange(ctx, t.id, t.model, user, assistant); err != nil {
		return err
	}
	return t.mem.AppendExchange(user, assistant)
}

// Messages returns a copy of the committed history.
func (t *PersistentTranscript) Messages() []model.Message {
	return t.mem.Messages()
}

// Len returns the number of committed messages.
func (t *PersistentTranscript) Len() int {
	return t.mem.Len()
}
