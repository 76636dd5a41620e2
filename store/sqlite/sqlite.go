// Package sqlite keeps chat history in a local SQLite file, suitable
// for development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ragforge/kbchat/store"
)

// ChatHistory implements store.ChatHistory on SQLite.
type ChatHistory struct {
	db *sql.DB
}

var _ store.ChatHistory = (*ChatHistory)(nil)

// Options configuration for the SQLite connection.
type Options struct {
	Path string
}

// NewChatHistory opens (or creates) the database and its schema.
func NewChatHistory(opts Options) (*ChatHistory, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	h := &ChatHistory{db: db}
	if err := h.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *ChatHistory) initSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages (session_id);
	`
	if _, err := h.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (h *ChatHistory) Close() error {
	return h.db.Close()
}

// Messages returns the session's turns oldest first.
func (h *ChatHistory) Messages(ctx context.Context, sessionID string) ([]store.Message, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}
	return msgs, nil
}

// AddUserMessage appends a human turn.
func (h *ChatHistory) AddUserMessage(ctx context.Context, sessionID, text string) error {
	return h.append(ctx, sessionID, store.RoleHuman, text)
}

// AddAIMessage appends an assistant turn.
func (h *ChatHistory) AddAIMessage(ctx context.Context, sessionID, text string) error {
	return h.append(ctx, sessionID, store.RoleAI, text)
}

func (h *ChatHistory) append(ctx context.Context, sessionID, role, text string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, content)
		VALUES (?, ?, ?)
	`, sessionID, role, text)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// Clear removes all turns for the session.
func (h *ChatHistory) Clear(ctx context.Context, sessionID string) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}
