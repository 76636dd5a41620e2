// Package postgres backs the chat history, instruction sets and the
// collection registry with PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragforge/kbchat/store"
)

// DBPool defines the interface for the database connection pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.ChatHistory, store.InstructionStore and
// store.CollectionStore on one Postgres pool.
type Store struct {
	pool DBPool
}

var (
	_ store.ChatHistory      = (*Store)(nil)
	_ store.InstructionStore = (*Store)(nil)
)

// Options configuration for the Postgres connection.
type Options struct {
	ConnString string
}

// NewStore creates a Store with its own connection pool.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool creates a Store on an existing pool.
// Useful for testing with mocks.
func NewStoreWithPool(pool DBPool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the necessary tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			user_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages (session_id);

		CREATE TABLE IF NOT EXISTS instruction_sets (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			sets JSONB NOT NULL,
			PRIMARY KEY (namespace, key)
		);

		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			user_id TEXT,
			note TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Messages returns the session's turns oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]store.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, COALESCE(user_id, ''), created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.UserID, &m.CreatedAt); err != nil {
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
func (s *Store) AddUserMessage(ctx context.Context, sessionID, text string) error {
	return s.addMessage(ctx, sessionID, store.RoleHuman, text)
}

// AddAIMessage appends an assistant turn.
func (s *Store) AddAIMessage(ctx context.Context, sessionID, text string) error {
	return s.addMessage(ctx, sessionID, store.RoleAI, text)
}

func (s *Store) addMessage(ctx context.Context, sessionID, role, text string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (session_id, role, content)
		VALUES ($1, $2, $3)
	`, sessionID, role, text)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// Clear removes all turns for the session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}

// Get returns the instruction sets under the pair, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]store.InstructionSet, error) {
	var setsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT sets FROM instruction_sets WHERE namespace = $1 AND key = $2
	`, namespace, key).Scan(&setsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load instruction sets: %w", err)
	}

	var sets []store.InstructionSet
	if err := json.Unmarshal(setsJSON, &sets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instruction sets: %w", err)
	}
	return sets, nil
}

// Put replaces the instruction sets under the pair.
func (s *Store) Put(ctx context.Context, namespace, key string, sets []store.InstructionSet) error {
	setsJSON, err := json.Marshal(sets)
	if err != nil {
		return fmt.Errorf("failed to marshal instruction sets: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO instruction_sets (namespace, key, sets)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, key) DO UPDATE SET sets = EXCLUDED.sets
	`, namespace, key, setsJSON)
	if err != nil {
		return fmt.Errorf("failed to save instruction sets: %w", err)
	}
	return nil
}

// FindByFilter returns all instruction sets matching the filter.
func (s *Store) FindByFilter(ctx context.Context, filter store.InstructionFilter) ([]store.InstructionSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sets FROM instruction_sets WHERE ($1 = '' OR namespace = $1)
	`, filter.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruction sets: %w", err)
	}
	defer rows.Close()

	var out []store.InstructionSet
	for rows.Next() {
		var setsJSON []byte
		if err := rows.Scan(&setsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan instruction set row: %w", err)
		}
		var sets []store.InstructionSet
		if err := json.Unmarshal(setsJSON, &sets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instruction sets: %w", err)
		}
		for _, set := range sets {
			if filter.Name != "" && set.Name != filter.Name {
				continue
			}
			out = append(out, set)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruction set rows: %w", err)
	}
	return out, nil
}

// CollectionRegistry implements store.CollectionStore on the same pool.
type CollectionRegistry struct {
	pool DBPool
}

var _ store.CollectionStore = (*CollectionRegistry)(nil)

// NewCollectionRegistry creates a registry on an existing pool.
func NewCollectionRegistry(pool DBPool) *CollectionRegistry {
	return &CollectionRegistry{pool: pool}
}

// Get returns the collection by name, or store.ErrNotFound.
func (r *CollectionRegistry) Get(ctx context.Context, name string) (*store.Collection, error) {
	var c store.Collection
	err := r.pool.QueryRow(ctx, `
		SELECT name, user_id, note FROM collections WHERE name = $1
	`, name).Scan(&c.Name, &c.UserID, &c.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	return &c, nil
}

// List returns all registered collections.
func (r *CollectionRegistry) List(ctx context.Context) ([]store.Collection, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, user_id, note FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []store.Collection
	for rows.Next() {
		var c store.Collection
		if err := rows.Scan(&c.Name, &c.UserID, &c.Note); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection rows: %w", err)
	}
	return out, nil
}

// Save inserts or replaces a collection entry.
func (r *CollectionRegistry) Save(ctx context.Context, c store.Collection) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO collections (name, user_id, note)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET user_id = EXCLUDED.user_id, note = EXCLUDED.note
	`, c.Name, c.UserID, c.Note)
	if err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}
