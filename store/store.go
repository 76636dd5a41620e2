// Package store defines the persistence contracts the chat core
// depends on: per-session chat history, per-conversation instruction
// sets, and the collection registry the multi-source path reads.
package store

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// InstructionsKey is the key instruction sets live under within a
// conversation's namespace.
const InstructionsKey = "instructions"

// ErrNotFound is returned when a keyed lookup has no value.
var ErrNotFound = errors.New("store: not found")

// Message is one chat turn as persisted in history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InstructionSet is a named set of behavioral preferences for a
// conversation. Updates replace the whole list for a key, they are
// never merged.
type InstructionSet struct {
	Name         string `json:"name"`
	Purpose      string `json:"purpose"`
	Instructions string `json:"instructions"`
}

// Collection is an entry in the source registry. Note must be set for
// the collection to be selectable as a multi-source query target;
// UserID is nil for shared collections.
type Collection struct {
	Name   string  `json:"name"`
	UserID *string `json:"user_id,omitempty"`
	Note   string  `json:"note"`
}

// ChatHistory persists ordered chat turns per session.
type ChatHistory interface {
	// Messages returns the session's turns oldest first.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// AddUserMessage appends a human turn.
	AddUserMessage(ctx context.Context, sessionID, text string) error

	// AddAIMessage appends an assistant turn.
	AddAIMessage(ctx context.Context, sessionID, text string) error

	// Clear removes all turns for the session.
	Clear(ctx context.Context, sessionID string) error
}

// InstructionFilter selects instruction sets in FindByFilter. Empty
// fields match everything.
type InstructionFilter struct {
	Namespace string
	Name      string
}

// InstructionStore keeps instruction sets under a (namespace, key)
// pair; the namespace is the conversation id.
type InstructionStore interface {
	// Get returns the sets stored under the pair, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]InstructionSet, error)

	// Put replaces the sets stored under the pair.
	Put(ctx context.Context, namespace, key string, sets []InstructionSet) error

	// FindByFilter returns all sets matching the filter.
	FindByFilter(ctx context.Context, filter InstructionFilter) ([]InstructionSet, error)
}

// CollectionStore is the read side of the source registry.
type CollectionStore interface {
	// Get returns the collection by name, or ErrNotFound.
	Get(ctx context.Context, name string) (*Collection, error)

	// List returns all registered collections.
	List(ctx context.Context) ([]Collection, error)

	// Save inserts or replaces a collection entry.
	Save(ctx context.Context, c Collection) error
}
