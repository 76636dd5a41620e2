// Package memory provides in-process implementations of the store
// contracts, used in tests and stateless deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ragforge/kbchat/store"
)

// Store implements ChatHistory and InstructionStore with plain maps
// guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	histories    map[string][]store.Message
	instructions map[string][]store.InstructionSet
}

var (
	_ store.ChatHistory      = (*Store)(nil)
	_ store.InstructionStore = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		histories:    make(map[string][]store.Message),
		instructions: make(map[string][]store.InstructionSet),
	}
}

// Messages returns the session's turns oldest first.
func (s *Store) Messages(_ context.Context, sessionID string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.histories[sessionID]
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AddUserMessage appends a human turn.
func (s *Store) AddUserMessage(ctx context.Context, sessionID, text string) error {
	return s.append(sessionID, store.RoleHuman, text)
}

// AddAIMessage appends an assistant turn.
func (s *Store) AddAIMessage(ctx context.Context, sessionID, text string) error {
	return s.append(sessionID, store.RoleAI, text)
}

func (s *Store) append(sessionID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[sessionID] = append(s.histories[sessionID], store.Message{
		Role:      role,
		Content:   text,
		CreatedAt: time.Now(),
	})
	return nil
}

// Clear removes all turns for the session.
func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, sessionID)
	return nil
}

func instructionKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get returns the sets stored under the pair, or store.ErrNotFound.
func (s *Store) Get(_ context.Context, namespace, key string) ([]store.InstructionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sets, ok := s.instructions[instructionKey(namespace, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]store.InstructionSet, len(sets))
	copy(out, sets)
	return out, nil
}

// Put replaces the sets stored under the pair.
func (s *Store) Put(_ context.Context, namespace, key string, sets []store.InstructionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]store.InstructionSet, len(sets))
	copy(stored, sets)
	s.instructions[instructionKey(namespace, key)] = stored
	return nil
}

// FindByFilter returns all sets matching the filter.
func (s *Store) FindByFilter(_ context.Context, filter store.InstructionFilter) ([]store.InstructionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.InstructionSet
	prefix := ""
	if filter.Namespace != "" {
		prefix = filter.Namespace + "\x00"
	}
	for k, sets := range s.instructions {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		for _, set := range sets {
			if filter.Name != "" && set.Name != filter.Name {
				continue
			}
			out = append(out, set)
		}
	}
	return out, nil
}

// CollectionRegistry is an in-memory store.CollectionStore.
type CollectionRegistry struct {
	mu          sync.Mutex
	collections map[string]store.Collection
}

var _ store.CollectionStore = (*CollectionRegistry)(nil)

// NewCollectionRegistry creates an empty registry.
func NewCollectionRegistry() *CollectionRegistry {
	return &CollectionRegistry{collections: make(map[string]store.Collection)}
}

// Get returns the collection by name, or store.ErrNotFound.
func (r *CollectionRegistry) Get(_ context.Context, name string) (*store.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// List returns all registered collections.
func (r *CollectionRegistry) List(_ context.Context) ([]store.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	return out, nil
}

// Save inserts or replaces a collection entry.
func (r *CollectionRegistry) Save(_ context.Context, c store.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[c.Name] = c
	return nil
}
