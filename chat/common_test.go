package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/log"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
)

// routedLLM answers each prompt kind with a canned reply, so parallel
// nodes can call it in any order.
type routedLLM struct {
	mu           sync.Mutex
	classify     string
	queries      string
	multiQueries string
	instructions string
	answer       string
	streamErr    error

	calls []string
}

func (r *routedLLM) route(prompt string) (kind, reply string) {
	switch {
	case strings.Contains(prompt, "Classify the user's latest message"):
		return "classify", r.classify
	case strings.Contains(prompt, "Collections:"):
		return "multi_queries", r.multiQueries
	case strings.Contains(prompt, "Generate search queries"):
		return "queries", r.queries
	case strings.Contains(prompt, "Rewrite the stored instruction sets"):
		return "instructions", r.instructions
	default:
		return "generate", r.answer
	}
}

func (r *routedLLM) Invoke(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind, reply := r.route(prompt)
	r.calls = append(r.calls, kind)
	if reply == "" {
		return "", fmt.Errorf("no reply scripted for %s", kind)
	}
	return reply, nil
}

func (r *routedLLM) Stream(ctx context.Context, prompt string, onChunk llm.StreamFunc) (string, error) {
	text, err := r.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	streamErr := r.streamErr
	r.mu.Unlock()

	var sent strings.Builder
	for i, word := range strings.Fields(text) {
		if streamErr != nil && i > 0 {
			return "", streamErr
		}
		chunk := word
		if i > 0 {
			chunk = " " + word
		}
		if err := onChunk(ctx, chunk); err != nil {
			return "", err
		}
		sent.WriteString(chunk)
	}
	return sent.String(), nil
}

func (r *routedLLM) callCount(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == kind {
			n++
		}
	}
	return n
}

// stubRetriever returns canned documents and records the queries it
// was asked.
type stubRetriever struct {
	mu      sync.Mutex
	docs    []rag.Document
	err     error
	queries [][]string
}

func (r *stubRetriever) Retrieve(_ context.Context, queries []string) ([]rag.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, queries)
	if r.err != nil {
		return nil, r.err
	}
	return r.docs, nil
}

func (r *stubRetriever) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func kbDoc(name, topic, body string, order int) rag.Document {
	return rag.Document{
		ID:      name + "#0",
		Content: body,
		Metadata: map[string]any{
			rag.MetaTopic:        topic,
			rag.MetaTitles:       topic,
			rag.MetaViewURL:      "https://kb.example.com/" + name,
			rag.MetaDocumentName: name,
			rag.MetaType:         rag.TypeText,
			rag.MetaOrder:        order,
			rag.MetaCollection:   "handbook",
		},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)
}

// testGraph builds a Graph with in-memory collaborators.
func testGraph(client llm.Client, retriever QueryRetriever) (*Graph, *memoryStores) {
	stores := newMemoryStores()
	return &Graph{
		Client:       client,
		Retriever:    retriever,
		History:      stores,
		Instructions: stores,
		Logger:       &log.NoOpLogger{},
		Now:          fixedNow,
	}, stores
}

// memoryStores is a minimal in-package ChatHistory + InstructionStore.
type memoryStores struct {
	mu           sync.Mutex
	histories    map[string][]store.Message
	instructions map[string][]store.InstructionSet
	putCalls     int
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		histories:    make(map[string][]store.Message),
		instructions: make(map[string][]store.InstructionSet),
	}
}

func (m *memoryStores) Messages(_ context.Context, sessionID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Message, len(m.histories[sessionID]))
	copy(out, m.histories[sessionID])
	return out, nil
}

func (m *memoryStores) AddUserMessage(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[sessionID] = append(m.histories[sessionID], store.Message{Role: store.RoleHuman, Content: text})
	return nil
}

func (m *memoryStores) AddAIMessage(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[sessionID] = append(m.histories[sessionID], store.Message{Role: store.RoleAI, Content: text})
	return nil
}

func (m *memoryStores) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, sessionID)
	return nil
}

func (m *memoryStores) Get(_ context.Context, namespace, key string) ([]store.InstructionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets, ok := m.instructions[namespace+"/"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sets, nil
}

func (m *memoryStores) Put(_ context.Context, namespace, key string, sets []store.InstructionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instructions[namespace+"/"+key] = sets
	m.putCalls++
	return nil
}

func (m *memoryStores) FindByFilter(_ context.Context, filter store.InstructionFilter) ([]store.InstructionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.InstructionSet
	for k, sets := range m.instructions {
		if filter.Namespace != "" && !strings.HasPrefix(k, filter.Namespace+"/") {
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

// stubRegistry resolves collections from a fixed map.
type stubRegistry struct {
	collections map[string]store.Collection
}

func (r *stubRegistry) Get(_ context.Context, name string) (*store.Collection, error) {
	c, ok := r.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *stubRegistry) List(_ context.Context) ([]store.Collection, error) {
	var out []store.Collection
	for _, c := range r.collections {
		out = append(out, c)
	}
	return out, nil
}

func (r *stubRegistry) Save(_ context.Context, c store.Collection) error {
	r.collections[c.Name] = c
	return nil
}
