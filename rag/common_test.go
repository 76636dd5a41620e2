package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ragforge/kbchat/llm"
)

// memoryVectorStore is a VectorStore used across the package tests.
// Search returns canned hits per query in registration order.
type memoryVectorStore struct {
	mu      sync.Mutex
	docs    []Document
	hits    map[string][]SearchResult
	dumpErr error
	calls   int
}

func newMemoryVectorStore() *memoryVectorStore {
	return &memoryVectorStore{hits: make(map[string][]SearchResult)}
}

func (s *memoryVectorStore) setHits(query string, docs ...Document) {
	results := make([]SearchResult, len(docs))
	for i, d := range docs {
		results[i] = SearchResult{Document: d, Score: 1.0 - float64(i)*0.05}
	}
	s.hits[query] = results
}

func (s *memoryVectorStore) SimilaritySearch(_ context.Context, query string, k int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	results := s.hits[query]
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *memoryVectorStore) AddTexts(_ context.Context, texts []string, metadatas []map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(texts))
	for i, text := range texts {
		id := fmt.Sprintf("doc-%d", len(s.docs))
		var md map[string]any
		if i < len(metadatas) {
			md = metadatas[i]
		}
		s.docs = append(s.docs, Document{ID: id, Content: text, Metadata: md})
		ids[i] = id
	}
	return ids, nil
}

func (s *memoryVectorStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.docs[:0]
	for _, d := range s.docs {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	s.docs = kept
	return nil
}

func (s *memoryVectorStore) DeleteCollection(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	return nil
}

func (s *memoryVectorStore) Dump(context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dumpErr != nil {
		return nil, s.dumpErr
	}
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}

// scriptedLLM replies with canned answers in order; after the script
// runs out it repeats the last entry. failing makes every call error.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	failing bool
	calls   int
	prompts []string
}

func (m *scriptedLLM) Invoke(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if m.failing {
		return "", errors.New("llm unavailable")
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	idx := m.calls - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

var _ llm.Client = (*scriptedLLM)(nil)

func (m *scriptedLLM) Stream(ctx context.Context, prompt string, onChunk llm.StreamFunc) (string, error) {
	full, err := m.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		if err := onChunk(ctx, full); err != nil {
			return full, err
		}
	}
	return full, nil
}

func textDoc(id, name, topic, content string, order int) Document {
	return Document{
		ID:      id,
		Content: content,
		Metadata: map[string]any{
			MetaDocumentName: name,
			MetaTopic:        topic,
			MetaTitles:       "Section " + id,
			MetaType:         TypeText,
			MetaOrder:        order,
			MetaViewURL:      "https://kb.example.com/" + name,
		},
	}
}

func tableDoc(id, name, topic, payload string, order int) Document {
	d := textDoc(id, name, topic, payload, order)
	d.Metadata[MetaType] = TypeTable
	return d
}
