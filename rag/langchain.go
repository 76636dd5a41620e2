package rag

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// LangChainVectorIndex adapts a langchaingo vector store (pgvector,
// chroma, ...) to the VectorIndex surface used by the hybrid
// retriever, plus AddTexts for ingestion.
type LangChainVectorIndex struct {
	store vectorstores.VectorStore
	opts  []vectorstores.Option
}

var _ VectorIndex = (*LangChainVectorIndex)(nil)

// NewLangChainVectorIndex wraps a langchaingo vector store. Extra
// options (namespace, filters) apply to every call.
func NewLangChainVectorIndex(store vectorstores.VectorStore, opts ...vectorstores.Option) *LangChainVectorIndex {
	return &LangChainVectorIndex{store: store, opts: opts}
}

// SimilaritySearch runs nearest-neighbor search and converts hits.
func (ix *LangChainVectorIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	docs, err := ix.store.SimilaritySearch(ctx, query, k, ix.opts...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := make([]SearchResult, len(docs))
	for i, doc := range docs {
		results[i] = SearchResult{
			Document: fromSchemaDocument(doc, i),
			Score:    float64(doc.Score),
		}
	}
	return results, nil
}

// AddTexts stores texts with their metadata.
func (ix *LangChainVectorIndex) AddTexts(ctx context.Context, texts []string, metadatas []map[string]any) ([]string, error) {
	docs := make([]schema.Document, len(texts))
	for i, text := range texts {
		var md map[string]any
		if i < len(metadatas) {
			md = metadatas[i]
		}
		docs[i] = schema.Document{PageContent: text, Metadata: md}
	}

	ids, err := ix.store.AddDocuments(ctx, docs, ix.opts...)
	if err != nil {
		return nil, fmt.Errorf("add documents: %w", err)
	}
	return ids, nil
}

// fromSchemaDocument converts a langchaingo document. Stores that do
// not return ids get a synthetic one from the hit position and
// document name, which keeps deduplication stable within one search.
func fromSchemaDocument(doc schema.Document, position int) Document {
	id := ""
	if v, ok := doc.Metadata["id"].(string); ok {
		id = v
	}
	if id == "" {
		id = fmt.Sprintf("%s#%d", docName(doc.Metadata), position)
	}
	return Document{
		ID:       id,
		Content:  doc.PageContent,
		Metadata: doc.Metadata,
	}
}

func docName(md map[string]any) string {
	if md == nil {
		return "doc"
	}
	if v, ok := md[MetaDocumentName].(string); ok && v != "" {
		return v
	}
	return "doc"
}
