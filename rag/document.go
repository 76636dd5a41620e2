package rag

import (
	"context"
	"fmt"
)

// Metadata keys carried by retrieved documents.
const (
	MetaTopic        = "topic"
	MetaTitles       = "titles"
	MetaViewURL      = "view_url"
	MetaDocumentName = "document_name"
	MetaType         = "type"
	MetaOrder        = "order"
	MetaCollection   = "document_collection"
)

// Document content types.
const (
	TypeText  = "text"
	TypeTable = "table"
)

// Document is one stored or retrieved document fragment.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// MetaString returns a metadata value as a string, or "" when absent.
func (d Document) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// MetaInt returns a metadata value as an int, or def when absent or
// not numeric.
func (d Document) MetaInt(key string, def int) int {
	if d.Metadata == nil {
		return def
	}
	switch v := d.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// SearchResult is a document with its retrieval score.
type SearchResult struct {
	Document Document
	Score    float64
}

// VectorIndex is the dense-retrieval surface consumed by the hybrid
// retriever: nearest-neighbor search over one collection.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// VectorStore extends VectorIndex with the write and admin operations
// used by the Indexer and the lexical-index builder.
type VectorStore interface {
	VectorIndex

	// AddTexts stores texts with their metadata, returning assigned ids.
	AddTexts(ctx context.Context, texts []string, metadatas []map[string]any) ([]string, error)

	// Delete removes documents by id.
	Delete(ctx context.Context, ids []string) error

	// DeleteCollection drops the whole collection.
	DeleteCollection(ctx context.Context) error

	// Dump returns every stored document, used to build lexical indexes
	// and to resolve ids for delete-by-name.
	Dump(ctx context.Context) ([]Document, error)
}

// LexicalIndex is the sparse-retrieval surface: term-based ranking
// over a fixed document pool.
type LexicalIndex interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}
