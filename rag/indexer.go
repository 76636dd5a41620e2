package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/ragforge/kbchat/log"
)

// DefaultBatchSize is the number of texts written per AddTexts call.
const DefaultBatchSize = 50

// DefaultBatchPause is the pacing delay between ingestion batches.
const DefaultBatchPause = 500 * time.Millisecond

// Indexer handles bulk writes into a vector store: batched inserts
// with inter-batch pacing, delete-by-document-name and full collection
// drops.
type Indexer struct {
	Store      VectorStore
	BatchSize  int
	BatchPause time.Duration
	Logger     log.Logger
}

// NewIndexer creates an Indexer with default batching.
func NewIndexer(store VectorStore, logger log.Logger) *Indexer {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Indexer{
		Store:      store,
		BatchSize:  DefaultBatchSize,
		BatchPause: DefaultBatchPause,
		Logger:     logger,
	}
}

// AddDocuments writes documents in batches, pausing between batches.
func (ix *Indexer) AddDocuments(ctx context.Context, docs []Document) error {
	for start := 0; start < len(docs); start += ix.BatchSize {
		end := start + ix.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		metadatas := make([]map[string]any, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
			metadatas[i] = doc.Metadata
		}

		if _, err := ix.Store.AddTexts(ctx, texts, metadatas); err != nil {
			return fmt.Errorf("add batch %d-%d: %w", start, end, err)
		}
		ix.Logger.Debug("indexed batch %d-%d of %d", start, end, len(docs))

		if end < len(docs) && ix.BatchPause > 0 {
			select {
			case <-time.After(ix.BatchPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// RemoveByDocumentName deletes every stored fragment whose metadata
// carries the given document name.
func (ix *Indexer) RemoveByDocumentName(ctx context.Context, name string) error {
	docs, err := ix.Store.Dump(ctx)
	if err != nil {
		return fmt.Errorf("dump collection: %w", err)
	}

	var ids []string
	for _, doc := range docs {
		if doc.MetaString(MetaDocumentName) == name {
			ids = append(ids, doc.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ix.Store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete %d fragments of %s: %w", len(ids), name, err)
	}
	return nil
}

// ReplaceDocument removes the existing fragments of a document and
// writes the new ones.
func (ix *Indexer) ReplaceDocument(ctx context.Context, name string, docs []Document) error {
	if err := ix.RemoveByDocumentName(ctx, name); err != nil {
		return err
	}
	return ix.AddDocuments(ctx, docs)
}

// DropCollection removes the whole collection.
func (ix *Indexer) DropCollection(ctx context.Context) error {
	return ix.Store.DeleteCollection(ctx)
}
