package rag

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/kbchat/log"
)

// MaxReturnDocs caps the number of unique documents one hybrid
// retrieval returns.
const MaxReturnDocs = 30

// MinPerQueryDocs is the per-query budget floor so shallow queries
// still get minimal coverage.
const MinPerQueryDocs = 4

// Default ensemble weights: dense similarity dominates, lexical
// ranking contributes recall for exact terms.
const (
	DefaultVectorWeight  = 0.8
	DefaultLexicalWeight = 0.2
)

// rrfC is the rank offset of reciprocal-rank fusion.
const rrfC = 60.0

// HybridRetrieverOptions configures a HybridRetriever.
type HybridRetrieverOptions struct {
	// CollectionName is the collection's display name, annotated onto
	// every returned document.
	CollectionName string

	// UserScoped marks a private collection; its display label gets a
	// "Your Collection: " prefix.
	UserScoped bool

	VectorWeight  float64
	LexicalWeight float64

	// MaxDocs overrides MaxReturnDocs when positive.
	MaxDocs int

	Logger log.Logger
}

// HybridRetriever combines dense vector search and lexical BM25
// ranking over one collection, deduplicates, and caps result count.
type HybridRetriever struct {
	vector  VectorIndex
	lexical LexicalIndex
	opts    HybridRetrieverOptions
}

// NewHybridRetriever builds a retriever over the given indexes.
// lexical may be nil, in which case retrieval is vector-only.
func NewHybridRetriever(vector VectorIndex, lexical LexicalIndex, opts HybridRetrieverOptions) *HybridRetriever {
	if opts.VectorWeight == 0 && opts.LexicalWeight == 0 {
		opts.VectorWeight = DefaultVectorWeight
		opts.LexicalWeight = DefaultLexicalWeight
	}
	if opts.MaxDocs <= 0 {
		opts.MaxDocs = MaxReturnDocs
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &HybridRetriever{vector: vector, lexical: lexical, opts: opts}
}

// NewHybridRetrieverFromStore builds the lexical index from a full
// dump of the store's collection. When the dump fails or the
// collection is empty, it logs a warning and returns a vector-only
// retriever instead of failing.
func NewHybridRetrieverFromStore(ctx context.Context, store VectorStore, opts HybridRetrieverOptions) *HybridRetriever {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	lexical, err := BuildLexicalIndexFromStore(ctx, store)
	if err != nil {
		logger.Warn("lexical index unavailable for %s, using vector-only retrieval: %v", opts.CollectionName, err)
		return NewHybridRetriever(store, nil, opts)
	}
	return NewHybridRetriever(store, lexical, opts)
}

// CollectionLabel returns the display label annotated onto results.
func (h *HybridRetriever) CollectionLabel() string {
	if h.opts.UserScoped {
		return "Your Collection: " + h.opts.CollectionName
	}
	return h.opts.CollectionName
}

// Retrieve runs every query concurrently against both indexes, fuses
// each query's hits with weighted reciprocal-rank scoring, then merges
// across queries deduplicating by document id (first seen wins) up to
// the document cap. Document metadata is annotated with the collection
// label and a stable retrieval order.
func (h *HybridRetriever) Retrieve(ctx context.Context, queries []string) ([]Document, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	perQuery := (h.opts.MaxDocs + len(queries) - 1) / len(queries)
	if perQuery < MinPerQueryDocs {
		perQuery = MinPerQueryDocs
	}

	perQueryHits := make([][]SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			hits, err := h.retrieveOne(gctx, query, perQuery)
			if err != nil {
				return fmt.Errorf("query %q: %w", query, err)
			}
			perQueryHits[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	label := h.CollectionLabel()
	seen := make(map[string]bool)
	var merged []Document
	for _, hits := range perQueryHits {
		for _, hit := range hits {
			if seen[hit.Document.ID] {
				continue
			}
			seen[hit.Document.ID] = true

			doc := hit.Document
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			doc.Metadata[MetaCollection] = label
			doc.Metadata[MetaOrder] = len(merged)
			merged = append(merged, doc)

			if len(merged) >= h.opts.MaxDocs {
				return merged, nil
			}
		}
	}
	return merged, nil
}

// retrieveOne fuses dense and lexical hits for a single query using
// weighted reciprocal-rank fusion.
func (h *HybridRetriever) retrieveOne(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vectorHits, err := h.vector.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, err
	}

	var lexicalHits []SearchResult
	if h.lexical != nil {
		lexicalHits, err = h.lexical.Search(ctx, query, k)
		if err != nil {
			// Lexical failure degrades to vector-only for this query.
			h.opts.Logger.Warn("lexical search failed for %q: %v", query, err)
			lexicalHits = nil
		}
	}

	fused := make(map[string]*scored)

	accumulate := func(hits []SearchResult, weight float64) {
		for rank, hit := range hits {
			s, ok := fused[hit.Document.ID]
			if !ok {
				s = &scored{doc: hit.Document, rank: len(fused)}
				fused[hit.Document.ID] = s
			}
			s.score += weight / (float64(rank) + rrfC)
		}
	}
	accumulate(vectorHits, h.opts.VectorWeight)
	accumulate(lexicalHits, h.opts.LexicalWeight)

	ordered := make([]*scored, 0, len(fused))
	for _, s := range fused {
		ordered = append(ordered, s)
	}
	// Score descending, first-seen rank as the stable tie-break.
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].score != ordered[b].score {
			return ordered[a].score > ordered[b].score
		}
		return ordered[a].rank < ordered[b].rank
	})

	results := make([]SearchResult, 0, k)
	for _, s := range ordered {
		results = append(results, SearchResult{Document: s.doc, Score: s.score})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// scored tracks a document's fused score and its first-seen position
// within one query's merge.
type scored struct {
	doc   Document
	score float64
	rank  int
}
