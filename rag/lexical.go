package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"unicode"
)

// ErrEmptyCollection is returned when a lexical index is built from a
// collection with no documents. The hybrid retriever treats it as a
// signal to fall back to vector-only retrieval.
var ErrEmptyCollection = errors.New("collection has no documents")

// BM25 parameters, standard values.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// MemoryLexicalIndex is an in-memory BM25 index over a full collection
// dump. It is immutable once built and safe for concurrent Search.
type MemoryLexicalIndex struct {
	docs      []Document
	docTokens [][]string
	docFreq   map[string]int
	avgLen    float64
}

var _ LexicalIndex = (*MemoryLexicalIndex)(nil)

// BuildLexicalIndex builds a BM25 index from the given documents.
func BuildLexicalIndex(docs []Document) (*MemoryLexicalIndex, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyCollection
	}

	idx := &MemoryLexicalIndex{
		docs:      docs,
		docTokens: make([][]string, len(docs)),
		docFreq:   make(map[string]int),
	}

	var totalLen int
	for i, doc := range docs {
		tokens := tokenize(doc.Content)
		idx.docTokens[i] = tokens
		totalLen += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				idx.docFreq[tok]++
			}
		}
	}
	idx.avgLen = float64(totalLen) / float64(len(docs))

	return idx, nil
}

// BuildLexicalIndexFromStore dumps the store's collection and builds
// a BM25 index over it.
func BuildLexicalIndexFromStore(ctx context.Context, store VectorStore) (*MemoryLexicalIndex, error) {
	docs, err := store.Dump(ctx)
	if err != nil {
		return nil, err
	}
	return BuildLexicalIndex(docs)
}

// Search returns the top k documents by BM25 score for the query.
// Documents with zero score are omitted.
func (idx *MemoryLexicalIndex) Search(_ context.Context, query string, k int) ([]SearchResult, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	n := float64(len(idx.docs))
	results := make([]SearchResult, 0, k)

	for i, doc := range idx.docs {
		tf := make(map[string]int, len(idx.docTokens[i]))
		for _, tok := range idx.docTokens[i] {
			tf[tok]++
		}
		docLen := float64(len(idx.docTokens[i]))

		var score float64
		for _, qt := range queryTokens {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			df := float64(idx.docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*docLen/idx.avgLen))
		}
		if score > 0 {
			results = append(results, SearchResult{Document: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of indexed documents.
func (idx *MemoryLexicalIndex) Size() int {
	return len(idx.docs)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
