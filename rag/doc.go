// Package rag implements the retrieval side of the kbchat pipeline:
// hybrid dense+lexical search over a collection, fusion of retrieved
// fragments into per-document records with extracted tables, an
// LLM-backed relevance filter, and bulk indexing helpers.
//
// Retrieval flow: HybridRetriever.Retrieve runs every generated query
// against a VectorIndex (weight 0.8) and a BM25 LexicalIndex (weight
// 0.2), merges with reciprocal-rank fusion, deduplicates by document
// id and caps the result at MaxReturnDocs. Fuse then groups fragments
// by document name and pulls parsed tables out; RelevanceFilter
// optionally drops documents the LLM judges unrelated, failing open on
// any error.
package rag
