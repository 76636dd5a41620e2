package rag

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/kbchat/log"
)

const samplePayload = "name;age;city\nAlice;30;Berlin\nBob;25;Hamburg"

func TestFuse(t *testing.T) {
	logger := &log.NoOpLogger{}

	t.Run("groups fragments by document name", func(t *testing.T) {
		docs := []Document{
			textDoc("a1", "handbook", "onboarding", "first fragment", 0),
			textDoc("a2", "handbook", "onboarding", "second fragment", 2),
			textDoc("b1", "policies", "travel", "policy fragment", 1),
		}

		fused, tables := Fuse(docs, logger)
		require.Len(t, fused, 2)
		assert.Empty(t, tables)

		assert.Equal(t, "handbook", fused[0].MetaString(MetaDocumentName))
		assert.Equal(t, "policies", fused[1].MetaString(MetaDocumentName))
		assert.Contains(t, fused[0].Content, "first fragment")
		assert.Contains(t, fused[0].Content, "second fragment")
		assert.Equal(t, 0, fused[0].MetaInt(MetaOrder, -1))
		assert.Equal(t, 1, fused[1].MetaInt(MetaOrder, -1))
	})

	t.Run("table hits produce tables tagged with their topic", func(t *testing.T) {
		docs := []Document{
			textDoc("a1", "handbook", "onboarding", "text body", 0),
			tableDoc("t1", "headcount", "staffing", samplePayload, 1),
		}

		fused, tables := Fuse(docs, logger)
		require.Len(t, fused, 2)
		require.Len(t, tables, 1)
		assert.Equal(t, "staffing", tables[0].Topic)
		assert.Equal(t, []string{"name", "age", "city"}, tables[0].Columns)

		// The table document's content was rewritten to the XML form.
		assert.Contains(t, fused[1].Content, "<table>")
		assert.Contains(t, fused[1].Content, "Topic: staffing")
	})

	t.Run("unparseable table degrades to plain text", func(t *testing.T) {
		docs := []Document{
			tableDoc("t1", "broken", "stats", "not;a\ntable;with;ragged;rows", 0),
		}

		fused, tables := Fuse(docs, logger)
		require.Len(t, fused, 1)
		assert.Empty(t, tables)
		assert.Contains(t, fused[0].Content, "not;a")
	})

	t.Run("every table topic matches exactly one fused document", func(t *testing.T) {
		docs := []Document{
			textDoc("a1", "handbook", "onboarding", "text", 0),
			tableDoc("t1", "headcount", "staffing", samplePayload, 1),
			tableDoc("t2", "budget", "finance", samplePayload, 2),
		}

		fused, tables := Fuse(docs, logger)
		for _, table := range tables {
			matches := 0
			for _, doc := range fused {
				if doc.MetaString(MetaTopic) == table.Topic {
					matches++
				}
			}
			assert.Equal(t, 1, matches, "topic %s", table.Topic)
		}
	})
}

func TestFuseDeterminism(t *testing.T) {
	logger := &log.NoOpLogger{}

	docs := []Document{
		textDoc("a1", "handbook", "onboarding", "fragment one", 0),
		textDoc("a2", "handbook", "onboarding", "fragment two", 3),
		tableDoc("t1", "headcount", "staffing", samplePayload, 1),
		textDoc("b1", "policies", "travel", "fragment three", 2),
		textDoc("b2", "policies", "travel", "fragment four", 4),
	}

	fusedRef, tablesRef := Fuse(docs, logger)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := make([]Document, len(docs))
		copy(shuffled, docs)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		fused, tables := Fuse(shuffled, logger)
		require.Equal(t, len(fusedRef), len(fused))
		for j := range fused {
			assert.Equal(t, fusedRef[j].Content, fused[j].Content, "iteration %d position %d", i, j)
			assert.Equal(t, fusedRef[j].MetaString(MetaDocumentName), fused[j].MetaString(MetaDocumentName))
		}
		require.Equal(t, len(tablesRef), len(tables))
		for j := range tables {
			assert.Equal(t, tablesRef[j].Topic, tables[j].Topic)
		}
	}
}
