package rag

import (
	"context"
	"strings"

	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/log"
)

// relevancePrompt asks for a lenient binary judgment: any partial
// relation to any of the questions keeps the document.
const relevancePrompt = `You are grading whether a retrieved context is relevant to a user's questions.

Questions:
%QUESTIONS%

Context:
%CONTEXT%

Answer YES if the context relates to ANY one of the questions, even partially.
Answer NO only if the context is wholly unrelated to all of them.
Answer with a single word: YES or NO.`

// RelevanceFilter drops retrieved documents an LLM judges irrelevant
// to the question. It fails open: any error during filtering returns
// the original documents and tables untouched.
type RelevanceFilter struct {
	Client llm.Client
	Logger log.Logger
}

// NewRelevanceFilter creates a filter using the given LLM client.
func NewRelevanceFilter(client llm.Client, logger log.Logger) *RelevanceFilter {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &RelevanceFilter{Client: client, Logger: logger}
}

// Filter judges each fused document against the union of the original
// question and the generated queries. Tables carry no judgment of
// their own: a table survives iff a document with its topic survives.
func (f *RelevanceFilter) Filter(ctx context.Context, question string, queries []string, docs []Document, tables []Table) ([]Document, []Table) {
	if len(docs) == 0 {
		return docs, tables
	}

	questions := buildQuestionList(question, queries)

	kept := make([]Document, 0, len(docs))
	for _, doc := range docs {
		relevant, err := f.judge(ctx, questions, doc.Content)
		if err != nil {
			f.Logger.Error("relevance filtering failed, keeping all documents: %v", err)
			return docs, tables
		}
		if relevant {
			kept = append(kept, doc)
		}
	}

	keptTopics := make(map[string]bool, len(kept))
	for _, doc := range kept {
		keptTopics[doc.MetaString(MetaTopic)] = true
	}

	keptTables := make([]Table, 0, len(tables))
	for _, table := range tables {
		if keptTopics[table.Topic] {
			keptTables = append(keptTables, table)
		}
	}

	return kept, keptTables
}

func (f *RelevanceFilter) judge(ctx context.Context, questions, content string) (bool, error) {
	prompt := strings.NewReplacer(
		"%QUESTIONS%", questions,
		"%CONTEXT%", content,
	).Replace(relevancePrompt)

	answer, err := f.Client.Invoke(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToUpper(answer), "YES"), nil
}

func buildQuestionList(question string, queries []string) string {
	seen := map[string]bool{question: true}
	lines := []string{"- " + question}
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		lines = append(lines, "- "+q)
	}
	return strings.Join(lines, "\n")
}
