// Package chat wires retrieval, analysis and generation into the
// conversation graph and exposes the streaming session on top of it.
package chat

import (
	"context"

	"github.com/ragforge/kbchat/analysis"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
)

// Message classifications. Memory-off turns always classify as
// ClassMessage without consulting the LLM.
const (
	ClassGreeting      = "greeting"
	ClassFeedback      = "feedback"
	ClassMixedFeedback = "mixed_feedback"
	ClassMessage       = "message"
)

// SourceQueries pairs one resolved source with its generated queries.
type SourceQueries struct {
	Source  store.Collection
	Queries []string
}

// GraphState is threaded through every node of one turn. Nodes return
// a modified copy; the merger folds parallel results back together.
type GraphState struct {
	// Question is the resolved latest user utterance.
	Question string

	// Classification is one of the Class* constants, set once per turn.
	Classification string

	// GenQueries are the generated search queries (single-source path).
	GenQueries []string

	// GenMultiQueries are per-source query lists (multi-source path).
	GenMultiQueries []SourceQueries

	// Documents and Tables are produced together by the retriever and
	// correlated by topic.
	Documents []rag.Document
	Tables    []rag.Table

	// AnalysisResults are the TableAnalyzer outputs, or empty.
	AnalysisResults []analysis.Result

	// History is the bounded trailing window of prior exchanges.
	History []store.Message

	// Instructions are the conversation's behavioral preferences.
	Instructions []store.InstructionSet

	// NodeMessage carries side-channel text (memory-update narrative)
	// into the final prompt.
	NodeMessage string

	// Answer is the completed generation output.
	Answer string

	// Turn options.
	ConversationID string
	UserID         string
	UserName       string
	SessionID      string
	UsingMemory    bool
	AnalyzeTables  bool
	Language       string
	Sources        []string
}

// mergeStates folds the results of parallel nodes into the pre-step
// state. Each node only populates the fields it owns, so a non-empty
// field in a result wins over the current value.
func mergeStates(_ context.Context, current GraphState, results []GraphState) (GraphState, error) {
	out := current
	for _, r := range results {
		if r.Question != "" {
			out.Question = r.Question
		}
		if r.Classification != "" {
			out.Classification = r.Classification
		}
		if len(r.GenQueries) > 0 {
			out.GenQueries = r.GenQueries
		}
		if len(r.GenMultiQueries) > 0 {
			out.GenMultiQueries = r.GenMultiQueries
		}
		if len(r.Documents) > 0 {
			out.Documents = r.Documents
		}
		if len(r.Tables) > 0 {
			out.Tables = r.Tables
		}
		if len(r.AnalysisResults) > 0 {
			out.AnalysisResults = r.AnalysisResults
		}
		if len(r.History) > 0 {
			out.History = r.History
		}
		if len(r.Instructions) > 0 {
			out.Instructions = r.Instructions
		}
		if r.NodeMessage != "" {
			if out.NodeMessage != "" && out.NodeMessage != r.NodeMessage {
				out.NodeMessage += "\n" + r.NodeMessage
			} else {
				out.NodeMessage = r.NodeMessage
			}
		}
		if r.Answer != "" {
			out.Answer = r.Answer
		}
	}
	return out, nil
}

// defaultInstructions seed a conversation that has no stored
// preferences yet.
func defaultInstructions() []store.InstructionSet {
	return []store.InstructionSet{
		{
			Name:         "interaction_instruction",
			Purpose:      "how the assistant should shape its answers",
			Instructions: "Answer directly and concisely. Cite the provided context when it is used.",
		},
		{
			Name:         "user_context",
			Purpose:      "what is known about the user",
			Instructions: "Nothing is known about the user yet.",
		},
	}
}
