package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ragforge/kbchat/analysis"
	"github.com/ragforge/kbchat/graph"
	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/log"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
)

// Node names, also used as event sources in the stream.
const (
	nodeFetchConversationData = "fetch_conversation_data"
	nodeClassifyMessage       = "classify_message"
	nodeCreateQueries         = "create_queries"
	nodeSaveInstructions      = "save_instructions"
	nodeRetriever             = "retriever"
	nodeAnalysisTables        = "analysis_tables"
	nodeGenerate              = "generate"
)

// maxHistoryTurns bounds the trailing window loaded per turn.
const maxHistoryTurns = 20

// minAnswerLen is the shortest answer worth remembering in history.
const minAnswerLen = 5

// ErrorMarker prefixes the inline text emitted when generation fails
// mid-stream. Answers starting with it are never persisted.
const ErrorMarker = "[ERROR]"

// QueryRetriever is the retrieval dependency of the graph; implemented
// by rag.HybridRetriever.
type QueryRetriever interface {
	Retrieve(ctx context.Context, queries []string) ([]rag.Document, error)
}

// Graph bundles the collaborators of the single-source conversation
// graph. All fields except Logger and Now are required.
type Graph struct {
	Client       llm.Client
	Retriever    QueryRetriever
	History      store.ChatHistory
	Instructions store.InstructionStore
	Filter       *rag.RelevanceFilter
	Analyzer     *analysis.Analyzer
	Logger       log.Logger
	Now          func() time.Time
}

func (g *Graph) logger() log.Logger {
	if g.Logger == nil {
		return log.GetDefaultLogger()
	}
	return g.Logger
}

func (g *Graph) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// fetchConversationData loads the trailing history and instruction
// sets. Stateless turns (no conversation id, or memory off) get empty
// history and the default instruction sets.
func (g *Graph) fetchConversationData(ctx context.Context, s GraphState) (GraphState, error) {
	s.Instructions = defaultInstructions()

	if !s.UsingMemory || s.ConversationID == "" {
		return s, nil
	}

	history, err := g.History.Messages(ctx, s.ConversationID)
	if err != nil {
		g.logger().Warn("failed to load history for %s: %v", s.ConversationID, err)
	} else {
		if len(history) > maxHistoryTurns {
			history = history[len(history)-maxHistoryTurns:]
		}
		s.History = history
	}

	sets, err := g.Instructions.Get(ctx, s.ConversationID, store.InstructionsKey)
	switch {
	case err == nil && len(sets) > 0:
		s.Instructions = sets
	case err != nil && !errors.Is(err, store.ErrNotFound):
		g.logger().Warn("failed to load instructions for %s: %v", s.ConversationID, err)
	}

	return s, nil
}

// classifyMessage assigns one of the Class* categories. With memory
// off the turn is always a plain message and the LLM is not consulted.
func (g *Graph) classifyMessage(ctx context.Context, s GraphState) (GraphState, error) {
	if !s.UsingMemory {
		s.Classification = ClassMessage
		return s, nil
	}

	reply, err := g.Client.Invoke(ctx, renderClassifyPrompt(s.Question, s.History))
	if err != nil {
		g.logger().Warn("classification failed, treating as message: %v", err)
		s.Classification = ClassMessage
		return s, nil
	}

	s.Classification = normalizeClassification(reply)
	return s, nil
}

func normalizeClassification(reply string) string {
	c := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.Contains(c, ClassMixedFeedback):
		return ClassMixedFeedback
	case strings.Contains(c, ClassFeedback):
		return ClassFeedback
	case strings.Contains(c, ClassGreeting):
		return ClassGreeting
	default:
		return ClassMessage
	}
}

type queriesReply struct {
	Queries []string `json:"queries"`
}

// createQueries generates the retrieval queries. Greetings and pure
// feedback need no retrieval and yield none.
func (g *Graph) createQueries(ctx context.Context, s GraphState) (GraphState, error) {
	if s.Classification == ClassGreeting || s.Classification == ClassFeedback {
		return s, nil
	}

	reply, err := g.Client.Invoke(ctx, renderCreateQueriesPrompt(s.Question))
	if err != nil {
		g.logger().Warn("query generation failed, falling back to the raw question: %v", err)
		s.GenQueries = []string{s.Question}
		return s, nil
	}

	parsed := llm.DecodeJSON[queriesReply](reply)
	if !parsed.Ok() || len(parsed.Value.Queries) == 0 {
		g.logger().Warn("query generation returned no usable queries, falling back to the raw question")
		s.GenQueries = []string{s.Question}
		return s, nil
	}

	s.GenQueries = parsed.Value.Queries
	return s, nil
}

type instructionsReply struct {
	Sets    []store.InstructionSet `json:"sets"`
	Summary string                 `json:"summary"`
}

// saveInstructions rewrites the stored instruction sets from the
// user's feedback. It only acts on feedback turns within a known
// conversation; everything else passes through untouched.
func (g *Graph) saveInstructions(ctx context.Context, s GraphState) (GraphState, error) {
	if s.Classification != ClassFeedback && s.Classification != ClassMixedFeedback {
		return s, nil
	}
	if s.ConversationID == "" {
		return s, nil
	}

	reply, err := g.Client.Invoke(ctx, renderSaveInstructionsPrompt(s.Question, s.Instructions, s.History))
	if err != nil {
		g.logger().Warn("instruction rewrite failed: %v", err)
		return s, nil
	}

	parsed := llm.DecodeJSON[instructionsReply](reply)
	if !parsed.Ok() || len(parsed.Value.Sets) == 0 {
		g.logger().Warn("instruction rewrite returned no usable sets")
		return s, nil
	}

	if err := g.Instructions.Put(ctx, s.ConversationID, store.InstructionsKey, parsed.Value.Sets); err != nil {
		g.logger().Error("failed to store instructions for %s: %v", s.ConversationID, err)
		return s, nil
	}

	summary := parsed.Value.Summary
	if summary == "" {
		summary = "Preferences updated."
	}
	s.Instructions = parsed.Value.Sets
	s.NodeMessage = summary
	graph.Emit(ctx, nodeSaveInstructions, map[string]any{"save_instructions": summary})
	return s, nil
}

// retrieveDocuments runs retrieval and fusion, and the relevance
// filter when table analysis is enabled. An empty query set retrieves
// nothing without raising.
func (g *Graph) retrieveDocuments(ctx context.Context, s GraphState) (GraphState, error) {
	if len(s.GenQueries) == 0 {
		return s, nil
	}

	hits, err := g.Retriever.Retrieve(ctx, s.GenQueries)
	if err != nil {
		g.logger().Error("retrieval failed: %v", err)
		return s, nil
	}

	docs, tables := rag.Fuse(hits, g.logger())
	if s.AnalyzeTables && g.Filter != nil {
		docs, tables = g.Filter.Filter(ctx, s.Question, s.GenQueries, docs, tables)
	}

	s.Documents = docs
	s.Tables = tables
	return s, nil
}

// analyzeTables runs the table analyzer when the turn asked for it.
func (g *Graph) analyzeTables(ctx context.Context, s GraphState) (GraphState, error) {
	if !s.AnalyzeTables || len(s.Tables) == 0 || g.Analyzer == nil {
		return s, nil
	}
	s.AnalysisResults = g.Analyzer.AnalyzeAll(ctx, s.Tables, s.Question)
	return s, nil
}

// generate streams the final answer, emitting each token as a custom
// event. A mid-stream failure surfaces an inline error marker and an
// error event, then ends the turn cleanly.
func (g *Graph) generate(ctx context.Context, s GraphState) (GraphState, error) {
	prompt := g.buildGeneratePrompt(s)

	answer, err := g.Client.Stream(ctx, prompt, func(ctx context.Context, chunk string) error {
		graph.Emit(ctx, nodeGenerate, map[string]any{"msg": chunk})
		return nil
	})
	if err != nil {
		g.logger().Error("generation failed mid-stream: %v", err)
		graph.Emit(ctx, nodeGenerate, map[string]any{"msg": "\n" + ErrorMarker + " the answer could not be completed."})
		graph.Emit(ctx, nodeGenerate, map[string]any{"error": err.Error()})
		s.Answer = ""
		return s, nil
	}

	s.Answer = answer
	if keepInHistory(answer) {
		s.History = append(s.History,
			store.Message{Role: store.RoleHuman, Content: s.Question, CreatedAt: g.now()},
			store.Message{Role: store.RoleAI, Content: answer, CreatedAt: g.now()},
		)
	}
	return s, nil
}

func keepInHistory(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if len(trimmed) < minAnswerLen {
		return false
	}
	return !strings.HasPrefix(trimmed, ErrorMarker)
}

func (g *Graph) buildGeneratePrompt(s GraphState) string {
	var b strings.Builder

	b.WriteString(renderSystemPrompt(s.Language, s.Instructions))
	b.WriteString("\n\n")

	context := g.buildContext(s)
	b.WriteString(renderHumanPrompt(s.Question, context, s.NodeMessage, g.now()))

	if len(s.History) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		b.WriteString(renderHistory(s.History))
	}

	return b.String()
}

func (g *Graph) buildContext(s GraphState) string {
	var b strings.Builder

	if len(s.Documents) == 0 {
		if s.Classification == ClassMessage || s.Classification == "" {
			b.WriteString(noDocumentsContext)
		}
	} else {
		b.WriteString("Context documents:\n\n")
		for _, d := range s.Documents {
			b.WriteString(d.Content)
			b.WriteString("\n\n")
		}
	}

	for _, r := range s.AnalysisResults {
		b.WriteString("Analysis of table \"" + r.Topic + "\": " + r.Result + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
