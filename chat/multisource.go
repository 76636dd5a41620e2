package chat

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/kbchat/graph"
	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
)

// maxConcurrentSources caps simultaneous per-source retrieval calls.
const maxConcurrentSources = 4

// BudgetPolicy maps the resolved source count to the total document
// budget of the merged result.
type BudgetPolicy func(sourceCount int) int

// DefaultBudget scales total breadth with source count while keeping
// any single source from crowding out the others.
func DefaultBudget(sourceCount int) int {
	switch {
	case sourceCount <= 2:
		return 20
	case sourceCount <= 4:
		return 24
	case sourceCount <= 7:
		return 35
	default:
		return 4 * sourceCount
	}
}

// RetrieverFactory builds a retriever scoped to one collection.
type RetrieverFactory func(ctx context.Context, c store.Collection) (QueryRetriever, error)

// MultiSource extends Graph with fan-out retrieval across several
// collections picked per turn.
type MultiSource struct {
	Graph

	// Registry resolves requested source names to collections.
	Registry store.CollectionStore

	// NewRetriever builds the per-source retriever.
	NewRetriever RetrieverFactory

	// Budget defaults to DefaultBudget.
	Budget BudgetPolicy
}

func (m *MultiSource) budget(n int) int {
	if m.Budget != nil {
		return m.Budget(n)
	}
	return DefaultBudget(n)
}

// resolveSources maps requested names to collection records. Sources
// without a note cannot be described to the query generator and are
// dropped with a warning, as are unknown names.
func (m *MultiSource) resolveSources(ctx context.Context, names []string) []store.Collection {
	var resolved []store.Collection
	for _, name := range names {
		c, err := m.Registry.Get(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				m.logger().Warn("requested source %q is not registered, skipping", name)
			} else {
				m.logger().Warn("failed to resolve source %q: %v", name, err)
			}
			continue
		}
		if c.Note == "" {
			m.logger().Warn("source %q has no note and cannot be queried, skipping", name)
			continue
		}
		resolved = append(resolved, *c)
	}
	return resolved
}

type multiQueriesReply struct {
	Sources []struct {
		Name    string   `json:"name"`
		Queries []string `json:"queries"`
	} `json:"sources"`
}

// createMultiQueries resolves the requested sources and generates 3 to
// 5 queries per source in a single LLM call. Zero resolved sources or
// zero queries skip retrieval; the graph still reaches generate.
func (m *MultiSource) createMultiQueries(ctx context.Context, s GraphState) (GraphState, error) {
	if s.Classification == ClassGreeting || s.Classification == ClassFeedback {
		return s, nil
	}

	sources := m.resolveSources(ctx, s.Sources)
	if len(sources) == 0 {
		return s, nil
	}

	picked := make([]string, len(sources))
	for i, c := range sources {
		picked[i] = c.Name
	}
	graph.Emit(ctx, nodeCreateQueries, map[string]any{"picked_sources": picked})

	reply, err := m.Client.Invoke(ctx, renderCreateMultiQueriesPrompt(s.Question, sources))
	if err != nil {
		m.logger().Warn("multi-source query generation failed: %v", err)
		return s, nil
	}

	parsed := llm.DecodeJSON[multiQueriesReply](reply)
	if !parsed.Ok() {
		m.logger().Warn("multi-source query generation returned malformed output: %s", parsed.Err.Reason)
		return s, nil
	}

	byName := make(map[string][]string, len(parsed.Value.Sources))
	for _, sq := range parsed.Value.Sources {
		byName[sq.Name] = sq.Queries
	}

	// Requested-source order, not reply order.
	var multi []SourceQueries
	for _, c := range sources {
		queries := byName[c.Name]
		if len(queries) == 0 {
			m.logger().Warn("no queries generated for source %q, skipping", c.Name)
			continue
		}
		multi = append(multi, SourceQueries{Source: c, Queries: queries})
	}

	s.GenMultiQueries = multi
	return s, nil
}

// retrieveMultiSource fans retrieval out per source under a bounded
// gate and merges the results under the budget policy: each source is
// truncated to an even share, the merged list to the total budget,
// both in requested-source order.
func (m *MultiSource) retrieveMultiSource(ctx context.Context, s GraphState) (GraphState, error) {
	if len(s.GenMultiQueries) == 0 {
		return s, nil
	}

	perSource := make([][]rag.Document, len(s.GenMultiQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSources)
	for i, sq := range s.GenMultiQueries {
		g.Go(func() error {
			retriever, err := m.NewRetriever(gctx, sq.Source)
			if err != nil {
				m.logger().Error("failed to build retriever for source %q: %v", sq.Source.Name, err)
				return nil
			}
			docs, err := retriever.Retrieve(gctx, sq.Queries)
			if err != nil {
				m.logger().Error("retrieval failed for source %q: %v", sq.Source.Name, err)
				return nil
			}
			perSource[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	total := m.budget(len(s.GenMultiQueries))
	share := total / len(s.GenMultiQueries)

	var merged []rag.Document
	for _, docs := range perSource {
		if len(docs) > share {
			docs = docs[:share]
		}
		merged = append(merged, docs...)
	}
	if len(merged) > total {
		merged = merged[:total]
	}

	queries := allQueries(s.GenMultiQueries)
	docs, tables := rag.Fuse(merged, m.logger())
	if s.AnalyzeTables && m.Filter != nil {
		docs, tables = m.Filter.Filter(ctx, s.Question, queries, docs, tables)
	}

	s.Documents = docs
	s.Tables = tables
	return s, nil
}

func allQueries(multi []SourceQueries) []string {
	var out []string
	for _, sq := range multi {
		out = append(out, sq.Queries...)
	}
	return out
}

// Build compiles the multi-source conversation graph. The topology
// matches the single-source graph with create_queries and retriever
// replaced by their fan-out versions.
func (m *MultiSource) Build() (*graph.Runnable[GraphState], error) {
	sg := graph.NewStateGraph[GraphState]()
	sg.SetMerger(mergeStates)

	sg.AddNode(nodeFetchConversationData, "load history and instruction sets", m.fetchConversationData)
	sg.AddNode(nodeClassifyMessage, "classify the latest message", m.classifyMessage)
	sg.AddNode(nodeCreateQueries, "resolve sources and generate per-source queries", m.createMultiQueries)
	sg.AddNode(nodeSaveInstructions, "rewrite stored preferences from feedback", m.saveInstructions)
	sg.AddNode(nodeRetriever, "fan out retrieval across sources", m.retrieveMultiSource)
	sg.AddNode(nodeAnalysisTables, "analyze retrieved tables", m.analyzeTables)
	sg.AddNode(nodeGenerate, "stream the final answer", m.generate)

	sg.SetEntryPoint(nodeFetchConversationData)
	sg.AddEdge(nodeFetchConversationData, nodeClassifyMessage)
	sg.AddEdge(nodeClassifyMessage, nodeCreateQueries)
	sg.AddEdge(nodeClassifyMessage, nodeSaveInstructions)
	sg.AddEdge(nodeCreateQueries, nodeRetriever)
	sg.AddEdge(nodeSaveInstructions, nodeRetriever)
	sg.AddEdge(nodeRetriever, nodeAnalysisTables)
	sg.AddEdge(nodeAnalysisTables, nodeGenerate)
	sg.AddEdge(nodeGenerate, graph.END)

	return sg.Compile()
}
