package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// Node is a named, typed function over the graph state.
type Node[S any] struct {
	Name        string
	Description string
	Function    func(ctx context.Context, state S) (S, error)
}

// Merger combines the results of one superstep into the running state.
// currentState is the state the frontier nodes were invoked with,
// results holds one entry per node in frontier order.
type Merger[S any] func(ctx context.Context, currentState S, results []S) (S, error)

// Branch picks the next node names at runtime. Returning nil or an
// empty slice is an error; return []string{END} to finish the branch.
type Branch[S any] func(ctx context.Context, state S) []string

// StateGraph is a mutable builder for a directed node graph. It
// accumulates nodes, edges and branches, then Compile snapshots them
// into an immutable Runnable. The builder can keep being mutated
// afterwards without affecting compiled plans.
//
// Example:
//
//	g := graph.NewStateGraph[MyState]()
//	g.AddNode("classify", "Classify the message", classifyFn)
//	g.AddEdge("classify", graph.END)
//	g.SetEntryPoint("classify")
//	app, err := g.Compile()
type StateGraph[S any] struct {
	nodes      map[string]Node[S]
	edges      []Edge
	branches   map[string]Branch[S]
	entryPoint string
	merger     Merger[S]
}

// NewStateGraph creates a new graph builder for state type S.
func NewStateGraph[S any]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes:    make(map[string]Node[S]),
		branches: make(map[string]Branch[S]),
	}
}

// AddNode registers a node under the given name.
func (g *StateGraph[S]) AddNode(name, description string, fn func(ctx context.Context, state S) (S, error)) {
	g.nodes[name] = Node[S]{
		Name:        name,
		Description: description,
		Function:    fn,
	}
}

// AddEdge adds a static edge. Multiple edges from the same node fan
// out: all targets run in the next superstep.
func (g *StateGraph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddBranch adds a conditional edge whose targets are decided at
// runtime. A branch on a node replaces its static edges.
func (g *StateGraph[S]) AddBranch(from string, branch Branch[S]) {
	g.branches[from] = branch
}

// SetEntryPoint sets the node the graph starts from.
func (g *StateGraph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// SetMerger sets the function that folds superstep results into the
// state. Without one, the last node result of each superstep wins.
func (g *StateGraph[S]) SetMerger(merger Merger[S]) {
	g.merger = merger
}

// Runnable is a compiled, immutable execution plan. It is safe for
// concurrent use; each Invoke or Stream owns its state exclusively.
type Runnable[S any] struct {
	nodes      map[string]Node[S]
	edges      []Edge
	branches   map[string]Branch[S]
	entryPoint string
	merger     Merger[S]
}

// Compile validates the builder and snapshots it into a Runnable.
func (g *StateGraph[S]) Compile() (*Runnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: entry point %s", ErrNodeNotFound, g.entryPoint)
	}
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok && e.To != END {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.To)
		}
	}

	return &Runnable[S]{
		nodes:      maps.Clone(g.nodes),
		edges:      slices.Clone(g.edges),
		branches:   maps.Clone(g.branches),
		entryPoint: g.entryPoint,
		merger:     g.merger,
	}, nil
}

// Invoke executes the graph to completion and returns the final state.
func (r *Runnable[S]) Invoke(ctx context.Context, initialState S) (S, error) {
	return r.run(ctx, initialState, nil)
}

// run drives supersteps until no nodes remain. onStep, when non-nil,
// receives the merged state after every superstep.
func (r *Runnable[S]) run(ctx context.Context, initialState S, onStep func(S)) (S, error) {
	state := initialState
	frontier := []string{r.entryPoint}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			var zero S
			return zero, err
		}

		results, errs := r.executeFrontier(ctx, frontier, state)
		for _, err := range errs {
			if err != nil {
				var zero S
				return zero, err
			}
		}

		var err error
		state, err = r.mergeResults(ctx, state, results)
		if err != nil {
			var zero S
			return zero, err
		}

		frontier, err = r.nextFrontier(ctx, frontier, state)
		if err != nil {
			var zero S
			return zero, err
		}

		if onStep != nil {
			onStep(state)
		}
	}

	return state, nil
}

// executeFrontier runs every node of the current superstep in
// parallel. Results and errors are slotted by frontier index so the
// merge sees them in a stable order regardless of completion order.
func (r *Runnable[S]) executeFrontier(ctx context.Context, frontier []string, state S) ([]S, []error) {
	var wg sync.WaitGroup
	results := make([]S, len(frontier))
	errs := make([]error, len(frontier))

	for i, name := range frontier {
		node, ok := r.nodes[name]
		if !ok {
			errs[i] = fmt.Errorf("%w: %s", ErrNodeNotFound, name)
			continue
		}

		idx := i
		n := node
		SafeGo(&wg, func() {
			res, err := n.Function(ctx, state)
			if err != nil {
				errs[idx] = fmt.Errorf("node %s: %w", n.Name, err)
				return
			}
			results[idx] = res
		}, func(v any) {
			errs[idx] = fmt.Errorf("panic in node %s: %v", n.Name, v)
		})
	}
	wg.Wait()
	return results, errs
}

func (r *Runnable[S]) mergeResults(ctx context.Context, state S, results []S) (S, error) {
	if r.merger != nil {
		merged, err := r.merger(ctx, state, results)
		if err != nil {
			var zero S
			return zero, fmt.Errorf("state merge failed: %w", err)
		}
		return merged, nil
	}
	if len(results) > 0 {
		state = results[len(results)-1]
	}
	return state, nil
}

// nextFrontier resolves the following superstep. Branches take
// precedence over static edges; targets are deduplicated through a
// set, which gives fan-in semantics (two branches pointing at the
// same node run it once, after both complete). The frontier is sorted
// so execution order is reproducible.
func (r *Runnable[S]) nextFrontier(ctx context.Context, frontier []string, state S) ([]string, error) {
	targets := make(map[string]bool)

	for _, name := range frontier {
		if branch, ok := r.branches[name]; ok {
			next := branch(ctx, state)
			if len(next) == 0 {
				return nil, fmt.Errorf("branch from %s returned no targets", name)
			}
			for _, t := range next {
				targets[t] = true
			}
			continue
		}

		found := false
		for _, edge := range r.edges {
			if edge.From == name {
				targets[edge.To] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, name)
		}
	}

	next := make([]string, 0, len(targets))
	for t := range targets {
		if t != END {
			next = append(next, t)
		}
	}
	sort.Strings(next)
	return next, nil
}
