// Package graph implements the directed node-graph engine driving the
// kbchat conversation pipeline.
//
// A graph is built from named nodes (typed functions over a state
// struct), static edges and runtime branches, then compiled once into
// an immutable Runnable. Each superstep runs its frontier of nodes in
// parallel, merges their results through the graph's Merger, and
// resolves the next frontier: branches first, then static edges, with
// targets deduplicated so that fan-out later fans back in.
//
//	g := graph.NewStateGraph[State]()
//	g.AddNode("classify", "Classify message", classify)
//	g.AddNode("retrieve", "Retrieve documents", retrieve)
//	g.AddEdge("classify", "retrieve")
//	g.AddEdge("retrieve", graph.END)
//	g.SetEntryPoint("classify")
//	app, _ := g.Compile()
//	final, err := app.Invoke(ctx, State{Question: q})
//
// Streaming execution (Runnable.Stream) additionally delivers
// node-emitted progress events and per-superstep state snapshots over
// channels; see Stream and Emit.
package graph
