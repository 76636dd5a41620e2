package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Values []string
	Count  int
}

func appendValue(v string) func(context.Context, testState) (testState, error) {
	return func(_ context.Context, s testState) (testState, error) {
		s.Values = append(s.Values, v)
		s.Count++
		return s, nil
	}
}

// mergeTestState collects values from all superstep results.
func mergeTestState(_ context.Context, current testState, results []testState) (testState, error) {
	merged := current
	for _, r := range results {
		for _, v := range r.Values {
			if !contains(merged.Values, v) {
				merged.Values = append(merged.Values, v)
			}
		}
		if r.Count > merged.Count {
			merged.Count = r.Count
		}
	}
	return merged, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestCompile(t *testing.T) {
	t.Run("missing entry point", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("a", "", appendValue("a"))
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrEntryPointNotSet)
	})

	t.Run("unknown entry point", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("a", "", appendValue("a"))
		g.SetEntryPoint("missing")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("a", "", appendValue("a"))
		g.AddEdge("a", "ghost")
		g.SetEntryPoint("a")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("compiled plan is detached from builder", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("a", "", appendValue("a"))
		g.AddEdge("a", END)
		g.SetEntryPoint("a")
		app, err := g.Compile()
		require.NoError(t, err)

		// Builder mutation after compile must not leak into the plan.
		g.AddNode("b", "", appendValue("b"))
		g.AddEdge("a", "b")

		final, err := app.Invoke(context.Background(), testState{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, final.Values)
	})
}

func TestInvokeLinear(t *testing.T) {
	g := NewStateGraph[testState]()
	g.AddNode("first", "", appendValue("first"))
	g.AddNode("second", "", appendValue("second"))
	g.AddEdge("first", "second")
	g.AddEdge("second", END)
	g.SetEntryPoint("first")

	app, err := g.Compile()
	require.NoError(t, err)

	final, err := app.Invoke(context.Background(), testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, final.Values)
	assert.Equal(t, 2, final.Count)
}

func TestFanOutFanIn(t *testing.T) {
	// a fans out to b and c, both feed d. d must run exactly once,
	// after both b and c completed.
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context, testState) (testState, error) {
		return func(_ context.Context, s testState) (testState, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			s.Values = append(s.Values, name)
			return s, nil
		}
	}

	g := NewStateGraph[testState]()
	g.AddNode("a", "", record("a"))
	g.AddNode("b", "", record("b"))
	g.AddNode("c", "", record("c"))
	g.AddNode("d", "", record("d"))
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")
	g.AddEdge("d", END)
	g.SetEntryPoint("a")
	g.SetMerger(mergeTestState)

	app, err := g.Compile()
	require.NoError(t, err)

	final, err := app.Invoke(context.Background(), testState{})
	require.NoError(t, err)

	require.Len(t, order, 4, "d must run once despite two incoming edges")
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
	middle := []string{order[1], order[2]}
	sort.Strings(middle)
	assert.Equal(t, []string{"b", "c"}, middle)

	sort.Strings(final.Values)
	assert.Equal(t, []string{"a", "b", "c", "d"}, final.Values)
}

func TestBranch(t *testing.T) {
	g := NewStateGraph[testState]()
	g.AddNode("start", "", appendValue("start"))
	g.AddNode("left", "", appendValue("left"))
	g.AddNode("right", "", appendValue("right"))
	g.AddBranch("start", func(_ context.Context, s testState) []string {
		if s.Count > 10 {
			return []string{"right"}
		}
		return []string{"left"}
	})
	g.AddEdge("left", END)
	g.AddEdge("right", END)
	g.SetEntryPoint("start")

	app, err := g.Compile()
	require.NoError(t, err)

	t.Run("low count goes left", func(t *testing.T) {
		final, err := app.Invoke(context.Background(), testState{})
		require.NoError(t, err)
		assert.Contains(t, final.Values, "left")
		assert.NotContains(t, final.Values, "right")
	})

	t.Run("high count goes right", func(t *testing.T) {
		final, err := app.Invoke(context.Background(), testState{Count: 100})
		require.NoError(t, err)
		assert.Contains(t, final.Values, "right")
	})

	t.Run("branch fanning out to several nodes", func(t *testing.T) {
		g2 := NewStateGraph[testState]()
		g2.AddNode("start", "", appendValue("start"))
		g2.AddNode("x", "", appendValue("x"))
		g2.AddNode("y", "", appendValue("y"))
		g2.AddBranch("start", func(context.Context, testState) []string {
			return []string{"x", "y"}
		})
		g2.AddEdge("x", END)
		g2.AddEdge("y", END)
		g2.SetEntryPoint("start")
		g2.SetMerger(mergeTestState)

		app2, err := g2.Compile()
		require.NoError(t, err)
		final, err := app2.Invoke(context.Background(), testState{})
		require.NoError(t, err)
		assert.Contains(t, final.Values, "x")
		assert.Contains(t, final.Values, "y")
	})
}

func TestNodeErrors(t *testing.T) {
	t.Run("node error aborts the run", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("boom", "", func(context.Context, testState) (testState, error) {
			return testState{}, errors.New("exploded")
		})
		g.AddEdge("boom", END)
		g.SetEntryPoint("boom")

		app, err := g.Compile()
		require.NoError(t, err)
		_, err = app.Invoke(context.Background(), testState{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node boom")
	})

	t.Run("panic is recovered into an error", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("panics", "", func(context.Context, testState) (testState, error) {
			panic("unexpected")
		})
		g.AddEdge("panics", END)
		g.SetEntryPoint("panics")

		app, err := g.Compile()
		require.NoError(t, err)
		_, err = app.Invoke(context.Background(), testState{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in node panics")
	})

	t.Run("missing outgoing edge", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("dangling", "", appendValue("dangling"))
		g.SetEntryPoint("dangling")

		app, err := g.Compile()
		require.NoError(t, err)
		_, err = app.Invoke(context.Background(), testState{})
		assert.ErrorIs(t, err, ErrNoOutgoingEdge)
	})

	t.Run("cancelled context stops execution", func(t *testing.T) {
		g := NewStateGraph[testState]()
		g.AddNode("a", "", appendValue("a"))
		g.AddEdge("a", "a")
		g.SetEntryPoint("a")

		app, err := g.Compile()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = app.Invoke(ctx, testState{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
