package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	g := NewStateGraph[testState]()
	g.AddNode("work", "", func(ctx context.Context, s testState) (testState, error) {
		Emit(ctx, "work", map[string]any{"msg": "token-1"})
		Emit(ctx, "work", map[string]any{"msg": "token-2"})
		s.Values = append(s.Values, "work")
		return s, nil
	})
	g.AddNode("finish", "", appendValue("finish"))
	g.AddEdge("work", "finish")
	g.AddEdge("finish", END)
	g.SetEntryPoint("work")

	app, err := g.Compile()
	require.NoError(t, err)

	stream := app.Stream(context.Background(), testState{}, StreamOptions{})
	defer stream.Cancel()

	var events []CustomEvent
	var snapshots []testState
	for stream.Custom != nil || stream.Values != nil {
		select {
		case ev, ok := <-stream.Custom:
			if !ok {
				stream.Custom = nil
				continue
			}
			events = append(events, ev)
		case s, ok := <-stream.Values:
			if !ok {
				stream.Values = nil
				continue
			}
			snapshots = append(snapshots, s)
		}
	}
	require.NoError(t, <-stream.Err)
	<-stream.Done

	require.Len(t, events, 2)
	assert.Equal(t, "work", events[0].Node)
	assert.Equal(t, "token-1", events[0].Payload["msg"])
	assert.Equal(t, "token-2", events[1].Payload["msg"])

	// One snapshot per superstep, final one carries the full state.
	require.Len(t, snapshots, 2)
	assert.Equal(t, []string{"work", "finish"}, snapshots[len(snapshots)-1].Values)
}

func TestStreamError(t *testing.T) {
	g := NewStateGraph[testState]()
	g.AddNode("bad", "", func(context.Context, testState) (testState, error) {
		return testState{}, assert.AnError
	})
	g.AddEdge("bad", END)
	g.SetEntryPoint("bad")

	app, err := g.Compile()
	require.NoError(t, err)

	stream := app.Stream(context.Background(), testState{}, StreamOptions{BufferSize: 8})
	defer stream.Cancel()

	for range stream.Custom {
	}
	for range stream.Values {
	}
	err = <-stream.Err
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node bad")
}

func TestEmitOutsideStream(t *testing.T) {
	// Emit without an installed sink must be a silent no-op.
	assert.NotPanics(t, func() {
		Emit(context.Background(), "anywhere", map[string]any{"msg": "ignored"})
	})
}
