package graph

import (
	"context"
)

// CustomEvent is a progress payload emitted by a node while it runs,
// delivered to the caller on the stream's Custom channel.
type CustomEvent struct {
	Node    string
	Payload map[string]any
}

type emitterKey struct{}

// withEmitter installs the stream's event sink into the context handed
// to node functions.
func withEmitter(ctx context.Context, fn func(CustomEvent)) context.Context {
	return context.WithValue(ctx, emitterKey{}, fn)
}

// Emit sends a custom event from inside a node. Outside a streaming
// invocation it is a no-op, so nodes can emit unconditionally.
func Emit(ctx context.Context, node string, payload map[string]any) {
	fn, ok := ctx.Value(emitterKey{}).(func(CustomEvent))
	if !ok {
		return
	}
	fn(CustomEvent{Node: node, Payload: payload})
}

// StreamOptions configures streaming execution.
type StreamOptions struct {
	// BufferSize is the capacity of the Custom and Values channels.
	// Zero means DefaultStreamBuffer.
	BufferSize int
}

// DefaultStreamBuffer is the channel capacity used when none is given.
const DefaultStreamBuffer = 256

// Stream carries the live output of one graph invocation.
//
// Custom receives node-emitted progress events in emission order.
// Values receives the full merged state after every superstep; the
// last value before Done closes is the final state. Err receives at
// most one error. All channels are closed when the run finishes.
type Stream[S any] struct {
	Custom <-chan CustomEvent
	Values <-chan S
	Err    <-chan error
	Done   <-chan struct{}
	Cancel context.CancelFunc
}

// Stream executes the graph in a goroutine and returns immediately.
// Callers must drain Custom and Values; Cancel stops the run early.
func (r *Runnable[S]) Stream(ctx context.Context, initialState S, opts StreamOptions) *Stream[S] {
	buf := opts.BufferSize
	if buf <= 0 {
		buf = DefaultStreamBuffer
	}

	customCh := make(chan CustomEvent, buf)
	valuesCh := make(chan S, buf)
	errCh := make(chan error, 1)
	doneCh := make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)

	emit := func(ev CustomEvent) {
		select {
		case customCh <- ev:
		case <-runCtx.Done():
		}
	}

	go func() {
		defer func() {
			close(customCh)
			close(valuesCh)
			close(errCh)
			close(doneCh)
		}()

		_, err := r.run(withEmitter(runCtx, emit), initialState, func(state S) {
			select {
			case valuesCh <- state:
			case <-runCtx.Done():
			}
		})
		if err != nil {
			select {
			case errCh <- err:
			case <-runCtx.Done():
			}
		}
	}()

	return &Stream[S]{
		Custom: customCh,
		Values: valuesCh,
		Err:    errCh,
		Done:   doneCh,
		Cancel: cancel,
	}
}
