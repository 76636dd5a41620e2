package graph

import (
	"errors"
	"sync"
)

// END is the reserved terminal node name. An edge pointing at END
// finishes the branch that reaches it.
const END = "END"

var (
	// ErrEntryPointNotSet is returned by Compile when no entry point was set
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when an edge or branch names an unknown node
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned when a non-terminal node has no outgoing edge
	ErrNoOutgoingEdge = errors.New("no outgoing edge")
)

// Edge is a static connection between two named nodes.
type Edge struct {
	From string
	To   string
}

// SafeGo runs fn in a goroutine tracked by wg, converting a panic into
// a call to onPanic instead of crashing the process.
func SafeGo(wg *sync.WaitGroup, fn func(), onPanic func(v any)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				onPanic(r)
			}
		}()
		fn()
	}()
}
