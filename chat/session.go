package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ragforge/kbchat/graph"
	"github.com/ragforge/kbchat/log"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
)

// Event types produced by StreamResponse.
const (
	EventMsg              = "msg"
	EventPickedSources    = "picked_sources"
	EventSaveInstructions = "save_instructions"
	EventCitation         = "citation"
	EventFullResponse     = "full_response"
	EventError            = "error"
)

// Event is one record in the response stream.
type Event struct {
	Type    string
	Payload map[string]any
}

// Request describes one user turn.
type Request struct {
	Question      string
	SessionID     string
	UserID        string
	UserName      string
	UsingMemory   bool
	AnalyzeTables bool
	Language      string
	Sources       []string
}

// Builder compiles a conversation graph; satisfied by *Graph and
// *MultiSource.
type Builder interface {
	Build() (*graph.Runnable[GraphState], error)
}

// Session runs turns against a compiled conversation graph and
// persists completed exchanges.
type Session struct {
	builder Builder
	history store.ChatHistory
	logger  log.Logger

	once       sync.Once
	runnable   *graph.Runnable[GraphState]
	compileErr error
}

// NewSession wraps a graph builder. The graph is compiled on the
// first turn and reused afterwards.
func NewSession(builder Builder, history store.ChatHistory, logger log.Logger) *Session {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Session{builder: builder, history: history, logger: logger}
}

// StreamResponse runs one turn and returns its event stream. The
// channel closes after the terminal full_response event. Cancelling
// ctx abandons the stream; nothing is persisted in that case.
func (s *Session) StreamResponse(ctx context.Context, req Request) (<-chan Event, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("chat: question must not be empty")
	}

	s.once.Do(func() {
		s.runnable, s.compileErr = s.builder.Build()
	})
	if s.compileErr != nil {
		return nil, fmt.Errorf("chat: compile graph: %w", s.compileErr)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	initial := GraphState{
		Question:       req.Question,
		SessionID:      sessionID,
		ConversationID: sessionID,
		UserID:         req.UserID,
		UserName:       req.UserName,
		UsingMemory:    req.UsingMemory,
		AnalyzeTables:  req.AnalyzeTables,
		Language:       req.Language,
		Sources:        req.Sources,
	}

	stream := s.runnable.Stream(ctx, initial, graph.StreamOptions{})
	out := make(chan Event, graph.DefaultStreamBuffer)
	go s.pump(ctx, stream, out, req, sessionID)
	return out, nil
}

// pump multiplexes the graph's custom events and state snapshots into
// the session event stream, then finishes the turn with citations,
// persistence and the terminal event.
func (s *Session) pump(ctx context.Context, stream *graph.Stream[GraphState], out chan<- Event, req Request, sessionID string) {
	defer close(out)

	var answer strings.Builder
	var final GraphState

	custom, values := stream.Custom, stream.Values
	for custom != nil || values != nil {
		select {
		case ev, ok := <-custom:
			if !ok {
				custom = nil
				continue
			}
			e := toEvent(ev)
			if e.Type == EventMsg {
				if chunk, ok := ev.Payload["msg"].(string); ok {
					answer.WriteString(chunk)
				}
			}
			out <- e
		case st, ok := <-values:
			if !ok {
				values = nil
				continue
			}
			final = st
		}
	}

	if err := <-stream.Err; err != nil {
		s.logger.Error("turn failed: %v", err)
		out <- Event{Type: EventError, Payload: map[string]any{"error": err.Error()}}
		return
	}

	if ctx.Err() != nil {
		// Abandoned stream: nothing is persisted and no terminal
		// event is emitted.
		return
	}

	for _, d := range final.Documents {
		out <- Event{Type: EventCitation, Payload: map[string]any{"citation": citation(d)}}
	}

	// final.Answer is empty when generation failed mid-stream, so a
	// partial answer never reaches the history.
	full := answer.String()
	if req.UsingMemory && s.history != nil && keepInHistory(final.Answer) {
		if err := s.history.AddUserMessage(ctx, sessionID, req.Question); err != nil {
			s.logger.Error("failed to persist question: %v", err)
		} else if err := s.history.AddAIMessage(ctx, sessionID, final.Answer); err != nil {
			s.logger.Error("failed to persist answer: %v", err)
		}
	}

	out <- Event{Type: EventFullResponse, Payload: map[string]any{
		"full_response": full,
		"session_id":    sessionID,
	}}
}

// citation maps one retained document to its citation payload.
func citation(d rag.Document) map[string]any {
	return map[string]any{
		"titles":              d.MetaString(rag.MetaTitles),
		"topic":               d.MetaString(rag.MetaTopic),
		"view_url":            d.MetaString(rag.MetaViewURL),
		"document_collection": d.MetaString(rag.MetaCollection),
	}
}

// toEvent classifies a node's custom event by its payload key.
func toEvent(ev graph.CustomEvent) Event {
	for _, t := range []string{EventMsg, EventPickedSources, EventSaveInstructions, EventError} {
		if _, ok := ev.Payload[t]; ok {
			return Event{Type: t, Payload: ev.Payload}
		}
	}
	return Event{Type: ev.Node, Payload: ev.Payload}
}
