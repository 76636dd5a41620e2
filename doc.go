// Package kbchat is the orchestration core of a retrieval-augmented
// knowledge-base chatbot.
//
// A user turn flows through a compiled conversation graph: the turn is
// classified, retrieval queries are generated, documents are fetched
// by a hybrid (vector + lexical) retriever, fused per source document,
// optionally filtered for relevance and analyzed when they carry
// tables, and finally answered by a streaming LLM call. Progress
// events, citations and the answer tokens are multiplexed into one
// event stream per turn.
//
// Packages:
//
//   - graph: the generic state-graph engine the conversation runs on
//   - llm: LLM client contracts and adapters, structured output
//   - rag: hybrid retrieval, document fusion, relevance filtering
//   - analysis: sandboxed table analysis with retry
//   - chat: the conversation graphs and the streaming session
//   - store: chat history, instruction sets, collection registry
//   - loader: HTML/markdown ingestion feeding the indexer
//
// See cmd/kbchat for a terminal client wiring everything together.
package kbchat
