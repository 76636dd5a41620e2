package chat

import (
	"github.com/ragforge/kbchat/graph"
)

// Build compiles the single-source conversation graph.
//
//	fetch_conversation_data → classify_message
//	classify_message → create_queries | save_instructions  (parallel)
//	create_queries → retriever
//	save_instructions → retriever
//	retriever → analysis_tables → generate → END
//
// create_queries and save_instructions run concurrently; both complete
// before the retriever starts.
func (g *Graph) Build() (*graph.Runnable[GraphState], error) {
	sg := graph.NewStateGraph[GraphState]()
	sg.SetMerger(mergeStates)

	sg.AddNode(nodeFetchConversationData, "load history and instruction sets", g.fetchConversationData)
	sg.AddNode(nodeClassifyMessage, "classify the latest message", g.classifyMessage)
	sg.AddNode(nodeCreateQueries, "generate retrieval queries", g.createQueries)
	sg.AddNode(nodeSaveInstructions, "rewrite stored preferences from feedback", g.saveInstructions)
	sg.AddNode(nodeRetriever, "retrieve, fuse and filter documents", g.retrieveDocuments)
	sg.AddNode(nodeAnalysisTables, "analyze retrieved tables", g.analyzeTables)
	sg.AddNode(nodeGenerate, "stream the final answer", g.generate)

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
