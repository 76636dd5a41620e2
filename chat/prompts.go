package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/ragforge/kbchat/store"
)

const classifyPrompt = `Classify the user's latest message into exactly one category:
- greeting: a salutation or small talk with no information need
- feedback: the user tells the assistant how to behave or corrects it, with no new question
- mixed_feedback: behavioral feedback combined with a new question
- message: a regular question or request

Recent conversation:
%HISTORY%

Latest message: %QUESTION%

Respond with the category name only.`

const createQueriesPrompt = `Generate search queries for a knowledge base lookup answering the user's question. Produce 2 to 4 short keyword-style queries covering different phrasings of the information need.

Question: %QUESTION%

Respond with a JSON object only: {"queries": ["...", "..."]}`

const createMultiQueriesPrompt = `The user question may be answered from several knowledge collections. For each collection below, generate 3 to 5 short search queries tailored to what that collection contains.

Collections:
%SOURCES%

Question: %QUESTION%

Respond with a JSON object only:
{"sources": [{"name": "<collection name>", "queries": ["...", "..."]}]}`

const saveInstructionsPrompt = `The user gave feedback on how the assistant should behave. Rewrite the stored instruction sets to reflect it. Keep instructions that still apply, replace those the feedback changes, and keep each set short.

Current instruction sets:
%INSTRUCTIONS%

Recent conversation:
%HISTORY%

Feedback message: %QUESTION%

Respond with a JSON object only:
{"sets": [{"name": "...", "purpose": "...", "instructions": "..."}], "summary": "<one sentence describing what changed>"}`

const systemPrompt = `You are a knowledge-base assistant. Answer using the provided context; when the context does not cover the question, say so instead of inventing facts. Answer in %LANGUAGE%.

%INSTRUCTIONS%`

const humanPrompt = `Current time: %TIME%

%CONTEXT%

%NODE_MESSAGE%Question: %QUESTION%`

// noDocumentsContext is injected when retrieval found nothing and the
// turn is a regular question.
const noDocumentsContext = "No relevant documents found.\n\n"

func renderClassifyPrompt(question string, history []store.Message) string {
	return strings.NewReplacer(
		"%HISTORY%", renderHistory(history),
		"%QUESTION%", question,
	).Replace(classifyPrompt)
}

func renderCreateQueriesPrompt(question string) string {
	return strings.ReplaceAll(createQueriesPrompt, "%QUESTION%", question)
}

func renderCreateMultiQueriesPrompt(question string, sources []store.Collection) string {
	var b strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Note)
	}
	return strings.NewReplacer(
		"%SOURCES%", b.String(),
		"%QUESTION%", question,
	).Replace(createMultiQueriesPrompt)
}

func renderSaveInstructionsPrompt(question string, sets []store.InstructionSet, history []store.Message) string {
	var b strings.Builder
	for _, set := range sets {
		fmt.Fprintf(&b, "- %s (%s): %s\n", set.Name, set.Purpose, set.Instructions)
	}
	return strings.NewReplacer(
		"%INSTRUCTIONS%", b.String(),
		"%HISTORY%", renderHistory(history),
		"%QUESTION%", question,
	).Replace(saveInstructionsPrompt)
}

func renderSystemPrompt(language string, sets []store.InstructionSet) string {
	if language == "" {
		language = "en"
	}
	var b strings.Builder
	for _, set := range sets {
		fmt.Fprintf(&b, "%s (%s):\n%s\n\n", set.Name, set.Purpose, set.Instructions)
	}
	return strings.NewReplacer(
		"%LANGUAGE%", language,
		"%INSTRUCTIONS%", strings.TrimSpace(b.String()),
	).Replace(systemPrompt)
}

func renderHumanPrompt(question, context, nodeMessage string, now time.Time) string {
	if nodeMessage != "" {
		nodeMessage = "Note: " + nodeMessage + "\n\n"
	}
	return strings.NewReplacer(
		"%TIME%", now.Format(time.RFC1123),
		"%CONTEXT%", context,
		"%NODE_MESSAGE%", nodeMessage,
		"%QUESTION%", question,
	).Replace(humanPrompt)
}

func renderHistory(history []store.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
