// Package analysis turns retrieved tables into LLM-generated analysis
// code, executes it in an isolated Starlark interpreter, and retries
// failed attempts with the failure fed back into the prompt.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/log"
	"github.com/ragforge/kbchat/rag"
)

// Sentinel codes the model returns instead of executable code.
const (
	SentinelNotAnalysis = "NOT_AN_ANALYSIS_QUESTION"
	SentinelIrrelevant  = "IRRELEVANT_QUESTION"
	SentinelUnknown     = "UNKNOWN_ANSWER"
)

// MaxRetries is the number of additional attempts after the first
// failed one, so a single table costs at most MaxRetries+1 LLM calls.
const MaxRetries = 2

// Retry-guidance error classes embedded into the follow-up prompt.
const (
	errClassReconstruction = "DATAFRAME_RECONSTRUCTION_ERROR"
	errClassSyntax         = "CODE_SYNTAX_ERROR"
	errClassExecution      = "CODE_EXECUTION_ERROR"
)

// Result is the outcome for one table: Code is executable code or one
// of the sentinels, Result the captured output or a readable error.
// Topic links the result back to its table.
type Result struct {
	Topic  string
	Code   string
	Result string
}

// llmReply is the strict response shape expected from the model.
type llmReply struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

const analysisPrompt = `You are a data analyst. Write Starlark code (a Python subset) that answers the question using the dataset below.

The dataset is already bound to the variable ` + "`df`" + `, a dict mapping column names to lists of values. Do NOT reconstruct the dataset from literals. Print the answer with print().

Dataset columns: %COLUMNS%
Column types: %TYPES%

Sample rows:
%SAMPLE%

Question: %QUESTION%
%RETRY%
If the question is not a data-analysis question, set "code" to "NOT_AN_ANALYSIS_QUESTION".
If the question cannot be answered from these columns, set "code" to "IRRELEVANT_QUESTION".
If you cannot produce working code, set "code" to "UNKNOWN_ANSWER".

Respond with a JSON object only: {"code": "<starlark code or sentinel>", "error": "<empty, or a note to the user>"}`

const retrySection = `
Your previous attempt failed.
Previous code:
%CODE%

Failure (%CLASS%):
%ERROR%

Fix the problem and try again.
`

// Analyzer drives the generate-execute-retry loop for tables.
type Analyzer struct {
	Client   llm.Client
	Executor Executor
	Logger   log.Logger
}

// NewAnalyzer creates an Analyzer with the Starlark executor.
func NewAnalyzer(client llm.Client, logger log.Logger) *Analyzer {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Analyzer{
		Client:   client,
		Executor: &StarlarkExecutor{},
		Logger:   logger,
	}
}

// Analyze answers the question against one table. It always returns a
// populated Result, even when every attempt failed: the last error is
// the Result text and the last code (or sentinel) the Code.
func (a *Analyzer) Analyze(ctx context.Context, table *rag.Table, question string) Result {
	var lastCode, lastClass, lastErr string

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		prompt := a.buildPrompt(table, question, lastCode, lastClass, lastErr)

		raw, err := a.Client.Invoke(ctx, prompt)
		if err != nil {
			a.Logger.Warn("analysis generation failed for %s (attempt %d): %v", table.Topic, attempt+1, err)
			lastClass = errClassExecution
			lastErr = err.Error()
			continue
		}

		parsed := llm.DecodeJSON[llmReply](raw)
		if !parsed.Ok() {
			a.Logger.Warn("analysis reply was not valid JSON for %s: %s", table.Topic, parsed.Err.Reason)
			lastCode = raw
			lastClass = errClassSyntax
			lastErr = "the response was not a valid JSON object with string fields code and error: " + parsed.Err.Reason
			continue
		}

		code := strings.TrimSpace(parsed.Value.Code)
		if isSentinel(code) {
			result := parsed.Value.Error
			if result == "" {
				result = sentinelMessage(code)
			}
			return Result{Topic: table.Topic, Code: code, Result: result}
		}

		stripped, removed := stripReconstruction(code)
		output, execErr := a.Executor.Run(ctx, stripped, table)
		if execErr == nil {
			// Code carries what actually ran, not the pre-strip reply.
			return Result{Topic: table.Topic, Code: stripped, Result: strings.TrimSpace(output)}
		}

		lastCode = code
		lastClass, lastErr = retryGuidance(execErr, removed)
		a.Logger.Debug("analysis attempt %d failed for %s: %s: %s", attempt+1, table.Topic, lastClass, lastErr)
	}

	if lastCode == "" {
		lastCode = SentinelUnknown
	}
	return Result{Topic: table.Topic, Code: lastCode, Result: lastErr}
}

// AnalyzeAll runs every table concurrently, each with its own retry
// loop, and returns results in input order. One table exhausting its
// retries does not affect the others.
func (a *Analyzer) AnalyzeAll(ctx context.Context, tables []rag.Table, question string) []Result {
	results := make([]Result, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	for i := range tables {
		g.Go(func() error {
			results[i] = a.Analyze(gctx, &tables[i], question)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (a *Analyzer) buildPrompt(table *rag.Table, question, lastCode, lastClass, lastErr string) string {
	retry := ""
	if lastErr != "" {
		retry = strings.NewReplacer(
			"%CODE%", lastCode,
			"%CLASS%", lastClass,
			"%ERROR%", lastErr,
		).Replace(retrySection)
	}

	return strings.NewReplacer(
		"%COLUMNS%", strings.Join(table.Columns, ", "),
		"%TYPES%", strings.Join(table.ColumnKinds(), ", "),
		"%SAMPLE%", table.MarkdownSample(5),
		"%QUESTION%", question,
		"%RETRY%", retry,
	).Replace(analysisPrompt)
}

func isSentinel(code string) bool {
	return code == SentinelNotAnalysis || code == SentinelIrrelevant || code == SentinelUnknown
}

func sentinelMessage(code string) string {
	switch code {
	case SentinelNotAnalysis:
		return "The question does not require data analysis."
	case SentinelIrrelevant:
		return "The question cannot be answered from this dataset."
	default:
		return "No answer could be derived from this dataset."
	}
}

// reconstructionPattern matches lines re-binding the dataset variable,
// which would let the model invent data instead of using the real one.
var reconstructionPattern = regexp.MustCompile(`^\s*` + datasetVar + `\s*=`)

// stripReconstruction removes dataset re-binding lines before
// execution and reports how many were dropped.
func stripReconstruction(code string) (string, int) {
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		if reconstructionPattern.MatchString(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed
}

// retryGuidance converts an execution failure into the class and
// message embedded in the next prompt.
func retryGuidance(err error, removedLines int) (string, string) {
	var ee *execError
	if !errors.As(err, &ee) {
		return errClassExecution, err.Error()
	}

	switch ee.kind {
	case kindMissingColumn:
		return SentinelIrrelevant, fmt.Sprintf("the dataset has no column named %q", ee.message)
	case kindSyntax:
		return errClassSyntax, ee.message
	default:
		if removedLines > 0 {
			return errClassReconstruction, "do not rebuild the dataset from literals; use the provided df variable (" + ee.message + ")"
		}
		return errClassExecution, ee.message
	}
}
