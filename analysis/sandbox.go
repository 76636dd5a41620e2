package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ragforge/kbchat/rag"
)

// Executor runs generated analysis code against one dataset and
// returns the captured output. Each call gets a fresh, isolated
// interpreter; no state survives between runs.
type Executor interface {
	Run(ctx context.Context, code string, table *rag.Table) (string, error)
}

// execError carries the failure kind used to build retry guidance.
type execError struct {
	kind    string
	message string
}

func (e *execError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Execution failure kinds.
const (
	kindSyntax        = "CODE_SYNTAX_ERROR"
	kindExecution     = "CODE_EXECUTION_ERROR"
	kindMissingColumn = "MISSING_COLUMN"
)

// StarlarkExecutor executes analysis code in a Starlark interpreter
// pre-seeded with the dataset and numeric/string/regex helpers.
type StarlarkExecutor struct {
	// MaxSteps bounds interpreter execution; zero means the default.
	MaxSteps uint64
}

var _ Executor = (*StarlarkExecutor)(nil)

// defaultMaxSteps keeps a runaway loop from stalling a turn.
const defaultMaxSteps = 5_000_000

// datasetVar is the variable name the dataset is bound under, matching
// what the generation prompt tells the model to use.
const datasetVar = "df"

// Run executes code with the table bound as a dict of column name to
// value list. Output written via print is captured and returned.
func (e *StarlarkExecutor) Run(ctx context.Context, code string, table *rag.Table) (string, error) {
	var out strings.Builder

	thread := &starlark.Thread{
		Name: "analysis",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
	}
	maxSteps := e.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}
	thread.SetMaxExecutionSteps(maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		datasetVar: tableToDict(table),
		"columns":  columnsToList(table),
		"math":     starmath.Module,
		"json":     json.Module,
		"matches":  starlark.NewBuiltin("matches", builtinMatches),
	}

	opts := &syntax.FileOptions{
		While:           true,
		GlobalReassign:  true,
		TopLevelControl: true,
	}

	_, err := starlark.ExecFileOptions(opts, thread, "analysis.star", code, predeclared)
	if err != nil {
		return out.String(), classifyStarlarkError(err, table)
	}
	return out.String(), nil
}

// classifyStarlarkError maps interpreter failures onto the kinds the
// analyzer uses for retry guidance.
func classifyStarlarkError(err error, table *rag.Table) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg := evalErr.Msg
		if col, ok := missingColumn(msg, table); ok {
			return &execError{kind: kindMissingColumn, message: col}
		}
		return &execError{kind: kindExecution, message: msg}
	}

	// Anything that is not an evaluation error is a parse/resolve
	// failure of the generated source.
	return &execError{kind: kindSyntax, message: err.Error()}
}

// missingColumn detects a dict lookup that failed because the model
// referenced a column the dataset does not have.
var keyErrPattern = regexp.MustCompile(`key "([^"]+)" not in dict`)

func missingColumn(msg string, table *rag.Table) (string, bool) {
	m := keyErrPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	for _, col := range table.Columns {
		if col == m[1] {
			return "", false
		}
	}
	return m[1], true
}

// tableToDict binds the dataset as {column: [values...]}, converting
// numeric columns to floats so arithmetic works without casting.
func tableToDict(table *rag.Table) *starlark.Dict {
	dict := starlark.NewDict(len(table.Columns))
	kinds := table.ColumnKinds()

	for i, col := range table.Columns {
		values := starlark.NewList(nil)
		for _, row := range table.Rows {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			_ = values.Append(cellValue(cell, kinds[i]))
		}
		_ = dict.SetKey(starlark.String(col), values)
	}
	return dict
}

func cellValue(cell, kind string) starlark.Value {
	if kind == "number" && cell != "" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", "."), 64); err == nil {
			return starlark.Float(f)
		}
	}
	return starlark.String(cell)
}

func columnsToList(table *rag.Table) *starlark.List {
	cols := starlark.NewList(nil)
	for _, c := range table.Columns {
		_ = cols.Append(starlark.String(c))
	}
	return cols
}

// builtinMatches exposes Go regexp matching as matches(pattern, s).
func builtinMatches(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &pattern, &s); err != nil {
		return nil, err
	}
	matched, err := regexp.MatchString(pattern, s)
	if err != nil {
		return nil, fmt.Errorf("matches: %v", err)
	}
	return starlark.Bool(matched), nil
}
