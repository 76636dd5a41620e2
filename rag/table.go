package rag

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrEmptyTable is returned when a table payload parses to no rows.
var ErrEmptyTable = errors.New("table has no rows")

// Table is a parsed tabular payload. Topic links the table back to the
// document it was extracted from; filtering retains a table iff a
// document with the same topic survives.
type Table struct {
	Topic   string
	Title   string
	Columns []string
	Rows    [][]string
}

// ParseTable parses a semicolon-delimited table payload. The first
// record is the header. Records with a deviating field count fail the
// parse, which callers treat as "keep the raw text".
func ParseTable(raw string) (*Table, error) {
	reader := csv.NewReader(strings.NewReader(strings.TrimSpace(raw)))
	reader.Comma = ';'
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, ErrEmptyTable
	}

	columns := make([]string, len(records[0]))
	for i, c := range records[0] {
		columns[i] = strings.TrimSpace(c)
	}

	return &Table{
		Columns: columns,
		Rows:    records[1:],
	}, nil
}

// ColumnKinds infers a coarse type per column: "number" when every
// non-empty cell parses as a float, otherwise "text".
func (t *Table) ColumnKinds() []string {
	kinds := make([]string, len(t.Columns))
	for col := range t.Columns {
		kind := "number"
		sawValue := false
		for _, row := range t.Rows {
			if col >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			sawValue = true
			if _, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", "."), 64); err != nil {
				kind = "text"
				break
			}
		}
		if !sawValue {
			kind = "text"
		}
		kinds[col] = kind
	}
	return kinds
}

// Column returns the values of the named column, or nil when the
// column does not exist.
func (t *Table) Column(name string) []string {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	values := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values
}

// MarkdownSample renders the header and first n rows as a Markdown
// table, the shape embedded into analysis prompts.
func (t *Table) MarkdownSample(n int) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(t.Columns)) + "\n")

	rows := t.Rows
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	for _, row := range rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			if i < len(row) {
				cells[i] = strings.TrimSpace(row[i])
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// XML serializes the table to a row-oriented XML representation with
// column names sanitized into valid element names.
func (t *Table) XML() string {
	tags := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		tags[i] = sanitizeTag(c)
	}

	var b strings.Builder
	b.WriteString("<table>\n")
	for _, row := range t.Rows {
		b.WriteString("  <row>\n")
		for i, tag := range tags {
			var cell string
			if i < len(row) {
				cell = escapeXML(strings.TrimSpace(row[i]))
			}
			b.WriteString("    <" + tag + ">" + cell + "</" + tag + ">\n")
		}
		b.WriteString("  </row>\n")
	}
	b.WriteString("</table>")
	return b.String()
}

// sanitizeTag lowercases a column name and replaces anything that is
// not a letter or digit with underscores; names starting with a digit
// get a "c_" prefix.
func sanitizeTag(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	tag := strings.Trim(b.String(), "_")
	if tag == "" {
		return "column"
	}
	if unicode.IsDigit(rune(tag[0])) {
		return "c_" + tag
	}
	return tag
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}
