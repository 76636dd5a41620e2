package loader

import (
	"fmt"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"

	"github.com/ragforge/kbchat/rag"
)

// LoadMarkdown splits markdown into one document per heading section
// (levels 1 and 2). Text before the first heading becomes its own
// untitled section.
func LoadMarkdown(src []byte, opts Options) ([]rag.Document, error) {
	if opts.DocumentName == "" {
		return nil, fmt.Errorf("loader: document name is required")
	}

	p := parser.NewWithExtensions(parser.CommonExtensions)
	root := p.Parse(src)

	var docs []rag.Document
	title := opts.topic()
	var body []string

	flush := func() {
		text := joinNonEmpty(body)
		if text != "" {
			docs = append(docs, makeDocument(opts, title, text, len(docs)))
		}
		body = body[:0]
	}

	for _, child := range root.GetChildren() {
		if h, ok := child.(*ast.Heading); ok && h.Level <= 2 {
			flush()
			title = nodeText(h)
			continue
		}
		body = append(body, nodeText(child))
	}
	flush()

	return docs, nil
}

// nodeText collects the literal text beneath a node.
func nodeText(node ast.Node) string {
	var parts []string
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if leaf := n.AsLeaf(); leaf != nil && len(leaf.Literal) > 0 {
			parts = append(parts, string(leaf.Literal))
		}
		return ast.GoToNext
	})
	return normalizeSpace(joinNonEmpty(parts))
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
