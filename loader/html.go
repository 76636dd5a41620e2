// Package loader turns source files into documents ready for the
// indexer, splitting on headings so each fragment stays focused.
package loader

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ragforge/kbchat/rag"
)

// Options describe the source a loader is reading.
type Options struct {
	// DocumentName groups the produced fragments back together during
	// fusion. Required.
	DocumentName string

	// Topic labels the fragments; defaults to DocumentName.
	Topic string

	// ViewURL is where a reader can open the source.
	ViewURL string
}

func (o Options) topic() string {
	if o.Topic != "" {
		return o.Topic
	}
	return o.DocumentName
}

// LoadHTML sanitizes the markup and splits it into one document per
// heading section. Input without headings becomes a single document.
func LoadHTML(src string, opts Options) ([]rag.Document, error) {
	if opts.DocumentName == "" {
		return nil, fmt.Errorf("loader: document name is required")
	}

	clean := bluemonday.UGCPolicy().Sanitize(src)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("loader: parse html: %w", err)
	}

	headings := doc.Find("h1, h2")
	if headings.Length() == 0 {
		body := normalizeSpace(doc.Text())
		if body == "" {
			return nil, nil
		}
		return []rag.Document{makeDocument(opts, opts.topic(), body, 0)}, nil
	}

	var docs []rag.Document
	headings.Each(func(i int, h *goquery.Selection) {
		title := normalizeSpace(h.Text())
		body := normalizeSpace(h.NextUntil("h1, h2").Text())
		if body == "" {
			return
		}
		docs = append(docs, makeDocument(opts, title, body, len(docs)))
	})
	return docs, nil
}

func makeDocument(opts Options, title, body string, order int) rag.Document {
	return rag.Document{
		ID:      fmt.Sprintf("%s#%d", opts.DocumentName, order),
		Content: body,
		Metadata: map[string]any{
			rag.MetaTopic:        opts.topic(),
			rag.MetaTitles:       title,
			rag.MetaViewURL:      opts.ViewURL,
			rag.MetaDocumentName: opts.DocumentName,
			rag.MetaType:         rag.TypeText,
			rag.MetaOrder:        order,
		},
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
