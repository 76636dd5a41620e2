package rag

import (
	"sort"
	"strings"

	"github.com/ragforge/kbchat/log"
)

// Fuse reformats raw hybrid-retrieval hits and merges fragments of the
// same logical document into one record.
//
// Table-typed hits are parsed from their delimited payload; successful
// parses are serialized to XML prefixed by topic and title and also
// collected into the returned table list, tagged with their topic. A
// failed or empty parse is logged and the hit is kept as plain text.
//
// Fragments are then grouped by document name, each group concatenated
// (topic, joined distinct titles, bodies) with the minimum retrieval
// order across members as the group's rank key, and the fused records
// sorted ascending by that key. The output is deterministic for the
// same input set regardless of input order.
func Fuse(docs []Document, logger log.Logger) ([]Document, []Table) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	reformatted, tables := reformat(docs, logger)

	type group struct {
		name     string
		topic    string
		titles   []string
		bodies   []string
		orders   []int
		minOrder int
		viewURL  string
		label    string
	}

	groups := make(map[string]*group)
	for _, doc := range reformatted {
		name := doc.MetaString(MetaDocumentName)
		if name == "" {
			name = doc.ID
		}
		order := doc.MetaInt(MetaOrder, 0)

		g, ok := groups[name]
		if !ok {
			g = &group{
				name:     name,
				topic:    doc.MetaString(MetaTopic),
				minOrder: order,
				viewURL:  doc.MetaString(MetaViewURL),
				label:    doc.MetaString(MetaCollection),
			}
			groups[name] = g
		}
		if order < g.minOrder {
			g.minOrder = order
			g.topic = doc.MetaString(MetaTopic)
			g.viewURL = doc.MetaString(MetaViewURL)
		}
		if title := doc.MetaString(MetaTitles); title != "" && !containsString(g.titles, title) {
			g.titles = append(g.titles, title)
		}
		g.bodies = append(g.bodies, doc.Content)
		g.orders = append(g.orders, order)
	}

	fused := make([]Document, 0, len(groups))
	for _, g := range groups {
		// Members sorted by retrieval order so concatenation does not
		// depend on input order.
		sort.Sort(byOrder{orders: g.orders, bodies: g.bodies})
		sort.Strings(g.titles)

		var b strings.Builder
		b.WriteString("Topic: " + g.topic + "\n")
		b.WriteString("Titles: " + strings.Join(g.titles, ", ") + "\n\n")
		b.WriteString(strings.Join(g.bodies, "\n\n"))

		fused = append(fused, Document{
			ID:      g.name,
			Content: b.String(),
			Metadata: map[string]any{
				MetaDocumentName: g.name,
				MetaTopic:        g.topic,
				MetaTitles:       strings.Join(g.titles, ", "),
				MetaViewURL:      g.viewURL,
				MetaCollection:   g.label,
				MetaOrder:        g.minOrder,
			},
		})
	}

	sort.SliceStable(fused, func(a, b int) bool {
		oa := fused[a].MetaInt(MetaOrder, 0)
		ob := fused[b].MetaInt(MetaOrder, 0)
		if oa != ob {
			return oa < ob
		}
		return fused[a].MetaString(MetaDocumentName) < fused[b].MetaString(MetaDocumentName)
	})

	return fused, tables
}

// reformat parses table-typed hits and rewrites their content to the
// XML form; parse failures degrade to plain text.
func reformat(docs []Document, logger log.Logger) ([]Document, []Table) {
	out := make([]Document, 0, len(docs))
	var tables []Table

	for _, doc := range docs {
		if doc.MetaString(MetaType) != TypeTable {
			out = append(out, doc)
			continue
		}

		table, err := ParseTable(doc.Content)
		if err != nil {
			logger.Warn("table parse failed for %s, keeping raw text: %v",
				doc.MetaString(MetaDocumentName), err)
			out = append(out, doc)
			continue
		}

		table.Topic = doc.MetaString(MetaTopic)
		table.Title = doc.MetaString(MetaTitles)
		tables = append(tables, *table)

		reshaped := doc
		reshaped.Content = "Topic: " + table.Topic + "\nTitle: " + table.Title + "\n" + table.XML()
		out = append(out, reshaped)
	}

	// Tables sorted by topic for a stable output independent of hit order.
	sort.SliceStable(tables, func(a, b int) bool {
		return tables[a].Topic < tables[b].Topic
	})

	return out, tables
}

// byOrder sorts group member bodies by their retrieval order.
type byOrder struct {
	orders []int
	bodies []string
}

func (s byOrder) Len() int           { return len(s.orders) }
func (s byOrder) Less(a, b int) bool { return s.orders[a] < s.orders[b] }
func (s byOrder) Swap(a, b int) {
	s.orders[a], s.orders[b] = s.orders[b], s.orders[a]
	s.bodies[a], s.bodies[b] = s.bodies[b], s.bodies[a]
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
