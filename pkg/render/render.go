// Package render turns a knowledge graph into a vault of cross-linked
// markdown documents.
package render

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/graph"
)

const IndexPath = "index.md"

// topNeighbors bounds the related nodes listed next to each top concept.
const topNeighbors = 3

// Document is one rendered file, addressed by a slash separated path
// relative to the vault root.
type Document struct {
	Path    string
	Content string
}

var kindTitles = map[common.EntityKind]string{
	common.KindConcept: "Concepts",
	common.KindTheme:   "Themes",
	common.KindPerson:  "People",
	common.KindEmotion: "Emotions",
}

// paths assigns every node a unique document path. Nodes are visited in ID
// order so the assignment is stable.
func paths(g *graph.KnowledgeGraph) map[string]string {
	out := make(map[string]string, len(g.Nodes))
	taken := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		base := slug.Make(n.Label)
		if base == "" {
			base = string(n.Kind)
		}
		p := path.Join(n.Kind.Plural(), base)
		for i := 2; ; i++ {
			if _, dup := taken[p]; !dup {
				break
			}
			p = path.Join(n.Kind.Plural(), base+"-"+strconv.Itoa(i))
		}
		taken[p] = struct{}{}
		out[n.ID] = p
	}
	return out
}

func wikilink(target, label string) string {
	return "[[" + target + "|" + strings.ReplaceAll(label, "|", "/") + "]]"
}

func bookTitle(book common.Book) string {
	if book.Metadata.Title != "" {
		return book.Metadata.Title
	}
	if book.ID != "" {
		return book.ID
	}
	return "Untitled"
}

// Render produces one document per node plus the index. Every edge appears
// as a link in the documents of both endpoints.
func Render(g *graph.KnowledgeGraph, book common.Book) []Document {
	links := paths(g)
	docs := make([]Document, 0, len(g.Nodes)+1)
	for _, n := range g.Nodes {
		docs = append(docs, Document{
			Path:    links[n.ID] + ".md",
			Content: renderNode(g, n, links, book),
		})
	}
	docs = append(docs, Document{Path: IndexPath, Content: renderIndex(g, links, book)})
	return docs
}

func renderNode(g *graph.KnowledgeGraph, n graph.Node, links map[string]string, book common.Book) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", strconv.Quote(n.ID))
	fmt.Fprintf(&b, "kind: %s\n", n.Kind)
	fmt.Fprintf(&b, "importance: %.2f\n", n.Importance)
	fmt.Fprintf(&b, "occurrences: %d\n", n.OccurrenceCount)
	fmt.Fprintf(&b, "book: %s\n", strconv.Quote(bookTitle(book)))
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", n.Label)
	fmt.Fprintf(&b, "**Type**: %s  \n", n.Kind)
	fmt.Fprintf(&b, "**Source book**: %s  \n", wikilink(strings.TrimSuffix(IndexPath, ".md"), bookTitle(book)))
	fmt.Fprintf(&b, "**Importance**: %.2f  \n", n.Importance)
	fmt.Fprintf(&b, "**Occurrences**: %d\n", n.OccurrenceCount)

	if edges := g.EdgesOf(n.ID); len(edges) > 0 {
		b.WriteString("\n## Related\n\n")
		for _, e := range edges {
			other, ok := g.Node(e.Other(n.ID))
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "- %s (%s, weight %.2f, together %d×)\n",
				wikilink(links[other.ID], other.Label), other.Kind, e.Weight, e.CooccurrenceCount)
		}
	}

	if len(n.Sources) > 0 {
		b.WriteString("\n## Highlights\n")
		for _, src := range n.Sources {
			b.WriteString("\n")
			for _, line := range strings.Split(src.Excerpt, "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			where := src.Location.String()
			if src.Chapter != "" {
				where = src.Chapter + " · " + where
			}
			fmt.Fprintf(&b, "\n*%s*\n", where)
		}
	}

	return b.String()
}

func renderIndex(g *graph.KnowledgeGraph, links map[string]string, book common.Book) string {
	var b strings.Builder
	meta := book.Metadata
	stats := g.Stats()

	fmt.Fprintf(&b, "# %s\n\n", bookTitle(book))
	if meta.Subtitle != "" {
		fmt.Fprintf(&b, "*%s*\n\n", meta.Subtitle)
	}
	if meta.Author != "" {
		fmt.Fprintf(&b, "**Author**: %s  \n", meta.Author)
	}
	if meta.Translator != "" {
		fmt.Fprintf(&b, "**Translator**: %s  \n", meta.Translator)
	}
	if meta.Publisher != "" {
		fmt.Fprintf(&b, "**Publisher**: %s  \n", meta.Publisher)
	}
	if meta.Year != 0 {
		fmt.Fprintf(&b, "**Year**: %d  \n", meta.Year)
	}
	fmt.Fprintf(&b, "**Highlights**: %d\n", len(book.Highlights))

	b.WriteString("\n## Statistics\n\n")
	fmt.Fprintf(&b, "- **Nodes**: %d\n", stats.Nodes)
	fmt.Fprintf(&b, "- **Relationships**: %d\n", stats.Edges)
	fmt.Fprintf(&b, "- **Average importance**: %.2f\n", stats.AverageImportance)
	fmt.Fprintf(&b, "- **Importance**: %d high, %d medium, %d low\n",
		stats.Distribution.High, stats.Distribution.Medium, stats.Distribution.Low)

	if len(stats.TopConcepts) > 0 {
		b.WriteString("\n### Top concepts\n\n")
		for _, r := range stats.TopConcepts[:min(5, len(stats.TopConcepts))] {
			fmt.Fprintf(&b, "- %s (%d×)", wikilink(links[r.ID], r.Label), r.Occurrences)
			if near := g.Neighbors(r.ID); len(near) > 0 {
				names := make([]string, 0, topNeighbors)
				for _, n := range near[:min(topNeighbors, len(near))] {
					names = append(names, wikilink(links[n.ID], n.Label))
				}
				fmt.Fprintf(&b, ": %s", strings.Join(names, ", "))
			}
			b.WriteString("\n")
		}
	}

	for _, kind := range common.Kinds {
		nodes := g.NodesOf(kind)
		if len(nodes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", kindTitles[kind])
		for _, n := range nodes {
			fmt.Fprintf(&b, "- %s\n", wikilink(links[n.ID], n.Label))
		}
	}

	return b.String()
}
