package render

import (
	"encoding/json"
	"fmt"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/graph"
)

const GraphPath = "graph.json"

type graphExport struct {
	BookID   string              `json:"book_id"`
	Metadata common.BookMetadata `json:"metadata"`
	Stats    graph.Stats         `json:"stats"`
	Nodes    []graph.Node        `json:"nodes"`
	Edges    []graph.Edge        `json:"edges"`
}

// RenderJSON exports the graph with its stats for tools that do not read
// markdown.
func RenderJSON(g *graph.KnowledgeGraph, book common.Book) (Document, error) {
	data, err := json.MarshalIndent(graphExport{
		BookID:   book.ID,
		Metadata: book.Metadata,
		Stats:    g.Stats(),
		Nodes:    g.Nodes,
		Edges:    g.Edges,
	}, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return Document{Path: GraphPath, Content: string(data) + "\n"}, nil
}
