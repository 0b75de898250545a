package common

import (
	"fmt"
	"strconv"
)

// Location identifies where a highlight sits inside its source book.
type Location struct {
	Page     int `json:"page"`
	Position int `json:"position"`
}

// String renders the location the way reading apps display it.
func (l Location) String() string {
	return fmt.Sprintf("Page %d · Location %d", l.Page, l.Position)
}

// Highlight represents one user-marked passage of a book. A highlight is
// created by the export parser and never mutated afterwards; its identity is
// its stable position inside the source.
type Highlight struct {
	Content      string   `json:"content"`
	Location     Location `json:"location"`
	Chapter      string   `json:"chapter,omitempty"`
	SourceBookID string   `json:"source_book_id"`
}

// Key returns the positional identity of the highlight.
func (h Highlight) Key() string {
	return h.SourceBookID + ":" + strconv.Itoa(h.Location.Page) + ":" + strconv.Itoa(h.Location.Position)
}

// Ref returns a lightweight reference to the highlight for provenance records.
func (h Highlight) Ref() HighlightRef {
	return HighlightRef{
		Key:      h.Key(),
		Location: h.Location,
		Chapter:  h.Chapter,
		Excerpt:  Excerpt(h.Content, 160),
	}
}

// HighlightRef links a graph node back to one of the highlights it was seen in.
type HighlightRef struct {
	Key      string   `json:"key"`
	Location Location `json:"location"`
	Chapter  string   `json:"chapter,omitempty"`
	Excerpt  string   `json:"excerpt"`
}

// BookMetadata holds the descriptive fields of a source book.
type BookMetadata struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Subtitle   string `json:"subtitle,omitempty"`
	Translator string `json:"translator,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
	Year       int    `json:"year,omitempty"`
}

// Book groups the highlights exported for a single title.
//
// Highlights are kept in source order; the pipeline relies on that order for
// deterministic output.
type Book struct {
	ID         string       `json:"id"`
	Metadata   BookMetadata `json:"metadata"`
	Highlights []Highlight  `json:"highlights"`
}

// Excerpt shortens text to at most n runes, appending an ellipsis when cut.
func Excerpt(text string, n int) string {
	text = CollapseWhitespace(text)
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
