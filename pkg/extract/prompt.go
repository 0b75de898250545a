package extract

import (
	"fmt"
	"strings"

	"github.com/wafkaw/book-digger/pkg/ai"
	"github.com/wafkaw/book-digger/pkg/common"
)

const unknownMetadata = "unknown"

func location(h common.Highlight) string {
	if h.Chapter == "" {
		return h.Location.String()
	}
	return h.Chapter + " · " + h.Location.String()
}

// buildPrompt renders the extraction prompt for the given highlights. Index i
// in the prompt addresses highlights[i].
func (c *Client) buildPrompt(meta common.BookMetadata, highlights []common.Highlight) string {
	var list strings.Builder
	for i, h := range highlights {
		content := common.CollapseWhitespace(h.Content)
		if c.maxHighlightTokens > 0 && c.tokens.Count(content) > c.maxHighlightTokens {
			content = c.tokens.Truncate(content, c.maxHighlightTokens)
		}
		fmt.Fprintf(&list, ai.HighlightItemFormat, i, location(h), content)
		list.WriteByte('\n')
	}

	title, author := meta.Title, meta.Author
	if title == "" {
		title = unknownMetadata
	}
	if author == "" {
		author = unknownMetadata
	}

	opts := c.opts
	return fmt.Sprintf(
		ai.ExtractPromptHighlights,
		title,
		author,
		len(highlights),
		opts.MaxConceptsPerHighlight,
		opts.MaxThemesPerHighlight,
		opts.MaxPeoplePerHighlight,
		opts.MaxEmotionsPerHighlight,
		strings.TrimRight(list.String(), "\n"),
	)
}
