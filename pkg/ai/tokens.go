package ai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures and trims text in model tokens.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, limit int) string
}

// NewTokenCounter returns a tiktoken-backed counter for the named encoding
// (for example "o200k_base"). An empty encoding yields an approximate counter
// that needs no BPE download.
func NewTokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		return ApproxTokenCounter{}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %q: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text
	}
	return c.enc.Decode(tokens[:limit])
}

// ApproxTokenCounter assumes four runes per token.
type ApproxTokenCounter struct{}

const runesPerToken = 4

func (ApproxTokenCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + runesPerToken - 1) / runesPerToken
}

func (ApproxTokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= limit*runesPerToken {
		return text
	}
	return string(r[:limit*runesPerToken])
}
