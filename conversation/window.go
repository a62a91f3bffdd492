package conversation

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of a message for context budgeting.
type TokenCounter interface {
	Count(text string) int
}

// WindowPolicy bounds the context window built for an agent invocation.
// Truncation drops oldest turns first and never leaves mid-conversation
// gaps: the returned slice is always a contiguous most-recent suffix.
type WindowPolicy struct {
	// MaxMessages caps the number of turns regardless of token cost.
	// Zero means no message-count cap.
	MaxMessages int `json:"max_messages" yaml:"max_messages"`
	// TokenBudget caps the cumulative token estimate. Zero means no
	// token cap.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
}

// DefaultWindowPolicy is applied when the engine is not configured otherwise.
var DefaultWindowPolicy = WindowPolicy{MaxMessages: 50, TokenBudget: 4096}

// tiktokenCounter counts with a BPE encoding.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a TokenCounter backed by the named tiktoken
// encoding (e.g. "cl100k_base"). Falls back to the heuristic counter when
// the encoding cannot be loaded, so context building never fails on a
// missing BPE file.
func NewTiktokenCounter(encoding string) TokenCounter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return HeuristicCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates tokens as runes/2, a workable average for
// mixed CJK/Latin text when no BPE encoding is available.
type HeuristicCounter struct{}

// Count returns the rune-based token estimate, minimum 1 for non-empty text.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 2
	if n == 0 {
		n = 1
	}
	return n
}
