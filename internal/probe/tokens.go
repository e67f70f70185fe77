package probe

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens in a prompt for the billing audit log.
type TokenCounter interface {
	Count(text string) (int, error)
}

// NewTokenCounter returns a cl100k_base counter. Providers tokenize with
// whatever their upstream model uses, so this is an approximation, but close
// enough to catch a provider billing thousands of tokens for a two-line
// prompt.
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}
