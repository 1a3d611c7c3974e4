// Package tokens bounds text length in model tokens before it is sent to an external model.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding is the encoding used by the text-embedding-3 and gpt-4o-mini families.
const DefaultEncoding = tokenizer.Cl100kBase

// Truncator hard-truncates text to a maximum number of tokens.
// Truncation is lossy: everything after the limit is dropped.
type Truncator struct {
	codec     tokenizer.Codec
	maxTokens int
	mu        sync.Mutex
}

// NewTruncator creates a truncator for the given limit. A limit <= 0 disables truncation.
func NewTruncator(maxTokens int) (*Truncator, error) {
	codec, err := tokenizer.Get(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", DefaultEncoding, err)
	}
	return &Truncator{codec: codec, maxTokens: maxTokens}, nil
}

// MaxTokens returns the configured limit.
func (t *Truncator) MaxTokens() int {
	return t.maxTokens
}

// Truncate returns text cut to at most MaxTokens tokens and whether it was cut.
func (t *Truncator) Truncate(text string) (string, bool, error) {
	if t == nil || t.maxTokens <= 0 || text == "" {
		return text, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return "", false, fmt.Errorf("encode text: %w", err)
	}
	if len(ids) <= t.maxTokens {
		return text, false, nil
	}

	out, err := t.codec.Decode(ids[:t.maxTokens])
	if err != nil {
		return "", false, fmt.Errorf("decode truncated text: %w", err)
	}
	return out, true, nil
}

// Count returns the number of tokens in text.
func (t *Truncator) Count(text string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return len(ids), nil
}
