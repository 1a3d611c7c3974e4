package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/thebtf/newsify/pkg/models"
)

// DefaultSummaryMinTokens is the body length, in tokens, above which an
// ingested document without a summary gets one generated.
const DefaultSummaryMinTokens = 300

const documentPrompt = `You summarize one news article. Reply with two or three plain sentences
in the language of the article. Do not add a title, a preface or formatting.`

// DocumentSummarizer produces a short summary for a single ingested document.
type DocumentSummarizer interface {
	SummarizeDocument(ctx context.Context, doc models.Document) (string, error)
}

var _ DocumentSummarizer = (*Client)(nil)

// SummarizeDocument returns a generated summary for doc. It returns an empty
// string without calling the model when doc already has a summary or its body
// is not longer than the configured minimum.
func (c *Client) SummarizeDocument(ctx context.Context, doc models.Document) (string, error) {
	if c.summaryMin < 0 || strings.TrimSpace(doc.Summary) != "" {
		return "", nil
	}
	body := doc.BodyText()
	if body == "" {
		return "", nil
	}

	n, err := c.truncator.Count(body)
	if err != nil {
		return "", fmt.Errorf("count document tokens: %w", err)
	}
	if n <= c.summaryMin {
		return "", nil
	}

	prompt, _, err := c.truncator.Truncate(strings.TrimSpace(doc.Title + "\n\n" + body))
	if err != nil {
		return "", fmt.Errorf("truncate document prompt: %w", err)
	}
	content, err := c.complete(ctx, documentPrompt, prompt, false)
	if err != nil {
		return "", fmt.Errorf("summarize document %s: %w", doc.ID, err)
	}
	return strings.Join(strings.Fields(stripCodeFence(content)), " "), nil
}
