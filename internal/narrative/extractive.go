package narrative

import (
	"context"
	"strings"

	"github.com/thebtf/newsify/pkg/models"
)

// maxLeadSentences caps the extractive body length.
const maxLeadSentences = 3

// Extractive builds a narrative locally without a model: the headline of the
// first document and the lead sentences of the member bodies.
type Extractive struct{}

var _ Summarizer = Extractive{}

func (Extractive) Summarize(ctx context.Context, docs []models.Document) (models.Narrative, error) {
	if err := ctx.Err(); err != nil {
		return models.Narrative{}, err
	}
	if len(docs) == 0 {
		return models.Narrative{}, ErrEmptyNarrative
	}

	title := strings.TrimSpace(docs[0].Title)

	seen := make(map[string]bool)
	leads := make([]string, 0, maxLeadSentences)
	for i := range docs {
		text := strings.TrimSpace(docs[i].Summary)
		if text == "" {
			text = docs[i].BodyText()
		}
		lead := strings.TrimSpace(firstSentence(text))
		key := normalizeText(lead)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		leads = append(leads, lead+".")
		if len(leads) == maxLeadSentences {
			break
		}
	}

	return Normalize(models.Narrative{Title: title, Body: strings.Join(leads, " ")})
}
