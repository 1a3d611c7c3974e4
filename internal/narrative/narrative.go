// Package narrative generates the shared title and body of a cluster from its member documents.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/thebtf/newsify/pkg/models"
	"github.com/thebtf/newsify/pkg/similarity"
)

// overlapThreshold is the Jaccard similarity between the title and the first
// sentence of the body at which the two are considered the same content.
const overlapThreshold = 0.8

var (
	// ErrEmptyNarrative is returned when the title or the body is missing.
	ErrEmptyNarrative = errors.New("narrative: empty title or body")
	// ErrOverlap is returned when the body restates the title.
	ErrOverlap = errors.New("narrative: title and body overlap")
)

// Summarizer produces a narrative for an ordered set of documents.
type Summarizer interface {
	Summarize(ctx context.Context, docs []models.Document) (models.Narrative, error)
}

// Normalize cleans a generated narrative and checks that the title and body
// do not overlap. A body that merely opens with the title has the title cut off.
func Normalize(n models.Narrative) (models.Narrative, error) {
	title := strings.TrimSpace(n.Title)
	body := strings.TrimSpace(n.Body)
	if title == "" || body == "" {
		return models.Narrative{}, ErrEmptyNarrative
	}

	if len(body) >= len(title) && strings.EqualFold(body[:len(title)], title) {
		body = strings.TrimLeftFunc(body[len(title):], func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		})
		if body == "" {
			return models.Narrative{}, fmt.Errorf("%w: body only repeats the title", ErrOverlap)
		}
	}

	normTitle := normalizeText(title)
	if normTitle != "" && strings.Contains(normalizeText(body), normTitle) {
		return models.Narrative{}, fmt.Errorf("%w: body contains the title", ErrOverlap)
	}

	titleTerms := similarity.TermSet(title)
	if len(titleTerms) > 0 {
		lead := similarity.TermSet(firstSentence(body))
		if similarity.JaccardSimilarity(titleTerms, lead) >= overlapThreshold {
			return models.Narrative{}, fmt.Errorf("%w: first sentence restates the title", ErrOverlap)
		}
	}

	return models.Narrative{Title: title, Body: body}, nil
}

// normalizeText lower-cases text, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?\n"); i >= 0 {
		return s[:i]
	}
	return s
}
