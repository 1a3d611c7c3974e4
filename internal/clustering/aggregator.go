package clustering

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/newsify/pkg/models"
)

// Aggregator builds a cluster representation from the full member set.
// It has no side effects beyond the external calls; persisting the result
// is up to the caller.
type Aggregator struct {
	embedder       Embedder
	summarizer     Summarizer
	embedTimeout   time.Duration
	summaryTimeout time.Duration
}

// NewAggregator creates an aggregator. Zero timeouts disable the per-call bound.
func NewAggregator(embedder Embedder, summarizer Summarizer, embedTimeout, summaryTimeout time.Duration) *Aggregator {
	return &Aggregator{
		embedder:       embedder,
		summarizer:     summarizer,
		embedTimeout:   embedTimeout,
		summaryTimeout: summaryTimeout,
	}
}

// OrderMembers returns members deduplicated by document id and sorted
// chronologically, ties broken by id.
func OrderMembers(members []models.Document) []models.Document {
	seen := make(map[string]struct{}, len(members))
	out := make([]models.Document, 0, len(members))
	for _, doc := range members {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		seen[doc.ID] = struct{}{}
		out = append(out, doc)
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		if c := a.PublishedAt.Compare(b.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// CombinedText concatenates the canonical text of ordered members.
func CombinedText(ordered []models.Document) string {
	parts := make([]string, 0, len(ordered))
	for i := range ordered {
		if text := ordered[i].CanonicalText(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// BuildOrUpdate computes a fresh representation for members. When existing is
// not nil, members must include every document already in its member log:
// an update always recomputes over old and new members together.
func (a *Aggregator) BuildOrUpdate(ctx context.Context, existing *models.Cluster, members []models.Document) (*models.ClusterRepresentation, error) {
	ordered := OrderMembers(members)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("build representation: no members")
	}

	if existing != nil {
		have := make(models.MemberSet, len(ordered))
		for _, doc := range ordered {
			have[doc.ID] = struct{}{}
		}
		for id := range existing.MemberLog.Members() {
			if !have.Contains(id) {
				return nil, fmt.Errorf("%w: cluster %s member %s", ErrIncompleteMembers, existing.ID, id)
			}
		}
	}

	ctx, span := tracer.Start(ctx, "clustering.aggregate")
	defer span.End()
	span.SetAttributes(attribute.Int("newsify.cluster.members", len(ordered)))

	text := CombinedText(ordered)

	var (
		embedding []float32
		story     models.Narrative
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := withOptionalTimeout(gctx, a.embedTimeout)
		defer cancel()
		vec, err := a.embedder.Embed(callCtx, text)
		if err != nil {
			return fmt.Errorf("%w: cluster text: %w", ErrEmbeddingFailure, err)
		}
		embedding = vec
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := withOptionalTimeout(gctx, a.summaryTimeout)
		defer cancel()
		n, err := a.summarizer.Summarize(callCtx, ordered)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSummaryFailure, err)
		}
		story = n
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := make([]string, len(ordered))
	for i, doc := range ordered {
		ids[i] = doc.ID
	}

	return &models.ClusterRepresentation{
		Title:     story.Title,
		Summary:   story.Body,
		MemberIDs: ids,
		Embedding: embedding,
	}, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
