package clustering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsify/internal/narrative"
	"github.com/thebtf/newsify/pkg/models"
)

func TestOrderMembers(t *testing.T) {
	a := newDoc("a", 5, nil)
	b := newDoc("b", 1, nil)
	c := newDoc("c", 1, nil)

	got := OrderMembers([]models.Document{a, c, b, a})
	ids := make([]string, len(got))
	for i, d := range got {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestAggregator_BuildOrUpdate(t *testing.T) {
	embedder := &fakeEmbedder{}
	summarizer := &fakeSummarizer{}
	agg := NewAggregator(embedder, summarizer, 0, 0)

	members := []models.Document{newDoc("d2", 2, nil), newDoc("d1", 1, nil), newDoc("d2", 2, nil)}
	rep, err := agg.BuildOrUpdate(context.Background(), nil, members)
	require.NoError(t, err)

	assert.Equal(t, []string{"d1", "d2"}, rep.MemberIDs)
	assert.Equal(t, unit(0), rep.Embedding)
	assert.Equal(t, "Story of d1,d2", rep.Title)
	assert.Equal(t, []string{"Title d1 Body of d1. Title d2 Body of d2."}, embedder.texts)
}

func TestAggregator_RejectsIncompleteMemberSet(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, &fakeSummarizer{}, 0, 0)

	memberLog, _ := models.MemberLog{}.Append(1, models.DocumentRef{SourceID: "syri", DocumentID: "old"})
	existing := &models.Cluster{ID: "c1", MemberLog: memberLog}

	_, err := agg.BuildOrUpdate(context.Background(), existing, []models.Document{newDoc("new", 1, nil)})
	assert.ErrorIs(t, err, ErrIncompleteMembers)
}

func TestAggregator_FailureKinds(t *testing.T) {
	failingEmbed := &fakeEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errProvider
	}}
	_, err := NewAggregator(failingEmbed, &fakeSummarizer{}, 0, 0).
		BuildOrUpdate(context.Background(), nil, []models.Document{newDoc("a", 0, nil)})
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, errProvider)

	overlapping := &fakeSummarizer{summarizeFn: func(context.Context, []models.Document) (models.Narrative, error) {
		return narrative.Normalize(models.Narrative{Title: "Budget approved", Body: "The budget approved today."})
	}}
	_, err = NewAggregator(&fakeEmbedder{}, overlapping, 0, 0).
		BuildOrUpdate(context.Background(), nil, []models.Document{newDoc("a", 0, nil)})
	assert.ErrorIs(t, err, ErrSummaryFailure)
	assert.ErrorIs(t, err, narrative.ErrOverlap)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.1 }},
		{"zero eps", func(c *Config) { c.Eps = 0 }},
		{"eps above two", func(c *Config) { c.Eps = 2.5 }},
		{"min pts", func(c *Config) { c.MinPts = 0 }},
		{"min cluster size", func(c *Config) { c.MinClusterSize = 1 }},
		{"document age", func(c *Config) { c.DocumentMaxAge = 0 }},
		{"concurrency", func(c *Config) { c.EmbedConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
