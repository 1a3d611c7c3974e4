package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "scaled", a: []float32{1, 1}, b: []float32{3, 3}, want: 1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "empty", a: []float32{}, b: []float32{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Similarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestSimilarity_DimensionMismatch(t *testing.T) {
	_, err := Similarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = CosineDistance([]float32{1}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance(unit(0), unit(60))
	require.NoError(t, err)
	assert.InDelta(t, 1-math.Cos(math.Pi/3), d, 1e-6)
}

// vectorWithSimilarity returns a unit vector whose cosine similarity to
// unit(0) is exactly sim.
func vectorWithSimilarity(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func TestBestMatch(t *testing.T) {
	e := unit(0)

	t.Run("above threshold matches", func(t *testing.T) {
		m := BestMatch(vectorWithSimilarity(0.82), []Candidate{{ID: "c1", Embedding: e}}, 0.75)
		assert.True(t, m.Matched)
		assert.Equal(t, "c1", m.ClusterID)
		assert.InDelta(t, 0.82, m.Similarity, 1e-6)
	})

	t.Run("below threshold does not match", func(t *testing.T) {
		m := BestMatch(vectorWithSimilarity(0.69), []Candidate{{ID: "c1", Embedding: e}}, 0.7)
		assert.False(t, m.Matched)
		assert.Empty(t, m.ClusterID)
		assert.Equal(t, "c1", m.BestID)
	})

	t.Run("exactly at threshold matches", func(t *testing.T) {
		m := BestMatch(e, []Candidate{{ID: "c1", Embedding: e}}, 1.0)
		assert.True(t, m.Matched)
	})

	t.Run("no candidates", func(t *testing.T) {
		m := BestMatch(e, nil, 0)
		assert.False(t, m.Matched)
		assert.Empty(t, m.BestID)
	})

	t.Run("picks maximum", func(t *testing.T) {
		m := BestMatch(e, []Candidate{
			{ID: "far", Embedding: unit(60)},
			{ID: "near", Embedding: unit(5)},
			{ID: "mid", Embedding: unit(30)},
		}, 0.5)
		assert.Equal(t, "near", m.ClusterID)
	})

	t.Run("mismatched candidate skipped", func(t *testing.T) {
		m := BestMatch(e, []Candidate{
			{ID: "bad", Embedding: []float32{1, 0, 0}},
			{ID: "ok", Embedding: unit(10)},
		}, 0.5)
		assert.Equal(t, "ok", m.ClusterID)
		assert.Equal(t, 1, m.Skipped)
	})
}

func TestBestMatch_TieBreakIsOrderIndependent(t *testing.T) {
	e := unit(0)
	tied := unit(20)
	forward := []Candidate{{ID: "b", Embedding: tied}, {ID: "a", Embedding: tied}, {ID: "c", Embedding: unit(40)}}
	backward := []Candidate{forward[2], forward[1], forward[0]}

	m1 := BestMatch(e, forward, 0.5)
	m2 := BestMatch(e, backward, 0.5)

	assert.Equal(t, "a", m1.ClusterID)
	assert.Equal(t, m1, m2)
}

func TestTermsAndJaccard(t *testing.T) {
	terms := Terms("The Prime Minister met the Prime minister of Kosovo, and të tjerët")
	assert.Equal(t, []string{"prime", "minister", "met", "kosovo", "tjerët"}, terms)

	a := TermSet("Parliament approves budget")
	b := TermSet("Budget approved by parliament")
	assert.InDelta(t, 0.5, JaccardSimilarity(a, b), 1e-9)
	assert.Equal(t, 1.0, JaccardSimilarity(map[string]bool{}, map[string]bool{}))
	assert.Equal(t, 0.0, JaccardSimilarity(a, map[string]bool{}))
}
