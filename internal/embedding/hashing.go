package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/thebtf/newsify/pkg/similarity"
)

const (
	HashingModelVersion     = "hashing"
	HashingDefaultDimension = 256
)

// hashingModel is a deterministic local model based on feature hashing of
// content terms. It needs no network and is used for development and tests.
type hashingModel struct {
	dimensions int
}

func init() {
	RegisterModel(ModelMetadata{
		Name:        "Feature Hashing",
		Version:     HashingModelVersion,
		Dimensions:  HashingDefaultDimension,
		Description: "Deterministic local term hashing, no network",
	}, newHashingModel)
}

func newHashingModel(cfg ModelConfig) (Model, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = HashingDefaultDimension
	}
	return &hashingModel{dimensions: dims}, nil
}

func (m *hashingModel) Name() string    { return "feature-hashing" }
func (m *hashingModel) Version() string { return HashingModelVersion }
func (m *hashingModel) Dimensions() int { return m.dimensions }
func (m *hashingModel) Close() error    { return nil }

func (m *hashingModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, m.dimensions)
	for _, term := range similarity.Terms(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()

		idx := int(sum % uint64(m.dimensions))
		// The top bit picks the sign so unrelated terms cancel instead of piling up.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
