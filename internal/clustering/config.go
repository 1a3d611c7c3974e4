package clustering

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/newsify/pkg/models"
)

// Store is the persistence the engine runs against.
type Store interface {
	// FetchUnassigned returns unassigned documents published within maxAge.
	FetchUnassigned(ctx context.Context, maxAge time.Duration) ([]models.Document, error)
	// FetchActiveClusters returns clusters updated within maxAge.
	FetchActiveClusters(ctx context.Context, maxAge time.Duration) ([]models.Cluster, error)
	// GetCluster reads one cluster. Returns models.ErrNotFound if absent.
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	// GetDocuments returns the documents that exist among refs, in any order.
	GetDocuments(ctx context.Context, refs []models.DocumentRef) ([]models.Document, error)
	// Commit applies every cluster upsert and its assignments in one atomic unit.
	Commit(ctx context.Context, commits []models.ClusterCommit) error
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer writes a title and body for an ordered set of documents.
type Summarizer interface {
	Summarize(ctx context.Context, docs []models.Document) (models.Narrative, error)
}

// Config holds the clustering parameters of a run.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity to join an existing cluster.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// Eps is the DBSCAN neighborhood radius in cosine distance.
	Eps float64 `yaml:"eps"`
	// MinPts is the DBSCAN core point neighborhood size, the point included.
	MinPts int `yaml:"min_pts"`
	// MinClusterSize is the smallest group materialized as a new cluster.
	MinClusterSize int `yaml:"min_cluster_size"`
	// DocumentMaxAge bounds which unassigned documents a run considers.
	DocumentMaxAge time.Duration `yaml:"document_max_age"`
	// ClusterMaxAge bounds which clusters may receive new members.
	ClusterMaxAge time.Duration `yaml:"cluster_max_age"`
	// EmbedConcurrency caps parallel embedding calls for new documents.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// EmbedTimeout and SummaryTimeout bound each external call.
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	SummaryTimeout time.Duration `yaml:"summary_timeout"`
}

// DefaultConfig returns the default clustering parameters.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.8,
		Eps:                 0.2,
		MinPts:              2,
		MinClusterSize:      2,
		DocumentMaxAge:      48 * time.Hour,
		ClusterMaxAge:       72 * time.Hour,
		EmbedConcurrency:    4,
		EmbedTimeout:        30 * time.Second,
		SummaryTimeout:      60 * time.Second,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %v", c.SimilarityThreshold)
	}
	if c.Eps <= 0 || c.Eps > 2 {
		return fmt.Errorf("eps must be in (0,2], got %v", c.Eps)
	}
	if c.MinPts < 1 {
		return fmt.Errorf("min_pts must be >= 1, got %d", c.MinPts)
	}
	if c.MinClusterSize < 2 {
		return fmt.Errorf("min_cluster_size must be >= 2, got %d", c.MinClusterSize)
	}
	if c.DocumentMaxAge <= 0 || c.ClusterMaxAge <= 0 {
		return fmt.Errorf("document_max_age and cluster_max_age must be positive")
	}
	if c.EmbedConcurrency < 1 {
		return fmt.Errorf("embed_concurrency must be >= 1, got %d", c.EmbedConcurrency)
	}
	return nil
}
