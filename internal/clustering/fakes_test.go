package clustering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/thebtf/newsify/pkg/models"
)

// unit returns the 2D unit vector at deg degrees.
func unit(deg float64) []float32 {
	rad := deg * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

// withSimilarity returns a unit vector whose similarity to unit(0) is sim.
func withSimilarity(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

var baseTime = time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)

func newDoc(id string, minute int, embedding []float32) models.Document {
	return models.Document{
		ID:          id,
		SourceID:    "syri",
		Title:       "Title " + id,
		PublishedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		Content: models.ContentBlocks{
			{Kind: models.BlockParagraph, Payload: "Body of " + id + "."},
		},
		Embedding: embedding,
	}
}

type fakeStore struct {
	docs     map[string]models.Document
	clusters map[string]*models.Cluster

	fetchErr      error
	getClusterErr error
	commitErr     error
	// afterSnapshot runs once FetchActiveClusters has read the clusters.
	afterSnapshot func()

	commits         [][]models.ClusterCommit
	getClusterCalls int
	mu              sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[string]models.Document),
		clusters: make(map[string]*models.Cluster),
	}
}

func (s *fakeStore) addDocs(docs ...models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
}

// addCluster stores a cluster whose members are the given documents,
// marking them assigned.
func (s *fakeStore) addCluster(id string, embedding []float32, members ...models.Document) {
	refs := make([]models.DocumentRef, len(members))
	for i, d := range members {
		d.ClusterRef = id
		refs[i] = d.Ref()
		s.addDocs(d)
	}
	memberLog, _ := models.MemberLog{}.Append(baseTime.Add(-time.Hour).Unix(), refs...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[id] = &models.Cluster{
		ID:          id,
		MemberLog:   memberLog,
		Title:       "Cluster " + id,
		Summary:     "Existing summary.",
		Embedding:   embedding,
		Version:     1,
		LastUpdated: baseTime.Add(-time.Hour),
	}
}

func (s *fakeStore) doc(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *fakeStore) cluster(id string) *models.Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusters[id]
}

func (s *fakeStore) FetchUnassigned(_ context.Context, _ time.Duration) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []models.Document
	for _, d := range s.docs {
		if !d.IsAssigned() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) FetchActiveClusters(_ context.Context, _ time.Duration) ([]models.Cluster, error) {
	s.mu.Lock()
	out := make([]models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, *c)
	}
	hook := s.afterSnapshot
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *fakeStore) GetCluster(_ context.Context, id string) (*models.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getClusterCalls++
	if s.getClusterErr != nil {
		return nil, s.getClusterErr
	}
	c, ok := s.clusters[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	cp.MemberLog = c.MemberLog.Clone()
	return &cp, nil
}

func (s *fakeStore) GetDocuments(_ context.Context, refs []models.DocumentRef) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, ref := range refs {
		if d, ok := s.docs[ref.DocumentID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Commit(_ context.Context, commits []models.ClusterCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}

	for _, c := range commits {
		existing, ok := s.clusters[c.Cluster.ID]
		if c.Create == ok {
			return fmt.Errorf("cluster %s: %w", c.Cluster.ID, models.ErrConflict)
		}
		if ok && existing.Version != c.ExpectedVersion {
			return fmt.Errorf("cluster %s version: %w", c.Cluster.ID, models.ErrConflict)
		}
		for _, a := range c.Assignments {
			if s.docs[a.Ref.DocumentID].IsAssigned() {
				return fmt.Errorf("document %s: %w", a.Ref.DocumentID, models.ErrConflict)
			}
		}
	}

	for _, c := range commits {
		cp := *c.Cluster
		cp.Version = c.ExpectedVersion + 1
		s.clusters[cp.ID] = &cp
		for _, a := range c.Assignments {
			d := s.docs[a.Ref.DocumentID]
			d.ClusterRef = cp.ID
			if a.Embedding != nil {
				d.Embedding = a.Embedding
			}
			s.docs[d.ID] = d
		}
	}
	s.commits = append(s.commits, commits)
	return nil
}

type fakeEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	texts   []string
	mu      sync.Mutex
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(ctx, text)
	}
	return unit(0), nil
}

func (f *fakeEmbedder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeSummarizer struct {
	summarizeFn func(ctx context.Context, docs []models.Document) (models.Narrative, error)
	calls       [][]string
	mu          sync.Mutex
}

func (f *fakeSummarizer) Summarize(ctx context.Context, docs []models.Document) (models.Narrative, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	f.mu.Lock()
	f.calls = append(f.calls, ids)
	f.mu.Unlock()

	if f.summarizeFn != nil {
		return f.summarizeFn(ctx, docs)
	}
	return models.Narrative{
		Title: "Story of " + strings.Join(ids, ","),
		Body:  fmt.Sprintf("%d reports.", len(docs)),
	}, nil
}

func (f *fakeSummarizer) callIDs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

var errProvider = errors.New("provider unavailable")
