// Package clustering assigns incoming documents to topic clusters, run by run.
package clustering

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/newsify/internal/lock"
	"github.com/thebtf/newsify/pkg/models"
	"github.com/thebtf/newsify/pkg/similarity"
)

// Engine runs the incremental clustering protocol against a store.
//
// A run reads a snapshot of unassigned documents and active clusters,
// attaches documents to the most similar cluster, groups the rest by
// density and writes every change in a single commit at the end.
// Clusters created during a run are not matched against until the next run.
type Engine struct {
	store      Store
	embedder   Embedder
	summarizer Summarizer
	locker     lock.Locker
	metrics    *runMetrics
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
	cfg        Config
	mu         sync.RWMutex
}

// item is a candidate document with its embedding resolved.
type item struct {
	doc      models.Document
	computed bool
}

// NewEngine creates an engine. A nil locker uses an in-process KeyedMutex.
func NewEngine(store Store, embedder Embedder, summarizer Summarizer, locker lock.Locker, cfg Config, logger zerolog.Logger) *Engine {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		locker:     locker,
		metrics:    newRunMetrics(),
		logger:     logger.With().Str("component", "clustering-engine").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
		cfg:        cfg,
	}
}

// Config returns the parameters the next run will use.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig replaces the parameters for subsequent runs. A run in progress keeps its own copy.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid clustering config: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Run executes one clustering run. On error nothing from the run is committed
// and the returned report describes how far the run got.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	cfg := e.Config()
	start := e.now()
	report := &RunReport{StartedAt: start}

	ctx, span := tracer.Start(ctx, "clustering.run")
	defer span.End()

	err := e.run(ctx, cfg, start, report)
	report.Elapsed = e.now().Sub(start)
	e.metrics.record(ctx, report, err)

	span.SetAttributes(
		attribute.Int("newsify.run.fetched", report.Fetched),
		attribute.Int("newsify.run.assigned", report.Assigned),
	)
	if err != nil {
		span.RecordError(err)
		e.logger.Error().Err(err).EmbedObject(report).Msg("Clustering run failed")
		return report, err
	}

	e.logger.Info().EmbedObject(report).Msg("Clustering run complete")
	return report, nil
}

func (e *Engine) run(ctx context.Context, cfg Config, start time.Time, report *RunReport) error {
	docs, err := e.store.FetchUnassigned(ctx, cfg.DocumentMaxAge)
	if err != nil {
		return storeError(ctx, "fetch unassigned documents", err)
	}
	clusters, err := e.store.FetchActiveClusters(ctx, cfg.ClusterMaxAge)
	if err != nil {
		return storeError(ctx, "fetch active clusters", err)
	}

	docs = unassignedByID(docs)
	report.Fetched = len(docs)
	report.ActiveClusters = len(clusters)
	if len(docs) == 0 {
		report.Committed = true
		return nil
	}

	items, err := e.embedMissing(ctx, cfg, docs, report)
	if err != nil {
		return err
	}

	snapshot := make([]similarity.Candidate, 0, len(clusters))
	for _, c := range clusters {
		if len(c.Embedding) > 0 {
			snapshot = append(snapshot, similarity.Candidate{ID: c.ID, Embedding: c.Embedding})
		}
	}

	matched := make(map[string][]*item)
	var pending []*item
	for _, it := range items {
		m := similarity.BestMatch(it.doc.Embedding, snapshot, cfg.SimilarityThreshold)
		report.DimensionMismatches += m.Skipped
		if m.Matched {
			matched[m.ClusterID] = append(matched[m.ClusterID], it)
			report.Matched++
			continue
		}
		pending = append(pending, it)
	}

	agg := NewAggregator(e.embedder, e.summarizer, cfg.EmbedTimeout, cfg.SummaryTimeout)
	batch := start.Unix()
	var commits []models.ClusterCommit

	// Cluster locks are held until the commit below has finished.
	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	targets := make([]string, 0, len(matched))
	for id := range matched {
		targets = append(targets, id)
	}
	slices.Sort(targets)

	for _, id := range targets {
		members := matched[id]
		release, err := e.locker.Acquire(ctx, "cluster:"+id)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("lock cluster %s: %w", id, ctx.Err())
			}
			e.skipAll(report, members, id, SkipLock, err)
			continue
		}
		releases = append(releases, release)

		commit, err := e.updateCluster(ctx, agg, id, members, batch, start, report)
		if err != nil {
			return err
		}
		if commit != nil {
			commits = append(commits, *commit)
		}
	}

	for _, group := range e.densityGroups(cfg, pending, report) {
		commit, err := e.createCluster(ctx, agg, group, batch, start, report)
		if err != nil {
			return err
		}
		if commit != nil {
			commits = append(commits, *commit)
		}
	}

	if len(commits) > 0 {
		if err := e.store.Commit(ctx, commits); err != nil {
			return storeError(ctx, "commit run", err)
		}
	}

	for _, c := range commits {
		if c.Create {
			report.ClustersCreated = append(report.ClustersCreated, c.Cluster.ID)
		} else {
			report.ClustersUpdated = append(report.ClustersUpdated, c.Cluster.ID)
		}
		report.Assigned += len(c.Assignments)
	}
	report.Unassigned = report.Fetched - report.Assigned
	report.Committed = true
	return nil
}

// embedMissing embeds documents without an embedding in parallel. A failed
// call skips only that document.
func (e *Engine) embedMissing(ctx context.Context, cfg Config, docs []models.Document, report *RunReport) ([]*item, error) {
	items := make([]*item, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(max(cfg.EmbedConcurrency, 1))
	for i := range docs {
		doc := docs[i]
		if doc.HasEmbedding() {
			items[i] = &item{doc: doc}
			continue
		}
		g.Go(func() error {
			callCtx, cancel := withOptionalTimeout(ctx, cfg.EmbedTimeout)
			defer cancel()

			vec, err := e.embedder.Embed(callCtx, doc.CanonicalText())
			if err != nil {
				errs[i] = err
				return nil
			}
			doc.Embedding = vec
			items[i] = &item{doc: doc, computed: true}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}

	out := make([]*item, 0, len(items))
	for i, it := range items {
		if it == nil {
			e.skip(report, &docs[i], "", SkipEmbedding, fmt.Errorf("%w: %w", ErrEmbeddingFailure, errs[i]))
			continue
		}
		if it.computed {
			report.Embedded++
		}
		out = append(out, it)
	}
	return out, nil
}

// updateCluster stages the attachment of members to an existing cluster.
// It must be called with the cluster lock held. A nil commit with a nil
// error means the update was dropped for this run.
func (e *Engine) updateCluster(ctx context.Context, agg *Aggregator, id string, members []*item, batch int64, at time.Time, report *RunReport) (*models.ClusterCommit, error) {
	fresh, err := e.store.GetCluster(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		e.skipAll(report, members, id, SkipClusterGone, err)
		return nil, nil
	}
	if err != nil {
		return nil, storeError(ctx, "get cluster "+id, err)
	}

	members = orderItems(members)
	refs := make([]models.DocumentRef, len(members))
	for i, it := range members {
		refs[i] = it.doc.Ref()
	}
	memberLog, _ := fresh.MemberLog.Append(batch, refs...)

	docs := make([]models.Document, 0, memberLog.Len())
	if oldRefs := fresh.MemberLog.Refs(); len(oldRefs) > 0 {
		oldDocs, err := e.store.GetDocuments(ctx, oldRefs)
		if err != nil {
			return nil, storeError(ctx, "get members of cluster "+id, err)
		}
		found := make(models.MemberSet, len(oldDocs))
		for _, d := range oldDocs {
			found[d.ID] = struct{}{}
		}
		for _, ref := range oldRefs {
			if !found.Contains(ref.DocumentID) {
				e.skipAll(report, members, id, SkipMissingMember, fmt.Errorf("member %s not found", ref))
				return nil, nil
			}
		}
		docs = append(docs, oldDocs...)
	}
	for _, it := range members {
		docs = append(docs, it.doc)
	}

	rep, err := agg.BuildOrUpdate(ctx, fresh, docs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("aggregate cluster %s: %w", id, ctx.Err())
		}
		e.skipAll(report, members, id, aggregationReason(err), err)
		return nil, nil
	}

	return &models.ClusterCommit{
		Cluster:         fresh.WithRepresentation(memberLog, rep, at),
		Batch:           batch,
		Assignments:     assignments(members),
		ExpectedVersion: fresh.Version,
	}, nil
}

// createCluster stages a new cluster for a density group.
func (e *Engine) createCluster(ctx context.Context, agg *Aggregator, group []*item, batch int64, at time.Time, report *RunReport) (*models.ClusterCommit, error) {
	group = orderItems(group)
	docs := make([]models.Document, len(group))
	refs := make([]models.DocumentRef, len(group))
	for i, it := range group {
		docs[i] = it.doc
		refs[i] = it.doc.Ref()
	}

	rep, err := agg.BuildOrUpdate(ctx, nil, docs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("aggregate new cluster: %w", ctx.Err())
		}
		e.skipAll(report, group, "", aggregationReason(err), err)
		return nil, nil
	}

	memberLog, _ := models.MemberLog{}.Append(batch, refs...)
	cluster := &models.Cluster{ID: e.newID()}

	return &models.ClusterCommit{
		Cluster:     cluster.WithRepresentation(memberLog, rep, at),
		Batch:       batch,
		Assignments: assignments(group),
		Create:      true,
	}, nil
}

// densityGroups runs DBSCAN over the unmatched documents and returns the
// groups large enough to become clusters. Everything else stays unassigned.
func (e *Engine) densityGroups(cfg Config, pending []*item, report *RunReport) [][]*item {
	if len(pending) == 0 {
		return nil
	}

	byID := make(map[string]*item, len(pending))
	points := make([]similarity.Point, 0, len(pending))
	for _, it := range pending {
		byID[it.doc.ID] = it
		points = append(points, similarity.Point{ID: it.doc.ID, Embedding: it.doc.Embedding})
	}

	result := similarity.DBSCAN(points, similarity.DBSCANParams{Eps: cfg.Eps, MinPts: cfg.MinPts})

	groups := make([][]*item, 0, len(result.Clusters))
	for _, ids := range result.Clusters {
		group := make([]*item, len(ids))
		for i, id := range ids {
			group[i] = byID[id]
		}
		if len(group) < cfg.MinClusterSize {
			e.skipAll(report, group, "", SkipNoise, nil)
			continue
		}
		groups = append(groups, group)
	}
	for _, id := range result.Noise {
		e.skip(report, &byID[id].doc, "", SkipNoise, nil)
	}
	return groups
}

func (e *Engine) skipAll(report *RunReport, items []*item, clusterID string, reason SkipReason, err error) {
	for _, it := range items {
		e.skip(report, &it.doc, clusterID, reason, err)
	}
}

func (e *Engine) skip(report *RunReport, doc *models.Document, clusterID string, reason SkipReason, err error) {
	report.skip(doc.ID, doc.SourceID, clusterID, reason, err)
	if reason == SkipNoise {
		e.logger.Debug().Str("document", doc.ID).Msg("Document left unassigned")
		return
	}
	e.logger.Warn().Err(err).
		Str("document", doc.ID).
		Str("cluster", clusterID).
		Str("reason", string(reason)).
		Msg("Document skipped")
}

func aggregationReason(err error) SkipReason {
	switch {
	case errors.Is(err, ErrSummaryFailure):
		return SkipSummary
	case errors.Is(err, ErrEmbeddingFailure):
		return SkipEmbedding
	default:
		return SkipAggregation
	}
}

// storeError marks a store failure as fatal for the run. Conflicts and
// cancellation keep their own identity.
func storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, models.ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// unassignedByID drops assigned and duplicate documents and sorts by id.
func unassignedByID(docs []models.Document) []models.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if d.IsAssigned() {
			continue
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func orderItems(items []*item) []*item {
	out := slices.Clone(items)
	slices.SortFunc(out, func(a, b *item) int {
		if c := a.doc.PublishedAt.Compare(b.doc.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.doc.ID, b.doc.ID)
	})
	return out
}

func assignments(items []*item) []models.Assignment {
	out := make([]models.Assignment, len(items))
	for i, it := range items {
		out[i] = models.Assignment{Ref: it.doc.Ref()}
		if it.computed {
			out[i].Embedding = it.doc.Embedding
		}
	}
	return out
}
