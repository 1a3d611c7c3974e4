package cmd

import (
	"fmt"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/newsify/internal/clustering"
	"github.com/thebtf/newsify/internal/config"
	gormdb "github.com/thebtf/newsify/internal/db/gorm"
	"github.com/thebtf/newsify/internal/embedding"
	"github.com/thebtf/newsify/internal/lock"
	"github.com/thebtf/newsify/internal/narrative"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	store     *gormdb.Store
	repo      *gormdb.Repository
	embedder  *embedding.Service
	redisPool *redis.Pool
	engine    *clustering.Engine
	// summaries is nil for providers that cannot summarize single documents.
	summaries narrative.DocumentSummarizer
}

// openStore opens the database and applies migrations.
func openStore(cfg *config.Config, dims int) (*gormdb.Store, error) {
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.DSN,
		MaxConns:      cfg.Database.MaxConns,
		LogLevel:      logger.Silent,
		EmbeddingDims: dims,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	return store, nil
}

// newSummarizer picks the narrative provider.
func newSummarizer(cfg config.NarrativeConfig) (clustering.Summarizer, error) {
	if strings.EqualFold(cfg.Provider, config.NarrativeExtractive) {
		return narrative.Extractive{}, nil
	}
	client, err := narrative.NewClient(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("narrative client: %w", err)
	}
	return client, nil
}

// buildApp wires config into store, services, locks and the engine.
func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	embedder, err := embedding.NewService(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	a.embedder = embedder

	summarizer, err := newSummarizer(cfg.Narrative)
	if err != nil {
		a.Close()
		return nil, err
	}
	if ds, ok := summarizer.(narrative.DocumentSummarizer); ok {
		a.summaries = ds
	}

	store, err := openStore(cfg, embedder.Dimensions())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.repo = gormdb.NewRepository(store)

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		a.redisPool = lock.NewRedisPool(cfg.Redis.Addr)
		locker = lock.NewRedisLocker(a.redisPool, lock.RedisConfig{TTL: cfg.Redis.TTL})
	} else {
		locker = lock.NewKeyedMutex()
	}

	a.engine = clustering.NewEngine(a.repo, embedder, summarizer, locker, cfg.Clustering, log.Logger)

	log.Info().
		Str("driver", store.Driver()).
		Str("embedding_model", embedder.Name()).
		Int("embedding_dims", embedder.Dimensions()).
		Str("narrative", cfg.Narrative.Provider).
		Bool("redis_locks", a.redisPool != nil).
		Msg("Components initialized")

	return a, nil
}

// Close releases every opened resource.
func (a *app) Close() {
	if a.redisPool != nil {
		if err := a.redisPool.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis pool close error")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Database close error")
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}
