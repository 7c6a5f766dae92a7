// Package chatstate is the public assembly of the conversation-state
// subsystem: a tiered store for chat turns (Redis cache, SQLite durable
// tier, in-process fallback ring), an asynchronous search-indexing
// pipeline, and a deduplication engine for outbound notifications.
//
// The package wires the internal components from a single Config and
// re-exports the types callers need. Everything is explicitly
// constructed; the only process-wide state is the metrics registry and
// the logging/tracing globals the ambient stack expects.
package chatstate

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-state/internal/cache"
	"github.com/tbourn/go-chat-state/internal/config"
	"github.com/tbourn/go-chat-state/internal/dedup"
	"github.com/tbourn/go-chat-state/internal/domain"
	"github.com/tbourn/go-chat-state/internal/fallback"
	"github.com/tbourn/go-chat-state/internal/indexer"
	"github.com/tbourn/go-chat-state/internal/notify"
	"github.com/tbourn/go-chat-state/internal/observability"
	"github.com/tbourn/go-chat-state/internal/repo"
	"github.com/tbourn/go-chat-state/internal/search"
	"github.com/tbourn/go-chat-state/internal/store"
	"github.com/tbourn/go-chat-state/internal/sysutil"
)

// Version is reported to the tracing backend.
const Version = "0.1.0"

// Re-exported types so consumers never import internal packages.
type (
	Config       = config.Config
	Turn         = domain.Turn
	Metadata     = domain.Metadata
	WriteRequest = store.WriteRequest
	Outcome      = store.Outcome
	Candidate    = dedup.Candidate
	Channel      = notify.Channel
)

// Re-exported outcome errors.
var (
	ErrAllTiersFailed    = store.ErrAllTiersFailed
	ErrDuplicateDetected = notify.ErrDuplicateDetected
)

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) { return config.Load() }

// Service owns the wired subsystem. Construct with New, release with Close.
type Service struct {
	Store *store.Store
	Dedup *dedup.Engine
	Index *search.Index

	db       *gorm.DB
	cache    *cache.Cache
	pipeline *indexer.Pipeline
	otelStop func(context.Context) error
}

// New builds the whole subsystem from cfg: logging, tracing, the three
// storage tiers, the indexing pipeline, and the dedup engine. The durable
// tier is required; the cache tier is optional and its absence degrades
// silently.
func New(ctx context.Context, cfg Config) (*Service, error) {
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	otelStop, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open durable tier: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate durable tier: %w", err)
	}

	c := cache.New(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.CacheTTL,
		MaxTurns: cfg.CacheMaxTurns,
	})

	idx := search.NewIndex()
	pipeline := indexer.New(db, idx)

	s := store.New(store.Options{
		DB:             db,
		Cache:          c,
		Ring:           fallback.New(cfg.FallbackCapacity),
		Pipeline:       pipeline,
		ReadPreference: store.ReadPreference(cfg.ReadPreference),
	})

	return &Service{
		Store:    s,
		Dedup:    dedup.New(cfg.DedupCapacity),
		Index:    idx,
		db:       db,
		cache:    c,
		pipeline: pipeline,
		otelStop: otelStop,
	}, nil
}

// Dispatcher returns an outbound dispatcher that clears every candidate
// through this service's dedup engine before handing it to ch.
func (s *Service) Dispatcher(ch Channel) *notify.Dispatcher {
	return notify.NewDispatcher(ch, s.Dedup)
}

// Close drains the indexing pipeline and releases the tiers and the
// tracing provider. Individual shutdown failures are collected rather
// than aborting the rest.
func (s *Service) Close(ctx context.Context) error {
	s.pipeline.Wait()

	var errs []error
	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("durable: %w", cerr))
		}
	}
	if s.otelStop != nil {
		if err := s.otelStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel: %w", err))
		}
	}
	return errors.Join(errs...)
}
