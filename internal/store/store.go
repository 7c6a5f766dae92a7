// Package store implements the conversation store facade: one write/read/
// clear surface over three storage tiers consulted in a fixed precedence
// order with graceful degradation.
//
//   - cache tier: Redis-backed turn list, best-effort, may be absent
//   - durable tier: relational store, the authoritative copy
//   - fallback tier: in-process ring buffer, used when everything else is down
//
// A tier failure is absorbed, logged, and treated as a miss; it never
// propagates to the caller unless every tier fails, in which case the
// operation reports ErrAllTiersFailed. Reads return the first tier's
// non-empty result and never merge partial results across tiers — merging
// would produce inconsistent interleavings, and the cache TTL is short
// enough that the visibility lag is acceptable. Deployments that prefer
// durable truth over cache latency flip ReadPreference instead.
//
// Observability: all public methods are OpenTelemetry-instrumented, and
// per-tier attempts are counted in Prometheus by (tier, op, outcome).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-state/internal/cache"
	"github.com/tbourn/go-chat-state/internal/domain"
	"github.com/tbourn/go-chat-state/internal/fallback"
	"github.com/tbourn/go-chat-state/internal/indexer"
	"github.com/tbourn/go-chat-state/internal/repo"
)

// ErrAllTiersFailed is the only error a facade operation surfaces: every
// configured tier rejected the operation.
var ErrAllTiersFailed = errors.New("all storage tiers failed")

// Tier names, used in outcomes, logs, and metric labels.
const (
	TierCache    = "cache"
	TierDurable  = "durable"
	TierFallback = "fallback"
)

// TierStatus is the per-tier result of a facade operation.
type TierStatus string

const (
	StatusOK          TierStatus = "ok"
	StatusMiss        TierStatus = "miss"
	StatusUnavailable TierStatus = "unavailable"
	StatusFailed      TierStatus = "failed"
	StatusSkipped     TierStatus = "skipped"
)

// ReadPreference selects which tier a read consults first. The fallback
// tier is always last.
type ReadPreference string

const (
	// ReadCacheFirst favors latency: the cache may serve data staler than
	// durable truth within the TTL window.
	ReadCacheFirst ReadPreference = "cache-first"
	// ReadDurableFirst favors consistency at the cost of a query per read.
	ReadDurableFirst ReadPreference = "durable-first"
)

// Outcome records which tiers accepted a write or clear.
type Outcome struct {
	Cache    TierStatus
	Durable  TierStatus
	Fallback TierStatus
}

// ok reports whether at least one tier accepted the operation.
func (o Outcome) ok() bool {
	return o.Cache == StatusOK || o.Durable == StatusOK || o.Fallback == StatusOK
}

// WriteRequest is one inbound or outbound turn to record.
type WriteRequest struct {
	UserID   int64
	Platform string
	ChatID   int64
	Role     string
	Kind     string // defaults to "text"
	Content  string

	// Optional platform-native message identifier and metadata.
	MessageID *int64
	Metadata  domain.Metadata

	// Optional profile fields carried along with the message; they feed
	// the user upsert inside the durable insert transaction.
	Username  *string
	FirstName *string
	LastName  *string
	IsBot     *bool
}

// Store is the conversation store facade. Construct with New; the zero
// value is not usable.
type Store struct {
	db       *gorm.DB
	cache    *cache.Cache
	ring     *fallback.Ring
	pipeline *indexer.Pipeline
	readPref ReadPreference
	log      zerolog.Logger
}

// Options wires a Store. DB, Cache, and Ring may each be nil: a nil tier
// is permanently unavailable, which is a legal (if degraded) deployment.
// Pipeline may be nil to disable asynchronous indexing.
type Options struct {
	DB             *gorm.DB
	Cache          *cache.Cache
	Ring           *fallback.Ring
	Pipeline       *indexer.Pipeline
	ReadPreference ReadPreference
}

// New builds a Store from Options.
func New(opts Options) *Store {
	pref := opts.ReadPreference
	if pref != ReadDurableFirst {
		pref = ReadCacheFirst
	}
	ring := opts.Ring
	if ring == nil {
		ring = fallback.New(0)
	}
	return &Store{
		db:       opts.DB,
		cache:    opts.Cache,
		ring:     ring,
		pipeline: opts.Pipeline,
		readPref: pref,
		log:      log.With().Str("component", "store").Logger(),
	}
}

// Write records one turn. The cache and durable tiers are attempted
// concurrently since they are independent and failure-isolated; the
// fallback tier is written only when both of them fail. The operation
// succeeds when any tier accepts the write, and the returned Outcome says
// which ones did. Every tier failing yields ErrAllTiersFailed.
func (s *Store) Write(ctx context.Context, req WriteRequest) (Outcome, error) {
	tr := otel.Tracer("store/Store")
	ctx, span := tr.Start(ctx, "Write",
		trace.WithAttributes(
			attribute.Int64("user.id", req.UserID),
			attribute.String("platform", req.Platform),
		),
	)
	defer span.End()

	if req.Kind == "" {
		req.Kind = domain.KindText
	}
	turn := domain.Turn{Role: req.Role, Content: req.Content, Timestamp: time.Now().UTC()}

	out := Outcome{Cache: StatusUnavailable, Durable: StatusUnavailable, Fallback: StatusSkipped}
	var durableMsg *domain.Message

	done := make(chan struct{}, 2)
	go func() {
		out.Cache = s.writeCache(ctx, req, turn)
		done <- struct{}{}
	}()
	go func() {
		out.Durable, durableMsg = s.writeDurable(ctx, req)
		done <- struct{}{}
	}()
	<-done
	<-done

	if out.Cache != StatusOK && out.Durable != StatusOK {
		s.ring.Append(req.UserID, req.Platform, turn)
		out.Fallback = StatusOK
		tierOps.WithLabelValues(TierFallback, "write", string(StatusOK)).Inc()
		s.log.Warn().
			Int64("user_id", req.UserID).
			Str("platform", req.Platform).
			Msg("cache and durable tiers down, turn kept in fallback ring")
	}

	// indexing rides on the durable write: no durable row, nothing to flag
	if durableMsg != nil && s.pipeline != nil {
		if err := s.pipeline.Enqueue(ctx, *durableMsg); err != nil &&
			!errors.Is(err, indexer.ErrIneligible) && !errors.Is(err, indexer.ErrAlreadyEnqueued) {
			s.log.Error().Err(err).Int64("message_id", durableMsg.ID).Msg("indexing enqueue failed")
		}
	}

	if !out.ok() {
		span.SetAttributes(attribute.Bool("all_tiers_failed", true))
		return out, ErrAllTiersFailed
	}
	return out, nil
}

func (s *Store) writeCache(ctx context.Context, req WriteRequest, turn domain.Turn) TierStatus {
	if !s.cache.Available() {
		tierOps.WithLabelValues(TierCache, "write", string(StatusUnavailable)).Inc()
		return StatusUnavailable
	}
	if err := s.cache.Append(ctx, req.UserID, req.Platform, turn); err != nil {
		status := StatusFailed
		if errors.Is(err, cache.ErrUnavailable) {
			status = StatusUnavailable
			s.log.Warn().Err(err).Msg("cache tier unavailable")
		} else {
			s.log.Error().Err(err).Int64("user_id", req.UserID).Msg("cache tier write failed")
		}
		tierOps.WithLabelValues(TierCache, "write", string(status)).Inc()
		return status
	}
	tierOps.WithLabelValues(TierCache, "write", string(StatusOK)).Inc()
	return StatusOK
}

func (s *Store) writeDurable(ctx context.Context, req WriteRequest) (TierStatus, *domain.Message) {
	if s.db == nil {
		tierOps.WithLabelValues(TierDurable, "write", string(StatusUnavailable)).Inc()
		return StatusUnavailable, nil
	}
	msg, err := repo.InsertMessage(ctx, s.db, repo.NewMessage{
		User: repo.UserUpdate{
			ID:        req.UserID,
			Username:  req.Username,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			IsBot:     req.IsBot,
		},
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
		Role:      req.Role,
		Kind:      req.Kind,
		Content:   req.Content,
		Metadata:  req.Metadata,
	})
	if err != nil {
		tierOps.WithLabelValues(TierDurable, "write", string(StatusFailed)).Inc()
		s.log.Error().Err(err).Int64("user_id", req.UserID).Msg("durable tier write failed")
		return StatusFailed, nil
	}
	tierOps.WithLabelValues(TierDurable, "write", string(StatusOK)).Inc()
	return StatusOK, msg
}

// Read returns up to limit turns for a (user, platform) pair in
// chronological order (most-recent-last). Tiers are consulted in the
// configured precedence and the first non-empty result wins; partial
// results are never merged across tiers. A tier error counts as a miss.
// ErrAllTiersFailed is returned only when every tier errored.
func (s *Store) Read(ctx context.Context, userID int64, platform string, limit int) ([]domain.Turn, error) {
	tr := otel.Tracer("store/Store")
	ctx, span := tr.Start(ctx, "Read",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("platform", platform),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	attempts := 0
	failures := 0

	readTier := func(tier string, fn func() ([]domain.Turn, error)) ([]domain.Turn, bool) {
		attempts++
		turns, err := fn()
		switch {
		case err != nil:
			failures++
			tierOps.WithLabelValues(tier, "read", string(StatusFailed)).Inc()
			s.log.Warn().Err(err).Str("tier", tier).Int64("user_id", userID).Msg("tier read failed, falling through")
			return nil, false
		case len(turns) == 0:
			tierOps.WithLabelValues(tier, "read", string(StatusMiss)).Inc()
			return nil, false
		default:
			tierOps.WithLabelValues(tier, "read", string(StatusOK)).Inc()
			span.SetAttributes(attribute.String("served_by", tier))
			return turns, true
		}
	}

	order := []string{TierCache, TierDurable, TierFallback}
	if s.readPref == ReadDurableFirst {
		order = []string{TierDurable, TierCache, TierFallback}
	}

	for _, tier := range order {
		switch tier {
		case TierCache:
			if !s.cache.Available() {
				tierOps.WithLabelValues(TierCache, "read", string(StatusUnavailable)).Inc()
				continue
			}
			if turns, hit := readTier(TierCache, func() ([]domain.Turn, error) {
				return s.cache.Recent(ctx, userID, platform, limit)
			}); hit {
				return turns, nil
			}
		case TierDurable:
			if s.db == nil {
				tierOps.WithLabelValues(TierDurable, "read", string(StatusUnavailable)).Inc()
				continue
			}
			if turns, hit := readTier(TierDurable, func() ([]domain.Turn, error) {
				msgs, err := repo.ListRecentMessages(ctx, s.db, userID, "", limit)
				if err != nil {
					return nil, err
				}
				return toTurns(msgs), nil
			}); hit {
				return turns, nil
			}
		case TierFallback:
			if turns, hit := readTier(TierFallback, func() ([]domain.Turn, error) {
				return s.ring.Recent(userID, platform, limit), nil
			}); hit {
				return turns, nil
			}
		}
	}

	if attempts > 0 && failures == attempts {
		return nil, ErrAllTiersFailed
	}
	return nil, nil
}

// Clear wipes the conversation state for a (user, platform) pair in every
// tier: the cache list, the durable messages and context windows, and the
// fallback ring. It succeeds when any tier accepted the clear.
func (s *Store) Clear(ctx context.Context, userID int64, platform string) (Outcome, error) {
	tr := otel.Tracer("store/Store")
	ctx, span := tr.Start(ctx, "Clear",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("platform", platform),
		),
	)
	defer span.End()

	out := Outcome{Cache: StatusUnavailable, Durable: StatusUnavailable, Fallback: StatusOK}

	if s.cache.Available() {
		if err := s.cache.Clear(ctx, userID, platform); err != nil {
			out.Cache = StatusFailed
			s.log.Error().Err(err).Int64("user_id", userID).Msg("cache tier clear failed")
		} else {
			out.Cache = StatusOK
		}
	}
	tierOps.WithLabelValues(TierCache, "clear", string(out.Cache)).Inc()

	if s.db != nil {
		_, merr := repo.DeleteMessages(ctx, s.db, userID)
		_, cerr := repo.DeleteContexts(ctx, s.db, userID)
		if merr != nil || cerr != nil {
			out.Durable = StatusFailed
			s.log.Error().AnErr("messages", merr).AnErr("contexts", cerr).
				Int64("user_id", userID).Msg("durable tier clear failed")
		} else {
			out.Durable = StatusOK
		}
	}
	tierOps.WithLabelValues(TierDurable, "clear", string(out.Durable)).Inc()

	s.ring.Clear(userID, platform)
	tierOps.WithLabelValues(TierFallback, "clear", string(StatusOK)).Inc()

	if !out.ok() {
		return out, ErrAllTiersFailed
	}
	return out, nil
}

// toTurns converts durable rows into the facade's turn representation.
func toTurns(msgs []domain.Message) []domain.Turn {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]domain.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = domain.Turn{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
	}
	return out
}
