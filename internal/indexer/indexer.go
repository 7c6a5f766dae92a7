// Package indexer implements the asynchronous indexing pipeline: a
// fire-and-forget task per ingested message that pushes the content into
// the search index and, on success, flips the message's indexed_in_search
// flag in the durable tier.
//
// The request path never waits on a task, and cancelling the request's
// context does not cancel a task that has already been enqueued. A task
// that fails is logged and dropped: the flag stays false, and recovery is
// the out-of-band sweep over the (indexed_in_search, created_at) index,
// which belongs to an external collaborator.
package indexer

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-state/internal/domain"
	"github.com/tbourn/go-chat-state/internal/repo"
	"github.com/tbourn/go-chat-state/internal/search"
)

// ErrIneligible is returned for messages the pipeline does not index:
// anything that is not user-authored text.
var ErrIneligible = errors.New("message not eligible for indexing")

// ErrAlreadyEnqueued guards the at-most-one-enqueue-per-message contract.
var ErrAlreadyEnqueued = errors.New("message already enqueued")

// Pipeline owns the detached indexing tasks. Construct with New.
type Pipeline struct {
	db    *gorm.DB
	index search.Writer
	log   zerolog.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup
}

// New builds a Pipeline writing to idx and flipping flags through db.
func New(db *gorm.DB, idx search.Writer) *Pipeline {
	return &Pipeline{
		db:       db,
		index:    idx,
		log:      log.With().Str("component", "indexer").Logger(),
		inflight: make(map[int64]struct{}),
	}
}

// Enqueue fires a detached indexing task for the message and returns
// immediately. Only user-authored text messages are eligible. Enqueueing
// the same message ID twice while the first task is still running returns
// ErrAlreadyEnqueued.
func (p *Pipeline) Enqueue(ctx context.Context, msg domain.Message) error {
	if msg.Role != domain.RoleUser || msg.Kind != domain.KindText {
		return ErrIneligible
	}

	p.mu.Lock()
	if _, dup := p.inflight[msg.ID]; dup {
		p.mu.Unlock()
		return ErrAlreadyEnqueued
	}
	p.inflight[msg.ID] = struct{}{}
	p.mu.Unlock()

	// Detach from the request: an enqueued task survives parent
	// cancellation.
	taskCtx := context.WithoutCancel(ctx)
	taskID := uuid.NewString()

	p.wg.Add(1)
	go p.run(taskCtx, taskID, msg)
	return nil
}

func (p *Pipeline) run(ctx context.Context, taskID string, msg domain.Message) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, msg.ID)
		p.mu.Unlock()
	}()

	lg := p.log.With().
		Str("task_id", taskID).
		Int64("message_id", msg.ID).
		Int64("user_id", msg.UserID).
		Logger()

	meta := map[string]string{
		"message_id": strconv.FormatInt(msg.ID, 10),
		"user_id":    strconv.FormatInt(msg.UserID, 10),
	}
	if !p.index.IndexDocument(msg.Content, meta) {
		// no retry here; the flag sweep picks the message up later
		tasks.WithLabelValues("index_rejected").Inc()
		lg.Error().Msg("search index rejected document")
		return
	}

	if err := repo.SetMessageFlag(ctx, p.db, msg.ID, repo.FlagIndexedInSearch); err != nil {
		// the document is indexed but the flag is stale; re-indexing on
		// the next sweep is wasteful, not incorrect
		tasks.WithLabelValues("flag_failed").Inc()
		lg.Error().Err(err).Msg("failed to flip indexed flag")
		return
	}

	tasks.WithLabelValues("ok").Inc()
	lg.Debug().Msg("message indexed")
}

// Wait blocks until every enqueued task has finished. Intended for
// graceful shutdown and tests; the request path must never call it.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
