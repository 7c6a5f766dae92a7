// Package notify dispatches outbound notifications through a messaging
// channel adapter, gated by the deduplication engine. Every candidate is
// cleared against the engine first; a duplicate is a normal control-flow
// outcome ("do not send"), surfaced as ErrDuplicateDetected so callers can
// distinguish it from a delivery failure. Fingerprints are recorded only
// after the channel confirms the send, so a failed delivery stays eligible
// for a retry.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-state/internal/dedup"
)

// ErrDuplicateDetected signals that the candidate was suppressed by the
// deduplication engine. It is an expected outcome, not a fault.
var ErrDuplicateDetected = errors.New("duplicate notification detected")

// ErrSendFailed wraps channel delivery failures.
var ErrSendFailed = errors.New("channel send failed")

// Channel is the messaging adapter contract. Implementations talk to the
// actual platform; this package only decides whether to call them.
type Channel interface {
	SendMessage(ctx context.Context, chatID int64, text string) (bool, error)
}

// Dispatcher pairs a channel with a dedup engine.
type Dispatcher struct {
	channel Channel
	engine  *dedup.Engine
	log     zerolog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(ch Channel, engine *dedup.Engine) *Dispatcher {
	return &Dispatcher{
		channel: ch,
		engine:  engine,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// Dispatch sends the candidate's text to chatID unless the engine has seen
// it before. On a duplicate it returns ErrDuplicateDetected with the
// engine's reason attached; on delivery failure it returns ErrSendFailed
// and records nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, c dedup.Candidate) error {
	if dup, reason := d.engine.IsDuplicate(c); dup {
		d.log.Info().
			Str("source", c.Source).
			Str("title", c.Title).
			Str("reason", reason).
			Msg("notification suppressed")
		return fmt.Errorf("%w: %s", ErrDuplicateDetected, reason)
	}

	text := c.Title
	if c.Body != "" {
		text = c.Title + "\n\n" + c.Body
	}
	ok, err := d.channel.SendMessage(ctx, chatID, text)
	if err != nil {
		d.log.Error().Err(err).Int64("chat_id", chatID).Str("source", c.Source).Msg("notification send failed")
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if !ok {
		return ErrSendFailed
	}

	d.engine.MarkSent(c)
	d.log.Debug().Int64("chat_id", chatID).Str("source", c.Source).Msg("notification dispatched")
	return nil
}
