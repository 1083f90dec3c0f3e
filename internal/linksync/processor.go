package linksync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// CycleSummary describes one drain attempt. Per-item errors never escape the
// processor; they are classified, counted, and retried on the next cycle.
type CycleSummary struct {
	Skipped   bool
	Attempted int
	Succeeded int
	Remaining int
}

// Processor drains the durable queue against the backend. It is strictly a
// background mechanism: nothing it does is surfaced to the user interactively.
type Processor struct {
	queue   smartrack.PendingQueue
	client  Client
	tokens  smartrack.TokenReader
	log     zerolog.Logger
	onSaved func(ctx context.Context, link smartrack.Link)
}

func NewProcessor(queue smartrack.PendingQueue, client Client, tokens smartrack.TokenReader, log zerolog.Logger) (*Processor, error) {
	if queue == nil || client == nil || tokens == nil {
		return nil, smartrack.ErrInvalidInput
	}
	return &Processor{queue: queue, client: client, tokens: tokens, log: log}, nil
}

// OnSaved registers a hook invoked for every item a cycle delivers, so saves
// that went through the background queue still reach open dashboards.
func (p *Processor) OnSaved(fn func(ctx context.Context, link smartrack.Link)) {
	p.onSaved = fn
}

func (p *Processor) RunOnce(ctx context.Context) CycleSummary {
	items, version, err := p.queue.Drain()
	if err != nil {
		p.log.Error().Err(err).Msg("pending queue drain failed")
		return CycleSummary{Skipped: true}
	}
	if len(items) == 0 {
		return CycleSummary{}
	}
	if p.tokens.Token() == "" {
		// No credential: leave the queue untouched rather than burn
		// attempts that cannot succeed.
		p.log.Debug().Int("pending", len(items)).Msg("no credential, skipping retry cycle")
		return CycleSummary{Skipped: true, Remaining: len(items)}
	}

	summary := CycleSummary{Attempted: len(items)}
	remaining := make([]smartrack.PendingSave, 0, len(items))
	for i, item := range items {
		link, err := p.client.SaveLink(ctx, item.Payload)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				// Session expired mid-cycle. Keep this item and everything
				// after it; the rest of the cycle cannot succeed either.
				remaining = append(remaining, items[i:]...)
				p.log.Debug().Err(err).Msg("credential rejected mid-cycle, keeping remainder")
				break
			}
			p.log.Debug().Err(err).Str("url", item.Payload.URL).Msg("pending save attempt failed")
			remaining = append(remaining, item)
			continue
		}
		summary.Succeeded++
		if p.onSaved != nil {
			p.onSaved(ctx, link)
		}
	}
	summary.Remaining = len(remaining)

	if err := p.queue.Replace(remaining, version); err != nil {
		if errors.Is(err, smartrack.ErrQueueStale) {
			// Something enqueued between our drain and this replace. Drop
			// this cycle's result; the next drain sees the union and any
			// items we already delivered will be retried (the backend
			// tolerates duplicate saves).
			p.log.Debug().Msg("queue changed during cycle, deferring to next drain")
			return summary
		}
		p.log.Error().Err(err).Msg("pending queue replace failed")
		return summary
	}

	p.log.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("remaining", summary.Remaining).
		Msg("retry cycle complete")
	return summary
}
