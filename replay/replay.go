// Package replay implements the replay coordinator: a phased, paged replay
// of a tenant's event history into a projection, with progress reporting
// and cooperative cancellation.
package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"libranexus/eventlog"
	"libranexus/eventstore"
	"libranexus/ids"
)

const pageSize = 1000

// Phase is where a replay currently stands.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseClearing
	PhaseReplaying
	PhaseComplete
	PhaseFailed
)

// Progress is a point-in-time snapshot of a running (or finished) replay.
type Progress struct {
	TotalEvents       int
	ProcessedEvents   int
	ProcessedAggregates int
	Phase             Phase
	IsComplete        bool
	Err               error
}

// ApplyEnvelopeFunc folds one envelope into the target projection.
type ApplyEnvelopeFunc func(ctx context.Context, envelope eventlog.EventEnvelope) error

// ClearTenantFunc wipes the target projection's state for one tenant before
// replay begins, unless the replay is a dry run.
type ClearTenantFunc func(ctx context.Context, tenantID ids.TenantId) error

// Handle lets a caller observe and control an in-flight replay.
type Handle struct {
	mu         sync.RWMutex
	progress   Progress
	cancelled  int32
	completion chan struct{}
}

func newHandle() *Handle {
	return &Handle{completion: make(chan struct{})}
}

func (h *Handle) Progress() Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.progress
}

func (h *Handle) setProgress(mutate func(*Progress)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mutate(&h.progress)
}

// Cancel requests cooperative cancellation; the coordinator checks this
// between pages and between individual envelope applications.
func (h *Handle) Cancel() { atomic.StoreInt32(&h.cancelled, 1) }

func (h *Handle) isCancelled() bool { return atomic.LoadInt32(&h.cancelled) == 1 }

// WaitForCompletion blocks until the replay finishes (successfully, with an
// error, or via cancellation).
func (h *Handle) WaitForCompletion(ctx context.Context) error {
	select {
	case <-h.completion:
		return h.Progress().Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.setProgress(func(p *Progress) {
		p.IsComplete = true
		p.Err = err
		if err != nil {
			p.Phase = PhaseFailed
		} else {
			p.Phase = PhaseComplete
		}
	})
	close(h.completion)
}

// Coordinator runs replays against an EventQuery, rate-limiting page fetches
// so a rebuild triggered against a live store doesn't starve foreground
// traffic.
type Coordinator struct {
	query   eventstore.EventQuery
	limiter *rate.Limiter
}

// NewCoordinator constructs a Coordinator. pagesPerSecond bounds how many
// pages of pageSize events may be fetched per second; pass 0 for no limit.
func NewCoordinator(query eventstore.EventQuery, pagesPerSecond float64) *Coordinator {
	var limiter *rate.Limiter
	if pagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(pagesPerSecond), 1)
	}
	return &Coordinator{query: query, limiter: limiter}
}

// Replay starts a replay for tenantID, restricted to aggregateTypes (empty
// means all), and returns a Handle immediately; the replay itself runs in a
// new goroutine. If dryRun is true, clearTenant is never called and the
// projection's existing state is left untouched (apply is still exercised,
// useful for validating a rebuild before committing to it).
func (c *Coordinator) Replay(
	ctx context.Context,
	tenantID ids.TenantId,
	aggregateTypes []string,
	dryRun bool,
	apply ApplyEnvelopeFunc,
	clearTenant ClearTenantFunc,
) *Handle {
	handle := newHandle()
	go c.run(ctx, tenantID, aggregateTypes, dryRun, apply, clearTenant, handle)
	return handle
}

func (c *Coordinator) run(
	ctx context.Context,
	tenantID ids.TenantId,
	aggregateTypes []string,
	dryRun bool,
	apply ApplyEnvelopeFunc,
	clearTenant ClearTenantFunc,
	handle *Handle,
) {
	handle.setProgress(func(p *Progress) { p.Phase = PhaseLoading })

	typeSet := make(map[string]bool, len(aggregateTypes))
	for _, t := range aggregateTypes {
		typeSet[t] = true
	}

	var all []eventlog.StoredEvent
	offset := 0
	for {
		if handle.isCancelled() {
			handle.finish(fmt.Errorf("replay cancelled"))
			return
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				handle.finish(fmt.Errorf("rate limiter: %w", err))
				return
			}
		}

		result, err := c.query.QueryEvents(ctx, tenantID, eventstore.EventFilter{}, eventstore.NewPagination(pageSize, offset))
		if err != nil {
			handle.finish(fmt.Errorf("load events page at offset %d: %w", offset, err))
			return
		}
		for _, e := range result.Events {
			if len(typeSet) == 0 || typeSet[e.AggregateType] {
				all = append(all, e)
			}
		}
		handle.setProgress(func(p *Progress) { p.TotalEvents = len(all) })

		if !result.HasMore {
			break
		}
		offset += len(result.Events)
	}

	if handle.isCancelled() {
		handle.finish(fmt.Errorf("replay cancelled"))
		return
	}

	handle.setProgress(func(p *Progress) { p.Phase = PhaseClearing })
	if !dryRun {
		if err := clearTenant(ctx, tenantID); err != nil {
			handle.finish(fmt.Errorf("clear tenant projection state: %w", err))
			return
		}
	}

	handle.setProgress(func(p *Progress) { p.Phase = PhaseReplaying })

	sort.Slice(all, func(i, j int) bool {
		if all[i].TenantID != all[j].TenantID {
			return all[i].TenantID.String() < all[j].TenantID.String()
		}
		if all[i].AggregateID != all[j].AggregateID {
			return all[i].AggregateID.String() < all[j].AggregateID.String()
		}
		return all[i].SequenceNumber < all[j].SequenceNumber
	})

	seenAggregates := make(map[ids.AggregateId]bool)
	for _, e := range all {
		if handle.isCancelled() {
			handle.finish(fmt.Errorf("replay cancelled"))
			return
		}
		if err := apply(ctx, e.ToEnvelope()); err != nil {
			handle.finish(fmt.Errorf("apply event %s: %w", e.EventID, err))
			return
		}
		seenAggregates[e.AggregateID] = true
		handle.setProgress(func(p *Progress) {
			p.ProcessedEvents++
			p.ProcessedAggregates = len(seenAggregates)
		})
	}

	handle.finish(nil)
}
