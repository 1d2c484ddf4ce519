package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/port"
)

const statsEventTimeout = 5 * time.Second

// StatsPublisher accepts stats events after a write has committed.
type StatsPublisher interface {
	// Publish enqueues ev without blocking and reports whether it was accepted
	Publish(ev domain.StatsEvent) bool
}

// StatsProjector applies stats events to per-user counters on a worker pool.
// Projection is best-effort: a full queue drops the event and a failed write
// is logged.
type StatsProjector struct {
	repo    port.StatsRepository
	log     *logger.Logger
	queue   chan domain.StatsEvent
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewStatsProjector(repo port.StatsRepository, log *logger.Logger, queueSize int) *StatsProjector {
	if log == nil {
		log = logger.NewNop()
	}
	return &StatsProjector{
		repo:    repo,
		log:     log,
		queue:   make(chan domain.StatsEvent, queueSize),
		timeout: statsEventTimeout,
	}
}

// Start launches workers that drain the queue until Close.
func (p *StatsProjector) Start(workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	p.log.Info("stats projector started", "workers", workers, "queue_size", cap(p.queue))
}

func (p *StatsProjector) Publish(ev domain.StatsEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		p.dropped.Add(1)
		p.log.Warn("stats queue full, dropping event", "type", ev.Type, "listing_id", ev.ListingID)
		return false
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (p *StatsProjector) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *StatsProjector) Dropped() int64 { return p.dropped.Load() }

func (p *StatsProjector) Failed() int64 { return p.failed.Load() }

// UserStats reads the projected counters for uid.
func (p *StatsProjector) UserStats(ctx context.Context, uid string) (domain.UserStats, error) {
	return p.repo.GetStats(ctx, uid)
}

func (p *StatsProjector) workerLoop(id int) {
	for ev := range p.queue {
		p.project(id, ev)
	}
}

func (p *StatsProjector) project(id int, ev domain.StatsEvent) {
	for uid, delta := range ev.Deltas() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.repo.ApplyStats(ctx, uid, delta)
		cancel()

		if err != nil {
			p.failed.Add(1)
			p.log.Error("failed to apply stats", "worker", id, "type", ev.Type, "uid", uid, "error", err)
			continue
		}
		p.log.Debug("applied stats", "worker", id, "type", ev.Type, "uid", uid)
	}
}
