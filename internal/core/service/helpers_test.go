package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/adapter/storage"
	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/apierr"
)

var (
	owner  = domain.Identity{UID: "owner-1", Email: "owner@example.com", Name: "Owner"}
	buyerA = domain.Identity{UID: "buyer-a", Email: "a@example.com", Name: "Buyer A"}
	buyerB = domain.Identity{UID: "buyer-b", Email: "b@example.com", Name: "Buyer B"}
)

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func seedListing(t *testing.T, repo *storage.MemoryAdapter, n int64) domain.Listing {
	t.Helper()
	now := time.Now().UTC()
	l := domain.Listing{
		ID:            domain.NewListingID(),
		Owner:         owner,
		Name:          "Fresh tomatoes",
		Description:   "Vine ripened tomatoes",
		Category:      "vegetables",
		Quantity:      decimal.NewFromInt(n),
		Unit:          "kg",
		PricePerUnit:  decimal.NewFromInt(2),
		Location:      "Pune",
		Status:        domain.ListingStatusAvailable,
		SchemaVersion: domain.CurrentSchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateListing(context.Background(), l); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

func submit(t *testing.T, svc *InterestService, buyer domain.Identity, listingID string, n int64) *domain.Interest {
	t.Helper()
	in, err := svc.Submit(context.Background(), buyer, listingID, SubmitInterestInput{RequestedQuantity: qty(n)})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return in
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := apierr.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

// recordingPublisher collects stats events in place of a projector.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (p *recordingPublisher) Publish(ev domain.StatsEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) Events() []domain.StatsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.StatsEvent(nil), p.events...)
}

// barrierRepo holds every GetListing until parties callers have read, so
// concurrent operations all act on the same snapshot.
type barrierRepo struct {
	*storage.MemoryAdapter
	mu      sync.Mutex
	waiting int
	parties int
	release chan struct{}
}

func newBarrierRepo(m *storage.MemoryAdapter, parties int) *barrierRepo {
	return &barrierRepo{MemoryAdapter: m, parties: parties, release: make(chan struct{})}
}

func (r *barrierRepo) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := r.MemoryAdapter.GetListing(ctx, id)

	r.mu.Lock()
	r.waiting++
	if r.waiting == r.parties {
		close(r.release)
	}
	r.mu.Unlock()

	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l, err
}

// mockStatsRepo counts applied deltas and can be told to fail.
type mockStatsRepo struct {
	mu    sync.Mutex
	stats map[string]domain.UserStats
	fail  bool
}

func newMockStatsRepo() *mockStatsRepo {
	return &mockStatsRepo{stats: make(map[string]domain.UserStats)}
}

func (m *mockStatsRepo) ApplyStats(ctx context.Context, uid string, delta domain.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("stats store unavailable")
	}
	m.stats[uid] = m.stats[uid].Apply(delta)
	return nil
}

func (m *mockStatsRepo) GetStats(ctx context.Context, uid string) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[uid], nil
}
