package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/port"
)

func acceptOf(l domain.Listing, in domain.Interest, guard domain.AcceptGuard) domain.Transition {
	return domain.Transition{
		ListingID:         l.ID,
		InterestID:        in.ID,
		To:                domain.InterestStatusAccepted,
		At:                time.Now().UTC(),
		RequestedQuantity: in.RequestedQuantity,
		ObservedQuantity:  l.Quantity,
		Guard:             guard,
	}
}

func TestMemory_GetListing_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 10)
	m.CreateListing(ctx, l)
	m.AppendInterest(ctx, l.ID, newTestInterest("buyer-a", 1))

	got, _ := m.GetListing(ctx, l.ID)
	got.Interests[0].Status = domain.InterestStatusAccepted
	got.Quantity = decimal.Zero

	again, _ := m.GetListing(ctx, l.ID)
	if again.Interests[0].Status != domain.InterestStatusPending || !again.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Error("caller mutation leaked into the store")
	}

	if missing, err := m.GetListing(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("expected nil listing, got %+v, %v", missing, err)
	}
}

func TestMemory_AppendInterest_DuplicatePending(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 10)
	m.CreateListing(ctx, l)

	if err := m.AppendInterest(ctx, l.ID, newTestInterest("buyer-a", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.AppendInterest(ctx, l.ID, newTestInterest("buyer-a", 1)); !errors.Is(err, port.ErrDuplicatePending) {
		t.Errorf("expected ErrDuplicatePending, got %v", err)
	}
	if err := m.AppendInterest(ctx, "missing", newTestInterest("buyer-a", 1)); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ApplyTransition_SameInterestOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 100)
	m.CreateListing(ctx, l)
	in := newTestInterest("buyer-a", 30)
	m.AppendInterest(ctx, l.ID, in)

	var successCount, conflictCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ApplyTransition(ctx, acceptOf(l, in, domain.AcceptGuardStrict))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, port.ErrConditionNotMet):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 || conflictCount.Load() != 19 {
		t.Errorf("expected 1 success / 19 conflicts, got %d / %d", successCount.Load(), conflictCount.Load())
	}
	got, _ := m.GetListing(ctx, l.ID)
	if !got.Quantity.Equal(decimal.NewFromInt(70)) {
		t.Errorf("expected a single decrement to 70, got %s", got.Quantity)
	}
}

func TestMemory_ApplyTransition_GuardModes(t *testing.T) {
	ctx := context.Background()

	// Two different interests read the listing at 100 before either write lands.
	run := func(guard domain.AcceptGuard) (*domain.Listing, error) {
		m := NewMemoryAdapter()
		l := newTestListing("owner", 100)
		m.CreateListing(ctx, l)
		a := newTestInterest("buyer-a", 30)
		b := newTestInterest("buyer-b", 80)
		m.AppendInterest(ctx, l.ID, a)
		m.AppendInterest(ctx, l.ID, b)

		if _, err := m.ApplyTransition(ctx, acceptOf(l, a, guard)); err != nil {
			t.Fatalf("first accept failed: %v", err)
		}
		return m.ApplyTransition(ctx, acceptOf(l, b, guard))
	}

	got, err := run(domain.AcceptGuardReference)
	if err != nil {
		t.Fatalf("reference accept failed: %v", err)
	}
	// lost update: the first decrement is overwritten
	if !got.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected reference mode to write 100-80=20, got %s", got.Quantity)
	}

	if _, err := run(domain.AcceptGuardStrict); !errors.Is(err, port.ErrInsufficientQuantity) {
		t.Errorf("expected strict mode to refuse, got %v", err)
	}
}

func TestMemory_ApplyTransition_Reject(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 10)
	m.CreateListing(ctx, l)
	in := newTestInterest("buyer-a", 5)
	m.AppendInterest(ctx, l.ID, in)

	got, err := m.ApplyTransition(ctx, domain.Transition{
		ListingID:  l.ID,
		InterestID: in.ID,
		To:         domain.InterestStatusRejected,
		At:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("reject must not change quantity, got %s", got.Quantity)
	}
	if got.Interests[0].Status != domain.InterestStatusRejected || got.Interests[0].ProcessedAt == nil {
		t.Errorf("interest not rejected: %+v", got.Interests[0])
	}
}

func TestMemory_RemovePendingInterest(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 10)
	m.CreateListing(ctx, l)
	in := newTestInterest("buyer-a", 5)
	m.AppendInterest(ctx, l.ID, in)

	if err := m.RemovePendingInterest(ctx, l.ID, in.ID, "buyer-b"); !errors.Is(err, port.ErrConditionNotMet) {
		t.Errorf("expected ErrConditionNotMet, got %v", err)
	}
	if err := m.RemovePendingInterest(ctx, l.ID, in.ID, "buyer-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.GetListing(ctx, l.ID)
	if len(got.Interests) != 0 {
		t.Errorf("expected interest removed, got %d", len(got.Interests))
	}
	if err := m.AppendInterest(ctx, l.ID, newTestInterest("buyer-a", 1)); err != nil {
		t.Errorf("expected resubmit to succeed, got %v", err)
	}
}

func TestMemory_UpdateListing_VersionConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	l := newTestListing("owner", 10)
	m.CreateListing(ctx, l)

	l.Name = "Updated"
	if err := m.UpdateListing(ctx, l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateListing(ctx, l); !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemory_ListListings(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	base := time.Now().UTC()
	for i, seed := range []struct {
		name     string
		price    int64
		status   domain.ListingStatus
		location string
	}{
		{"Alphonso mango", 5, domain.ListingStatusAvailable, "Ratnagiri"},
		{"Basmati rice", 2, domain.ListingStatusAvailable, "Karnal"},
		{"Red onion", 1, domain.ListingStatusSoldOut, "Nashik"},
		{"Green chilli", 3, domain.ListingStatusAvailable, "Guntur"},
	} {
		l := newTestListing("owner", 10)
		l.Name = seed.name
		l.PricePerUnit = decimal.NewFromInt(seed.price)
		l.Status = seed.status
		l.Location = seed.location
		l.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		m.CreateListing(ctx, l)
	}

	page, _ := m.ListListings(ctx, domain.ListingFilter{Status: domain.ListingStatusAvailable, SortBy: "createdAt", SortDesc: true})
	if page.Pagination.TotalCount != 3 || page.Items[0].Name != "Green chilli" {
		t.Errorf("unexpected default listing: %+v", page.Pagination)
	}

	page, _ = m.ListListings(ctx, domain.ListingFilter{SortBy: "pricePerUnit", Limit: 2})
	if page.Pagination.TotalCount != 4 || len(page.Items) != 2 || !page.Pagination.HasMore {
		t.Errorf("unexpected pagination: %+v", page.Pagination)
	}
	if page.Items[0].Name != "Red onion" {
		t.Errorf("expected cheapest first, got %s", page.Items[0].Name)
	}

	lo, hi := decimal.NewFromInt(2), decimal.NewFromInt(3)
	page, _ = m.ListListings(ctx, domain.ListingFilter{MinPrice: &lo, MaxPrice: &hi})
	if page.Pagination.TotalCount != 2 {
		t.Errorf("price bounds must be inclusive, got %d", page.Pagination.TotalCount)
	}

	page, _ = m.ListListings(ctx, domain.ListingFilter{Search: "MANGO"})
	if page.Pagination.TotalCount != 1 {
		t.Errorf("expected case-insensitive search, got %d", page.Pagination.TotalCount)
	}

	page, _ = m.ListListings(ctx, domain.ListingFilter{Location: "nash"})
	if page.Pagination.TotalCount != 1 {
		t.Errorf("expected location match, got %d", page.Pagination.TotalCount)
	}

	cats, _ := m.ListCategories(ctx)
	if len(cats) != 1 || cats[0].Count != 3 {
		t.Errorf("unexpected categories: %+v", cats)
	}
}

func TestMemory_ListBuyerInterests(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	for i := 0; i < 3; i++ {
		l := newTestListing("owner", 10)
		m.CreateListing(ctx, l)
		in := newTestInterest("buyer-a", 1)
		in.SubmittedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		m.AppendInterest(ctx, l.ID, in)
		m.AppendInterest(ctx, l.ID, newTestInterest("buyer-b", 1))
	}

	page, err := m.ListBuyerInterests(ctx, domain.BuyerInterestFilter{BuyerUID: "buyer-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Pagination.TotalCount != 3 {
		t.Fatalf("expected 3 interests, got %d", page.Pagination.TotalCount)
	}
	if !page.Items[0].SubmittedAt.After(page.Items[2].SubmittedAt) {
		t.Error("expected newest first")
	}
	if page.Items[0].ListingName == "" || page.Items[0].Owner.UID != "owner" {
		t.Errorf("expected denormalized listing data, got %+v", page.Items[0])
	}

	page, _ = m.ListBuyerInterests(ctx, domain.BuyerInterestFilter{BuyerUID: "buyer-a", Status: domain.InterestStatusAccepted})
	if page.Pagination.TotalCount != 0 {
		t.Errorf("expected status filter to match nothing, got %d", page.Pagination.TotalCount)
	}

	page, err = m.ListBuyerInterests(ctx, domain.BuyerInterestFilter{BuyerUID: "buyer-a", Page: math.MaxInt, Limit: 100})
	if err != nil || len(page.Items) != 0 || page.Pagination.TotalCount != 3 {
		t.Errorf("expected an empty page past the end, got %+v %v", page.Pagination, err)
	}
}

func TestMemory_ListListings_HugePage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.CreateListing(ctx, newTestListing("owner", 10))

	for _, limit := range []int{0, 7, 100} {
		page, err := m.ListListings(ctx, domain.ListingFilter{Page: math.MaxInt, Limit: limit})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Items) != 0 || page.Pagination.TotalCount != 1 || page.Pagination.HasMore {
			t.Errorf("limit %d: unexpected page %+v", limit, page.Pagination)
		}
	}
}

func TestMemoryCache_StatsAndIdempotency(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCacheAdapter()

	c.ApplyStats(ctx, "u", domain.StatsDelta{TotalPosts: 1})
	c.ApplyStats(ctx, "u", domain.StatsDelta{TotalPosts: -2, TotalSold: 1})
	st, _ := c.GetStats(ctx, "u")
	if st.TotalPosts != 0 || st.TotalSold != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}

	ok, _ := c.SetIdempotency(ctx, "k")
	again, _ := c.SetIdempotency(ctx, "k")
	if !ok || again {
		t.Errorf("expected first set to win only, got %v / %v", ok, again)
	}

	c.ReleaseIdempotency(ctx, "k")
	if ok, _ := c.SetIdempotency(ctx, "k"); !ok {
		t.Error("expected a released key to be settable again")
	}
}

func TestMemoryCache_IdempotencyKeysExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCacheAdapter()
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		c.SetIdempotency(ctx, fmt.Sprintf("old-%d", i))
	}

	now = now.Add(idempotencyKeyTTL + time.Second)
	if ok, _ := c.SetIdempotency(ctx, "old-0"); !ok {
		t.Error("expected an expired key to be settable again")
	}
	if n := len(c.idempotency); n != 1 {
		t.Errorf("expected expired keys to be swept, %d left", n)
	}
}
