package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/port"
)

// MemoryAdapter keeps listings as whole documents behind one mutex, which gives
// every write the per-document atomicity the MySQL adapter gets from row locks.
type MemoryAdapter struct {
	mu       sync.RWMutex
	listings map[string]*domain.Listing
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{listings: make(map[string]*domain.Listing)}
}

func (m *MemoryAdapter) CreateListing(ctx context.Context, listing domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := listing.Clone()
	if l.Interests == nil {
		l.Interests = []domain.Interest{}
	}
	m.listings[l.ID] = &l
	return nil
}

func (m *MemoryAdapter) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, nil
	}
	c := l.Clone()
	return &c, nil
}

func (m *MemoryAdapter) UpdateListing(ctx context.Context, listing domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.listings[listing.ID]
	if !ok {
		return port.ErrNotFound
	}
	if cur.Version != listing.Version {
		return port.ErrVersionConflict
	}

	cur.Name = listing.Name
	cur.Description = listing.Description
	cur.Category = listing.Category
	cur.Quantity = listing.Quantity
	cur.Unit = listing.Unit
	cur.PricePerUnit = listing.PricePerUnit
	cur.Location = listing.Location
	cur.HarvestDate = listing.HarvestDate
	cur.ImageURL = listing.ImageURL
	cur.IsOrganic = listing.IsOrganic
	cur.Status = listing.Status
	cur.UpdatedAt = listing.UpdatedAt
	cur.Version++
	return nil
}

func (m *MemoryAdapter) DeleteListing(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[id]; !ok {
		return port.ErrNotFound
	}
	delete(m.listings, id)
	return nil
}

func (m *MemoryAdapter) AppendInterest(ctx context.Context, listingID string, interest domain.Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingID]
	if !ok {
		return port.ErrNotFound
	}
	if l.PendingInterestOf(interest.Buyer.UID) != nil {
		return port.ErrDuplicatePending
	}
	l.Interests = append(l.Interests, interest.Clone())
	l.UpdatedAt = interest.SubmittedAt
	l.Version++
	return nil
}

func (m *MemoryAdapter) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[t.ListingID]
	if !ok {
		return nil, port.ErrConditionNotMet
	}
	in := l.FindInterest(t.InterestID)
	if in == nil || in.Status != domain.InterestStatusPending {
		return nil, port.ErrConditionNotMet
	}

	if t.IsAccept() {
		var next = t.ReferenceQuantity()
		if t.Guard == domain.AcceptGuardStrict {
			if l.Quantity.LessThan(t.RequestedQuantity) {
				return nil, port.ErrInsufficientQuantity
			}
			next = l.Quantity.Sub(t.RequestedQuantity)
		}
		l.Quantity = next
		l.Status = domain.DeriveStatus(next)
	}

	at := t.At
	in.Status = t.To
	in.ProcessedAt = &at
	l.UpdatedAt = at
	l.Version++

	c := l.Clone()
	return &c, nil
}

func (m *MemoryAdapter) RemovePendingInterest(ctx context.Context, listingID, interestID, buyerUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingID]
	if !ok {
		return port.ErrConditionNotMet
	}
	idx := slices.IndexFunc(l.Interests, func(in domain.Interest) bool {
		return in.ID == interestID && in.Buyer.UID == buyerUID && in.Status == domain.InterestStatusPending
	})
	if idx < 0 {
		return port.ErrConditionNotMet
	}
	l.Interests = slices.Delete(l.Interests, idx, idx+1)
	l.UpdatedAt = time.Now().UTC()
	l.Version++
	return nil
}

func (m *MemoryAdapter) ListListings(ctx context.Context, filter domain.ListingFilter) (domain.ListingPage, error) {
	page, limit := domain.NormalizePage(filter.Page, filter.Limit)

	m.mu.RLock()
	matched := make([]domain.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		if matchListing(l, filter) {
			matched = append(matched, l.Clone())
		}
	}
	m.mu.RUnlock()

	sortListings(matched, filter.SortBy, filter.SortDesc)

	total := len(matched)
	start := min(domain.Offset(page, limit), total)
	end := min(start+limit, total)
	items := matched[start:end]
	if !filter.IncludeInterests {
		for i := range items {
			items[i].Interests = nil
		}
	}

	return domain.ListingPage{
		Items:      items,
		Pagination: domain.NewPagination(page, limit, total, len(items)),
	}, nil
}

func (m *MemoryAdapter) ListCategories(ctx context.Context) ([]domain.CategoryCount, error) {
	m.mu.RLock()
	counts := make(map[string]int)
	for _, l := range m.listings {
		if l.Status == domain.ListingStatusAvailable {
			counts[l.Category]++
		}
	}
	m.mu.RUnlock()

	out := make([]domain.CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, domain.CategoryCount{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b domain.CategoryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (m *MemoryAdapter) ListBuyerInterests(ctx context.Context, filter domain.BuyerInterestFilter) (domain.BuyerInterestPage, error) {
	page, limit := domain.NormalizePage(filter.Page, filter.Limit)

	m.mu.RLock()
	var matched []domain.BuyerInterest
	for _, l := range m.listings {
		for _, in := range l.Interests {
			if in.Buyer.UID != filter.BuyerUID {
				continue
			}
			if filter.Status != "" && in.Status != filter.Status {
				continue
			}
			matched = append(matched, toBuyerInterest(l, in.Clone()))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.BuyerInterest) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	total := len(matched)
	start := min(domain.Offset(page, limit), total)
	end := min(start+limit, total)
	items := matched[start:end]

	return domain.BuyerInterestPage{
		Items:      items,
		Pagination: domain.NewPagination(page, limit, total, len(items)),
	}, nil
}

func toBuyerInterest(l *domain.Listing, in domain.Interest) domain.BuyerInterest {
	return domain.BuyerInterest{
		ID:                in.ID,
		ListingID:         l.ID,
		ListingName:       l.Name,
		ListingImage:      l.ImageURL,
		Category:          l.Category,
		Location:          l.Location,
		PricePerUnit:      l.PricePerUnit,
		Unit:              l.Unit,
		ListingStatus:     l.Status,
		Owner:             l.Owner,
		RequestedQuantity: in.RequestedQuantity,
		Message:           in.Message,
		Status:            in.Status,
		SubmittedAt:       in.SubmittedAt,
		ProcessedAt:       in.ProcessedAt,
	}
}

func matchListing(l *domain.Listing, f domain.ListingFilter) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if f.OwnerUID != "" && l.Owner.UID != f.OwnerUID {
		return false
	}
	if f.MinPrice != nil && l.PricePerUnit.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && l.PricePerUnit.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Location != "" && !containsFold(l.Location, f.Location) {
		return false
	}
	if f.Search != "" && !containsFold(l.Name, f.Search) && !containsFold(l.Description, f.Search) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortListings(items []domain.Listing, field string, desc bool) {
	compare := listingComparator(field)
	slices.SortStableFunc(items, func(a, b domain.Listing) int {
		c := compare(&a, &b)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func listingComparator(field string) func(a, b *domain.Listing) int {
	switch field {
	case "updatedAt":
		return func(a, b *domain.Listing) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case "pricePerUnit":
		return func(a, b *domain.Listing) int { return a.PricePerUnit.Cmp(b.PricePerUnit) }
	case "quantity":
		return func(a, b *domain.Listing) int { return a.Quantity.Cmp(b.Quantity) }
	case "name":
		return func(a, b *domain.Listing) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }
	case "category":
		return func(a, b *domain.Listing) int { return strings.Compare(a.Category, b.Category) }
	case "location":
		return func(a, b *domain.Listing) int { return strings.Compare(strings.ToLower(a.Location), strings.ToLower(b.Location)) }
	case "status":
		return func(a, b *domain.Listing) int { return strings.Compare(string(a.Status), string(b.Status)) }
	case "harvestDate":
		return func(a, b *domain.Listing) int {
			switch {
			case a.HarvestDate == nil && b.HarvestDate == nil:
				return 0
			case a.HarvestDate == nil:
				return -1
			case b.HarvestDate == nil:
				return 1
			}
			return a.HarvestDate.Compare(*b.HarvestDate)
		}
	default:
		return func(a, b *domain.Listing) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}

// MemoryCacheAdapter serves stats counters and idempotency keys when Redis is
// not configured.
type MemoryCacheAdapter struct {
	mu          sync.Mutex
	stats       map[string]domain.UserStats
	idempotency map[string]time.Time
	ttl         time.Duration
	swept       time.Time
	now         func() time.Time
}

func NewMemoryCacheAdapter() *MemoryCacheAdapter {
	return &MemoryCacheAdapter{
		stats:       make(map[string]domain.UserStats),
		idempotency: make(map[string]time.Time),
		ttl:         idempotencyKeyTTL,
		now:         time.Now,
	}
}

func (m *MemoryCacheAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.swept) > m.ttl {
		for k, exp := range m.idempotency {
			if !now.Before(exp) {
				delete(m.idempotency, k)
			}
		}
		m.swept = now
	}

	if exp, ok := m.idempotency[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.idempotency[key] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryCacheAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

func (m *MemoryCacheAdapter) ApplyStats(ctx context.Context, uid string, delta domain.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[uid] = m.stats[uid].Apply(delta)
	return nil
}

func (m *MemoryCacheAdapter) GetStats(ctx context.Context, uid string) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[uid], nil
}
