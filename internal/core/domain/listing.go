package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingStatusAvailable ListingStatus = "available"
	ListingStatusSoldOut   ListingStatus = "sold_out"
	ListingStatusExpired   ListingStatus = "expired"
)

// CurrentSchemaVersion is stamped on every listing written by this build.
const CurrentSchemaVersion = 1

var (
	Categories = []string{"vegetables", "fruits", "grains", "pulses", "spices", "dairy", "poultry", "fish", "other"}
	Units      = []string{"kg", "gram", "ton", "piece", "dozen", "liter"}
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusAvailable, ListingStatusSoldOut, ListingStatusExpired:
		return true
	}
	return false
}

type Listing struct {
	ID            string          `json:"id"`
	Owner         Identity        `json:"owner"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	PricePerUnit  decimal.Decimal `json:"pricePerUnit"`
	Location      string          `json:"location"`
	HarvestDate   *time.Time      `json:"harvestDate,omitempty"`
	ImageURL      string          `json:"imageUrl"`
	IsOrganic     bool            `json:"isOrganic"`
	Status        ListingStatus   `json:"status"`
	Interests     []Interest      `json:"interests,omitempty"`
	Version       int64           `json:"version"`
	SchemaVersion int             `json:"schemaVersion"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ListingView is a single-listing read. Non-owners get counts in place of interests.
type ListingView struct {
	Listing
	InterestCount        *int `json:"interestCount,omitempty"`
	PendingInterestCount *int `json:"pendingInterestCount,omitempty"`
}

type ListingWithStats struct {
	Listing
	InterestStats InterestStats `json:"interestStats"`
}

// ListingSummary is the listing part of an accept result.
type ListingSummary struct {
	ID       string          `json:"id"`
	Quantity decimal.Decimal `json:"quantity"`
	Status   ListingStatus   `json:"status"`
}

type InterestStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func NewListingID() string {
	return ulid.Make().String()
}

func ValidListingID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Quantities and prices are stored as DECIMAL(15,3).
const AmountScale = 3

// MaxAmount is the exclusive upper bound of a stored quantity or price.
var MaxAmount = decimal.New(1, 12)

// AmountFits reports whether d is stored without rounding or overflow.
func AmountFits(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale)) && d.Abs().LessThan(MaxAmount)
}

// DeriveStatus is applied after every accept.
func DeriveStatus(quantity decimal.Decimal) ListingStatus {
	if quantity.Sign() <= 0 {
		return ListingStatusSoldOut
	}
	return ListingStatusAvailable
}

func (l *Listing) IsOwnedBy(uid string) bool {
	return uid != "" && l.Owner.UID == uid
}

func (l *Listing) FindInterest(id string) *Interest {
	for i := range l.Interests {
		if l.Interests[i].ID == id {
			return &l.Interests[i]
		}
	}
	return nil
}

func (l *Listing) PendingInterestOf(buyerUID string) *Interest {
	for i := range l.Interests {
		in := &l.Interests[i]
		if in.Buyer.UID == buyerUID && in.Status == InterestStatusPending {
			return in
		}
	}
	return nil
}

func (l *Listing) InterestStats() InterestStats {
	st := InterestStats{Total: len(l.Interests)}
	for _, in := range l.Interests {
		switch in.Status {
		case InterestStatusPending:
			st.Pending++
		case InterestStatusAccepted:
			st.Accepted++
		case InterestStatusRejected:
			st.Rejected++
		}
	}
	return st
}

func (l *Listing) Summary() ListingSummary {
	return ListingSummary{ID: l.ID, Quantity: l.Quantity, Status: l.Status}
}

// Redacted hides the negotiation data of other buyers.
func (l Listing) Redacted() ListingView {
	st := l.InterestStats()
	l.Interests = nil
	return ListingView{Listing: l, InterestCount: &st.Total, PendingInterestCount: &st.Pending}
}

// Clone returns a copy that shares no slices or pointers with l.
func (l Listing) Clone() Listing {
	if l.HarvestDate != nil {
		hd := *l.HarvestDate
		l.HarvestDate = &hd
	}
	if l.Interests != nil {
		interests := make([]Interest, len(l.Interests))
		for i, in := range l.Interests {
			interests[i] = in.Clone()
		}
		l.Interests = interests
	}
	return l
}
