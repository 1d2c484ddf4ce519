package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestStatus string

const (
	InterestStatusPending  InterestStatus = "pending"
	InterestStatusAccepted InterestStatus = "accepted"
	InterestStatusRejected InterestStatus = "rejected"
)

func (s InterestStatus) Valid() bool {
	switch s {
	case InterestStatusPending, InterestStatusAccepted, InterestStatusRejected:
		return true
	}
	return false
}

type Interest struct {
	ID                string          `json:"id"`
	Buyer             Identity        `json:"buyer"`
	RequestedQuantity decimal.Decimal `json:"requestedQuantity"`
	Message           string          `json:"message"`
	Status            InterestStatus  `json:"status"`
	SubmittedAt       time.Time       `json:"submittedAt"`
	ProcessedAt       *time.Time      `json:"processedAt"`
}

// BuyerInterest is an interest denormalized with its listing, as seen by the buyer.
type BuyerInterest struct {
	ID                string          `json:"id"`
	ListingID         string          `json:"listingId"`
	ListingName       string          `json:"listingName"`
	ListingImage      string          `json:"listingImage"`
	Category          string          `json:"category"`
	Location          string          `json:"location"`
	PricePerUnit      decimal.Decimal `json:"pricePerUnit"`
	Unit              string          `json:"unit"`
	ListingStatus     ListingStatus   `json:"listingStatus"`
	Owner             Identity        `json:"owner"`
	RequestedQuantity decimal.Decimal `json:"requestedQuantity"`
	Message           string          `json:"message"`
	Status            InterestStatus  `json:"status"`
	SubmittedAt       time.Time       `json:"submittedAt"`
	ProcessedAt       *time.Time      `json:"processedAt"`
}

func NewInterestID() string {
	return uuid.NewString()
}

func ValidInterestID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (in Interest) Clone() Interest {
	if in.ProcessedAt != nil {
		p := *in.ProcessedAt
		in.ProcessedAt = &p
	}
	return in
}

// AcceptGuard selects how an accept validates quantity at write time.
type AcceptGuard string

const (
	// AcceptGuardStrict re-checks quantity >= requested atomically with the decrement.
	AcceptGuardStrict AcceptGuard = "strict"
	// AcceptGuardReference writes the quantity computed from the value read before the write.
	// Two different pending interests accepted concurrently can oversell.
	AcceptGuardReference AcceptGuard = "reference"
)

func (g AcceptGuard) Valid() bool {
	return g == AcceptGuardStrict || g == AcceptGuardReference
}

// Transition is a conditional write on one interest. It only applies while the
// interest is still pending in the store.
type Transition struct {
	ListingID         string
	InterestID        string
	To                InterestStatus
	At                time.Time
	RequestedQuantity decimal.Decimal
	ObservedQuantity  decimal.Decimal
	Guard             AcceptGuard
}

func (t Transition) IsAccept() bool {
	return t.To == InterestStatusAccepted
}

// ReferenceQuantity is the post-accept quantity computed from the pre-write read.
func (t Transition) ReferenceQuantity() decimal.Decimal {
	return t.ObservedQuantity.Sub(t.RequestedQuantity)
}
