package port

import (
	"context"
	"errors"

	"github.com/rl1809/crop-market/internal/core/domain"
)

var (
	ErrNotFound             = errors.New("listing not found")
	ErrConditionNotMet      = errors.New("conditional write matched nothing")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrDuplicatePending     = errors.New("pending interest already exists")
	ErrVersionConflict      = errors.New("listing version conflict")
)

type ListingRepository interface {
	// CreateListing persists a new listing with an empty interest collection
	CreateListing(ctx context.Context, listing domain.Listing) error

	// GetListing retrieves a listing with its interests, nil when it does not exist
	GetListing(ctx context.Context, id string) (*domain.Listing, error)

	// UpdateListing writes owner-editable fields with version check for optimistic locking
	UpdateListing(ctx context.Context, listing domain.Listing) error

	// DeleteListing removes a listing and all of its interests, ErrNotFound when absent
	DeleteListing(ctx context.Context, id string) error

	ListListings(ctx context.Context, filter domain.ListingFilter) (domain.ListingPage, error)

	// ListCategories counts available listings per category, largest first
	ListCategories(ctx context.Context) ([]domain.CategoryCount, error)

	// AppendInterest adds a pending interest, ErrDuplicatePending when the buyer
	// already holds one on this listing
	AppendInterest(ctx context.Context, listingID string, interest domain.Interest) error

	// ApplyTransition resolves a pending interest in one atomic write guarded by
	// (listing id, interest id, status = pending). ErrConditionNotMet when the
	// guard no longer matches; ErrInsufficientQuantity when a strict accept finds
	// less quantity than requested. Returns the listing as written.
	ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Listing, error)

	// RemovePendingInterest deletes the buyer's interest while it is still pending,
	// ErrConditionNotMet otherwise
	RemovePendingInterest(ctx context.Context, listingID, interestID, buyerUID string) error

	ListBuyerInterests(ctx context.Context, filter domain.BuyerInterestFilter) (domain.BuyerInterestPage, error)
}
