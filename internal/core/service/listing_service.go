package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/validation"
	"github.com/rl1809/crop-market/internal/port"
)

// StatusAll disables the catalog status filter.
const StatusAll = "all"

type CreateListingInput struct {
	Name         string          `json:"name" validate:"required,min=3,max=200"`
	Description  string          `json:"description" validate:"required,min=10,max=5000"`
	Category     string          `json:"category" validate:"required,oneof=vegetables fruits grains pulses spices dairy poultry fish other"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	Unit         string          `json:"unit" validate:"omitempty,oneof=kg gram ton piece dozen liter"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit" validate:"gt=0"`
	Location     string          `json:"location" validate:"required,min=2,max=200"`
	HarvestDate  *time.Time      `json:"harvestDate"`
	ImageURL     string          `json:"imageUrl" validate:"omitempty,url"`
	IsOrganic    bool            `json:"isOrganic"`
}

// UpdateListingInput carries only the fields being changed. Version, when
// set, must match the stored listing.
type UpdateListingInput struct {
	Name         *string               `json:"name" validate:"omitnil,min=3,max=200"`
	Description  *string               `json:"description" validate:"omitnil,min=10,max=5000"`
	Category     *string               `json:"category" validate:"omitnil,oneof=vegetables fruits grains pulses spices dairy poultry fish other"`
	Quantity     *decimal.Decimal      `json:"quantity" validate:"omitnil,gte=0"`
	Unit         *string               `json:"unit" validate:"omitnil,oneof=kg gram ton piece dozen liter"`
	PricePerUnit *decimal.Decimal      `json:"pricePerUnit" validate:"omitnil,gt=0"`
	Location     *string               `json:"location" validate:"omitnil,min=2,max=200"`
	HarvestDate  *time.Time            `json:"harvestDate"`
	ImageURL     *string               `json:"imageUrl" validate:"omitnil,omitempty,url"`
	IsOrganic    *bool                 `json:"isOrganic"`
	Status       *domain.ListingStatus `json:"status" validate:"omitnil,oneof=available sold_out expired"`
	Version      *int64                `json:"version"`
}

type CatalogQuery struct {
	Status    string
	Category  string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Search    string
	Location  string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

type ListingService struct {
	listings port.ListingRepository
	stats    StatsPublisher
	opts     options
	tracer   trace.Tracer
}

func NewListingService(listings port.ListingRepository, stats StatsPublisher, opts ...Option) *ListingService {
	if stats == nil {
		stats = nopPublisher{}
	}
	return &ListingService{
		listings: listings,
		stats:    stats,
		opts:     buildOptions(opts),
		tracer:   otel.Tracer(tracerName),
	}
}

func (s *ListingService) Create(ctx context.Context, caller domain.Identity, in CreateListingInput) (*domain.Listing, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	msgs := validation.Messages(s.opts.validator.Validate(in))
	msgs = append(msgs, amountMessages("quantity", in.Quantity)...)
	msgs = append(msgs, amountMessages("pricePerUnit", in.PricePerUnit)...)
	if len(msgs) > 0 {
		return nil, errValidation(msgs)
	}

	unit := in.Unit
	if unit == "" {
		unit = "kg"
	}
	now := s.opts.now()
	l := domain.Listing{
		ID:            domain.NewListingID(),
		Owner:         caller,
		Name:          in.Name,
		Description:   in.Description,
		Category:      in.Category,
		Quantity:      in.Quantity,
		Unit:          unit,
		PricePerUnit:  in.PricePerUnit,
		Location:      in.Location,
		HarvestDate:   in.HarvestDate,
		ImageURL:      strings.TrimSpace(in.ImageURL),
		IsOrganic:     in.IsOrganic,
		Status:        domain.ListingStatusAvailable,
		Interests:     []domain.Interest{},
		SchemaVersion: domain.CurrentSchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.listings.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	s.stats.Publish(domain.StatsEvent{Type: domain.StatsListingCreated, ListingID: l.ID, OwnerUID: caller.UID, At: now})
	s.opts.log.Info("listing created", "listing_id", l.ID, "owner", caller.UID)
	return &l, nil
}

// Get reads one listing. Anyone but the owner gets interest counts instead of
// the interests themselves.
func (s *ListingService) Get(ctx context.Context, callerUID, id string) (domain.ListingView, bool, error) {
	if !domain.ValidListingID(id) {
		return domain.ListingView{}, false, errInvalidID("invalid listing id")
	}

	l, err := s.listings.GetListing(ctx, id)
	if err != nil {
		return domain.ListingView{}, false, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return domain.ListingView{}, false, errListingNotFound()
	}

	if l.IsOwnedBy(callerUID) {
		return domain.ListingView{Listing: *l}, true, nil
	}
	return l.Redacted(), false, nil
}

func (s *ListingService) Update(ctx context.Context, caller domain.Identity, id string, in UpdateListingInput) (_ *domain.Listing, err error) {
	ctx, span := s.tracer.Start(ctx, "ListingService.Update", trace.WithAttributes(attribute.String("listing.id", id)))
	defer func() { endSpan(span, err) }()

	if !domain.ValidListingID(id) {
		return nil, errInvalidID("invalid listing id")
	}
	trimPtr(in.Name)
	trimPtr(in.Description)
	trimPtr(in.Location)
	trimPtr(in.ImageURL)
	msgs := validation.Messages(s.opts.validator.Validate(in))
	if in.Quantity != nil {
		msgs = append(msgs, amountMessages("quantity", *in.Quantity)...)
	}
	if in.PricePerUnit != nil {
		msgs = append(msgs, amountMessages("pricePerUnit", *in.PricePerUnit)...)
	}
	if len(msgs) > 0 {
		return nil, errValidation(msgs)
	}

	l, err := s.listings.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, errListingNotFound()
	}
	if !l.IsOwnedBy(caller.UID) {
		return nil, errForbidden("you are not authorized to update this listing")
	}
	if in.Version != nil && *in.Version != l.Version {
		return nil, errVersionConflict()
	}

	applyUpdate(l, in)
	l.UpdatedAt = s.opts.now()

	err = s.listings.UpdateListing(ctx, *l)
	switch {
	case errors.Is(err, port.ErrVersionConflict):
		return nil, errVersionConflict()
	case errors.Is(err, port.ErrNotFound):
		return nil, errListingNotFound()
	case err != nil:
		return nil, fmt.Errorf("update listing: %w", err)
	}

	updated, err := s.listings.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if updated == nil {
		return nil, errListingNotFound()
	}
	s.opts.log.Info("listing updated", "listing_id", id, "version", updated.Version)
	return updated, nil
}

func applyUpdate(l *domain.Listing, in UpdateListingInput) {
	if in.Name != nil {
		l.Name = *in.Name
	}
	if in.Description != nil {
		l.Description = *in.Description
	}
	if in.Category != nil {
		l.Category = *in.Category
	}
	if in.Unit != nil {
		l.Unit = *in.Unit
	}
	if in.PricePerUnit != nil {
		l.PricePerUnit = *in.PricePerUnit
	}
	if in.Location != nil {
		l.Location = *in.Location
	}
	if in.HarvestDate != nil {
		l.HarvestDate = in.HarvestDate
	}
	if in.ImageURL != nil {
		l.ImageURL = *in.ImageURL
	}
	if in.IsOrganic != nil {
		l.IsOrganic = *in.IsOrganic
	}
	if in.Status != nil {
		l.Status = *in.Status
	}
	if in.Quantity != nil {
		l.Quantity = *in.Quantity
		if l.Quantity.IsZero() {
			l.Status = domain.ListingStatusSoldOut
		}
	}
}

func (s *ListingService) Delete(ctx context.Context, caller domain.Identity, id string) error {
	if !domain.ValidListingID(id) {
		return errInvalidID("invalid listing id")
	}

	l, err := s.listings.GetListing(ctx, id)
	if err != nil {
		return fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return errListingNotFound()
	}
	if !l.IsOwnedBy(caller.UID) {
		return errForbidden("you are not authorized to delete this listing")
	}

	err = s.listings.DeleteListing(ctx, id)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return errListingNotFound()
	case err != nil:
		return fmt.Errorf("delete listing: %w", err)
	}

	s.stats.Publish(domain.StatsEvent{Type: domain.StatsListingDeleted, ListingID: id, OwnerUID: caller.UID, At: s.opts.now()})
	s.opts.log.Info("listing deleted", "listing_id", id, "interests", len(l.Interests))
	return nil
}

func (s *ListingService) List(ctx context.Context, q CatalogQuery) (domain.ListingPage, error) {
	f := domain.ListingFilter{
		Status:   domain.ListingStatusAvailable,
		Category: strings.TrimSpace(q.Category),
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Search:   strings.TrimSpace(q.Search),
		Location: strings.TrimSpace(q.Location),
		SortBy:   "createdAt",
		SortDesc: !strings.EqualFold(q.SortOrder, "asc"),
		Page:     q.Page,
		Limit:    q.Limit,
	}
	switch st := domain.ListingStatus(q.Status); {
	case q.Status == "":
	case q.Status == StatusAll:
		f.Status = ""
	case st.Valid():
		f.Status = st
	default:
		// unknown values drop the filter
		f.Status = ""
	}
	if domain.IsListingSortField(q.SortBy) {
		f.SortBy = q.SortBy
	}

	page, err := s.listings.ListListings(ctx, f)
	if err != nil {
		return domain.ListingPage{}, fmt.Errorf("list listings: %w", err)
	}
	return page, nil
}

// MyPosts lists the caller's own listings, newest first, each with its
// interest counts.
func (s *ListingService) MyPosts(ctx context.Context, caller domain.Identity, status string, page, limit int) ([]domain.ListingWithStats, domain.Pagination, error) {
	if limit < 1 {
		limit = domain.DefaultInterestPageLimit
	}
	f := domain.ListingFilter{
		OwnerUID:         caller.UID,
		SortBy:           "createdAt",
		SortDesc:         true,
		Page:             page,
		Limit:            limit,
		IncludeInterests: true,
	}
	if st := domain.ListingStatus(status); st.Valid() {
		f.Status = st
	}

	res, err := s.listings.ListListings(ctx, f)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list listings: %w", err)
	}

	out := make([]domain.ListingWithStats, len(res.Items))
	for i := range res.Items {
		out[i] = domain.ListingWithStats{Listing: res.Items[i], InterestStats: res.Items[i].InterestStats()}
	}
	return out, res.Pagination, nil
}

func (s *ListingService) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	cats, err := s.listings.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

func errVersionConflict() error {
	return apierr.Conflict(CodeVersionConflict, "listing was modified by another request, reload and try again")
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}
