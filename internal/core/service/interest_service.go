package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/validation"
	"github.com/rl1809/crop-market/internal/port"
)

const tracerName = "github.com/rl1809/crop-market/internal/core/service"

type SubmitInterestInput struct {
	RequestedQuantity decimal.Decimal `json:"requestedQuantity"`
	Message           string          `json:"message" validate:"max=1000"`
	IdempotencyKey    string          `json:"-"`
}

type AcceptResult struct {
	Interest domain.Interest       `json:"interest"`
	Listing  domain.ListingSummary `json:"listing"`
}

type InterestService struct {
	listings port.ListingRepository
	stats    StatsPublisher
	opts     options
	tracer   trace.Tracer
}

func NewInterestService(listings port.ListingRepository, stats StatsPublisher, opts ...Option) *InterestService {
	if stats == nil {
		stats = nopPublisher{}
	}
	return &InterestService{
		listings: listings,
		stats:    stats,
		opts:     buildOptions(opts),
		tracer:   otel.Tracer(tracerName),
	}
}

func (s *InterestService) Guard() domain.AcceptGuard { return s.opts.guard }

func (s *InterestService) Submit(ctx context.Context, caller domain.Identity, listingID string, in SubmitInterestInput) (_ *domain.Interest, err error) {
	ctx, span := s.tracer.Start(ctx, "InterestService.Submit", trace.WithAttributes(
		attribute.String("listing.id", listingID),
	))
	defer func() { endSpan(span, err) }()

	if !domain.ValidListingID(listingID) {
		return nil, errInvalidID("invalid listing id")
	}

	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, errListingNotFound()
	}
	if l.Status != domain.ListingStatusAvailable {
		return nil, apierr.Precondition(CodeListingNotAvailable, "this listing is no longer available")
	}
	if l.IsOwnedBy(caller.UID) {
		return nil, apierr.Precondition(CodeSelfInterest, "you cannot submit interest on your own listing")
	}
	if l.PendingInterestOf(caller.UID) != nil {
		return nil, apierr.Conflict(CodeDuplicateInterest, "you already have a pending interest on this listing")
	}

	in.Message = strings.TrimSpace(in.Message)
	var msgs []string
	if !in.RequestedQuantity.IsPositive() {
		msgs = append(msgs, "requestedQuantity must be a positive number")
	}
	if in.RequestedQuantity.GreaterThan(l.Quantity) {
		msgs = append(msgs, fmt.Sprintf("requestedQuantity exceeds available quantity (%s)", l.Quantity))
	}
	msgs = append(msgs, amountMessages("requestedQuantity", in.RequestedQuantity)...)
	msgs = append(msgs, validation.Messages(s.opts.validator.Validate(in))...)
	if len(msgs) > 0 {
		return nil, errValidation(msgs)
	}

	var idemKey string
	if in.IdempotencyKey != "" && s.opts.idempotency != nil {
		idemKey = fmt.Sprintf("interest:%s:%s:%s", caller.UID, listingID, in.IdempotencyKey)
		ok, err := s.opts.idempotency.SetIdempotency(ctx, idemKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, apierr.Conflict(CodeDuplicateRequest, "duplicate request")
		}
	}

	interest := domain.Interest{
		ID:                domain.NewInterestID(),
		Buyer:             caller,
		RequestedQuantity: in.RequestedQuantity,
		Message:           in.Message,
		Status:            domain.InterestStatusPending,
		SubmittedAt:       s.opts.now(),
	}

	err = s.listings.AppendInterest(ctx, listingID, interest)
	if err != nil && idemKey != "" {
		// nothing was stored under this key
		if rerr := s.opts.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), idemKey); rerr != nil {
			s.opts.log.Warn("release idempotency key failed", "key", idemKey, "error", rerr)
		}
	}
	switch {
	case errors.Is(err, port.ErrDuplicatePending):
		return nil, apierr.Conflict(CodeDuplicateInterest, "you already have a pending interest on this listing")
	case errors.Is(err, port.ErrNotFound):
		return nil, errListingNotFound()
	case err != nil:
		return nil, fmt.Errorf("append interest: %w", err)
	}

	s.opts.log.Info("interest submitted", "listing_id", listingID, "interest_id", interest.ID, "buyer", caller.UID)
	return &interest, nil
}

func (s *InterestService) Accept(ctx context.Context, caller domain.Identity, listingID, interestID string) (_ *AcceptResult, err error) {
	ctx, span := s.tracer.Start(ctx, "InterestService.Accept", trace.WithAttributes(
		attribute.String("listing.id", listingID),
		attribute.String("interest.id", interestID),
		attribute.String("accept.guard", string(s.opts.guard)),
	))
	defer func() { endSpan(span, err) }()

	l, in, err := s.resolve(ctx, caller, listingID, interestID, domain.InterestStatusAccepted)
	if err != nil {
		return nil, err
	}

	s.stats.Publish(domain.StatsEvent{
		Type:      domain.StatsInterestAccepted,
		ListingID: l.ID,
		OwnerUID:  l.Owner.UID,
		BuyerUID:  in.Buyer.UID,
		At:        *in.ProcessedAt,
	})

	s.opts.log.Info("interest accepted",
		"listing_id", l.ID, "interest_id", in.ID, "quantity", l.Quantity.String(), "status", l.Status)
	return &AcceptResult{Interest: *in, Listing: l.Summary()}, nil
}

func (s *InterestService) Reject(ctx context.Context, caller domain.Identity, listingID, interestID string) (_ *domain.Interest, err error) {
	ctx, span := s.tracer.Start(ctx, "InterestService.Reject", trace.WithAttributes(
		attribute.String("listing.id", listingID),
		attribute.String("interest.id", interestID),
	))
	defer func() { endSpan(span, err) }()

	_, in, err := s.resolve(ctx, caller, listingID, interestID, domain.InterestStatusRejected)
	if err != nil {
		return nil, err
	}

	s.opts.log.Info("interest rejected", "listing_id", listingID, "interest_id", in.ID)
	return in, nil
}

// resolve runs the owner-side guards and the conditional write shared by
// accept and reject.
func (s *InterestService) resolve(ctx context.Context, caller domain.Identity, listingID, interestID string, to domain.InterestStatus) (*domain.Listing, *domain.Interest, error) {
	if !domain.ValidListingID(listingID) || !domain.ValidInterestID(interestID) {
		return nil, nil, errInvalidID("invalid id format")
	}

	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, nil, errListingNotFound()
	}
	if !l.IsOwnedBy(caller.UID) {
		return nil, nil, errForbidden(fmt.Sprintf("only the listing owner can %s interests", verbOf(to)))
	}

	in := l.FindInterest(interestID)
	if in == nil {
		return nil, nil, errInterestNotFound()
	}
	if in.Status != domain.InterestStatusPending {
		return nil, nil, errAlreadyProcessed(string(in.Status))
	}

	t := domain.Transition{
		ListingID:  listingID,
		InterestID: interestID,
		To:         to,
		At:         s.opts.now(),
	}
	if t.IsAccept() {
		if in.RequestedQuantity.GreaterThan(l.Quantity) {
			return nil, nil, errInsufficientQuantity()
		}
		t.RequestedQuantity = in.RequestedQuantity
		t.ObservedQuantity = l.Quantity
		t.Guard = s.opts.guard
	}

	updated, err := s.listings.ApplyTransition(ctx, t)
	switch {
	case errors.Is(err, port.ErrConditionNotMet):
		return nil, nil, errLostRace("interest could not be processed, it may have already been processed")
	case errors.Is(err, port.ErrInsufficientQuantity):
		return nil, nil, errInsufficientQuantity()
	case err != nil:
		return nil, nil, fmt.Errorf("apply transition: %w", err)
	}

	resolved := updated.FindInterest(interestID)
	if resolved == nil {
		return nil, nil, fmt.Errorf("interest %s missing after transition", interestID)
	}
	return updated, resolved, nil
}

func (s *InterestService) Cancel(ctx context.Context, caller domain.Identity, listingID, interestID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "InterestService.Cancel", trace.WithAttributes(
		attribute.String("listing.id", listingID),
		attribute.String("interest.id", interestID),
	))
	defer func() { endSpan(span, err) }()

	if !domain.ValidListingID(listingID) || !domain.ValidInterestID(interestID) {
		return errInvalidID("invalid id format")
	}

	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return errListingNotFound()
	}
	in := l.FindInterest(interestID)
	if in == nil {
		return errInterestNotFound()
	}
	if in.Buyer.UID != caller.UID {
		return errForbidden("you can only cancel your own interests")
	}
	if in.Status != domain.InterestStatusPending {
		return apierr.Precondition(CodeCannotCancel, fmt.Sprintf("cannot cancel an interest that has been %s", in.Status))
	}

	err = s.listings.RemovePendingInterest(ctx, listingID, interestID, caller.UID)
	switch {
	case errors.Is(err, port.ErrConditionNotMet):
		return errLostRace("interest could not be cancelled, it may have already been processed")
	case err != nil:
		return fmt.Errorf("remove interest: %w", err)
	}

	s.opts.log.Info("interest cancelled", "listing_id", listingID, "interest_id", interestID)
	return nil
}

// ListingInterests returns the interests on a listing, newest first, with
// counts over all of them. Only the owner may read them.
func (s *InterestService) ListingInterests(ctx context.Context, caller domain.Identity, listingID string, status domain.InterestStatus) ([]domain.Interest, domain.InterestStats, error) {
	if !domain.ValidListingID(listingID) {
		return nil, domain.InterestStats{}, errInvalidID("invalid listing id")
	}

	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, domain.InterestStats{}, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, domain.InterestStats{}, errListingNotFound()
	}
	if !l.IsOwnedBy(caller.UID) {
		return nil, domain.InterestStats{}, errForbidden("only the listing owner can view all interests")
	}

	out := make([]domain.Interest, 0, len(l.Interests))
	for _, in := range l.Interests {
		if status.Valid() && in.Status != status {
			continue
		}
		out = append(out, in)
	}
	slices.SortStableFunc(out, func(a, b domain.Interest) int {
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})
	return out, l.InterestStats(), nil
}

// MyInterests pages through the caller's interests across listings. An
// unknown status is ignored.
func (s *InterestService) MyInterests(ctx context.Context, caller domain.Identity, status domain.InterestStatus, page, limit int) (domain.BuyerInterestPage, error) {
	if limit < 1 {
		limit = domain.DefaultInterestPageLimit
	}
	if !status.Valid() {
		status = ""
	}
	res, err := s.listings.ListBuyerInterests(ctx, domain.BuyerInterestFilter{
		BuyerUID: caller.UID,
		Status:   status,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return domain.BuyerInterestPage{}, fmt.Errorf("list interests: %w", err)
	}
	return res, nil
}

func verbOf(to domain.InterestStatus) string {
	if to == domain.InterestStatusAccepted {
		return "accept"
	}
	return "reject"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apierr.CodeOf(err))
	}
	span.End()
}
