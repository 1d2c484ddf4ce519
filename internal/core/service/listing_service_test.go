package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/adapter/storage"
	"github.com/rl1809/crop-market/internal/core/domain"
)

func validCreateInput() CreateListingInput {
	return CreateListingInput{
		Name:         "  Basmati rice  ",
		Description:  "Aged long grain basmati rice",
		Category:     "grains",
		Quantity:     qty(50),
		PricePerUnit: decimal.RequireFromString("1.25"),
		Location:     "Karnal",
	}
}

func TestListingCreate(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	pub := &recordingPublisher{}
	svc := NewListingService(repo, pub)

	l, err := svc.Create(context.Background(), owner, validCreateInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if l.Name != "Basmati rice" || l.Unit != "kg" || l.Status != domain.ListingStatusAvailable {
		t.Errorf("unexpected listing: %+v", l)
	}
	if l.Owner != owner || l.SchemaVersion != domain.CurrentSchemaVersion || !domain.ValidListingID(l.ID) {
		t.Errorf("unexpected listing metadata: %+v", l)
	}

	stored, _ := repo.GetListing(context.Background(), l.ID)
	if stored == nil || len(stored.Interests) != 0 {
		t.Errorf("expected stored listing without interests, got %+v", stored)
	}

	events := pub.Events()
	if len(events) != 1 || events[0].Type != domain.StatsListingCreated || events[0].OwnerUID != owner.UID {
		t.Errorf("expected one listing_created event, got %+v", events)
	}
}

func TestListingCreate_Validation(t *testing.T) {
	svc := NewListingService(storage.NewMemoryAdapter(), nil)

	in := validCreateInput()
	in.Name = "ab"
	in.Category = "cars"
	in.Quantity = decimal.Zero

	_, err := svc.Create(context.Background(), owner, in)
	expectCode(t, err, CodeValidation)
	for _, want := range []string{"name must be at least 3", "category must be one of", "quantity must be a positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %q", want, err.Error())
		}
	}
}

func TestListingGet_RedactsForNonOwner(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	interests := NewInterestService(repo, nil)
	l := seedListing(t, repo, 10)
	submit(t, interests, buyerA, l.ID, 1)
	a := submit(t, interests, buyerB, l.ID, 2)
	if _, err := interests.Reject(ctx, owner, l.ID, a.ID); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	view, isOwner, err := svc.Get(ctx, owner.UID, l.ID)
	if err != nil || !isOwner {
		t.Fatalf("expected owner view, got %v / %v", isOwner, err)
	}
	if len(view.Interests) != 2 || view.InterestCount != nil {
		t.Errorf("owner must see interests, got %+v", view)
	}

	view, isOwner, err = svc.Get(ctx, buyerA.UID, l.ID)
	if err != nil || isOwner {
		t.Fatalf("expected public view, got %v / %v", isOwner, err)
	}
	if view.Interests != nil || *view.InterestCount != 2 || *view.PendingInterestCount != 1 {
		t.Errorf("non-owner must see counts only, got %+v", view)
	}

	// anonymous callers get the same public view
	if _, isOwner, _ := svc.Get(ctx, "", l.ID); isOwner {
		t.Error("anonymous caller must not be owner")
	}

	_, _, err = svc.Get(ctx, owner.UID, "nope")
	expectCode(t, err, CodeInvalidID)
	_, _, err = svc.Get(ctx, owner.UID, domain.NewListingID())
	expectCode(t, err, CodeListingNotFound)
}

func TestListingUpdate(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	l := seedListing(t, repo, 10)

	price := decimal.RequireFromString("3.5")
	name := "  Cherry tomatoes "
	updated, err := svc.Update(ctx, owner, l.ID, UpdateListingInput{Name: &name, PricePerUnit: &price})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != "Cherry tomatoes" || !updated.PricePerUnit.Equal(price) || updated.Version != l.Version+1 {
		t.Errorf("unexpected update result: %+v", updated)
	}
	if !updated.Quantity.Equal(qty(10)) {
		t.Errorf("untouched fields must stay, got quantity %s", updated.Quantity)
	}

	_, err = svc.Update(ctx, buyerA, l.ID, UpdateListingInput{Name: &name})
	expectCode(t, err, CodeUnauthorized)

	stale := l.Version
	_, err = svc.Update(ctx, owner, l.ID, UpdateListingInput{Name: &name, Version: &stale})
	expectCode(t, err, CodeVersionConflict)

	bad := "x"
	_, err = svc.Update(ctx, owner, l.ID, UpdateListingInput{Name: &bad})
	expectCode(t, err, CodeValidation)
}

func TestListingAmountsMustFitStorage(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)

	in := validCreateInput()
	in.Quantity = decimal.RequireFromString("0.0004")
	in.PricePerUnit = decimal.New(1, 12)
	_, err := svc.Create(ctx, owner, in)
	expectCode(t, err, CodeValidation)
	for _, want := range []string{"quantity must have at most 3 decimal places", "pricePerUnit must be less than"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %q", want, err.Error())
		}
	}

	in = validCreateInput()
	in.Quantity = decimal.RequireFromString("12.345")
	if _, err := svc.Create(ctx, owner, in); err != nil {
		t.Fatalf("three decimal places must be accepted: %v", err)
	}

	l := seedListing(t, repo, 10)
	tiny := decimal.RequireFromString("0.0001")
	_, err = svc.Update(ctx, owner, l.ID, UpdateListingInput{Quantity: &tiny})
	expectCode(t, err, CodeValidation)
	huge := decimal.New(-1, 13)
	_, err = svc.Update(ctx, owner, l.ID, UpdateListingInput{PricePerUnit: &huge})
	expectCode(t, err, CodeValidation)

	stored, _ := repo.GetListing(ctx, l.ID)
	if !stored.Quantity.Equal(qty(10)) || stored.Version != l.Version {
		t.Errorf("rejected updates must not be stored, got %s v%d", stored.Quantity, stored.Version)
	}
}

func TestListingUpdate_ZeroQuantityIsSoldOut(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	l := seedListing(t, repo, 10)

	zero := decimal.Zero
	available := domain.ListingStatusAvailable
	updated, err := svc.Update(context.Background(), owner, l.ID, UpdateListingInput{Quantity: &zero, Status: &available})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != domain.ListingStatusSoldOut {
		t.Errorf("expected sold_out at zero quantity, got %s", updated.Status)
	}
}

func TestListingDelete(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	pub := &recordingPublisher{}
	svc := NewListingService(repo, pub)
	l := seedListing(t, repo, 10)

	expectCode(t, svc.Delete(ctx, buyerA, l.ID), CodeUnauthorized)

	if err := svc.Delete(ctx, owner, l.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got, _ := repo.GetListing(ctx, l.ID); got != nil {
		t.Error("expected listing gone")
	}
	expectCode(t, svc.Delete(ctx, owner, l.ID), CodeListingNotFound)

	events := pub.Events()
	if len(events) != 1 || events[0].Type != domain.StatsListingDeleted {
		t.Errorf("expected one listing_deleted event, got %+v", events)
	}
}

func TestListingList_StatusFilter(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	seedListing(t, repo, 10)
	seedListing(t, repo, 5)
	sold := seedListing(t, repo, 1)
	zero := decimal.Zero
	if _, err := svc.Update(ctx, owner, sold.ID, UpdateListingInput{Quantity: &zero}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	cases := []struct {
		status string
		want   int
	}{
		{"", 2},
		{"available", 2},
		{"sold_out", 1},
		{StatusAll, 3},
		{"whatever", 3},
	}
	for _, tc := range cases {
		page, err := svc.List(ctx, CatalogQuery{Status: tc.status})
		if err != nil {
			t.Fatalf("list %q: %v", tc.status, err)
		}
		if page.Pagination.TotalCount != tc.want {
			t.Errorf("status %q: expected %d, got %d", tc.status, tc.want, page.Pagination.TotalCount)
		}
	}
}

func TestListingList_SortAndLimit(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	for i := int64(1); i <= 15; i++ {
		seedListing(t, repo, i)
	}

	page, err := svc.List(context.Background(), CatalogQuery{SortBy: "quantity", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != domain.DefaultPageLimit || !page.Items[0].Quantity.Equal(qty(1)) {
		t.Errorf("expected %d items ascending from 1, got %d starting at %s",
			domain.DefaultPageLimit, len(page.Items), page.Items[0].Quantity)
	}
	if page.Items[0].Interests != nil {
		t.Error("catalog items must not carry interests")
	}

	// unknown sort fields fall back to the default
	if _, err := svc.List(context.Background(), CatalogQuery{SortBy: "password"}); err != nil {
		t.Fatalf("list failed: %v", err)
	}
}

func TestListingMyPosts(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)
	interests := NewInterestService(repo, nil)

	l := seedListing(t, repo, 10)
	seedListing(t, repo, 4)
	a := submit(t, interests, buyerA, l.ID, 2)
	submit(t, interests, buyerB, l.ID, 2)
	if _, err := interests.Accept(ctx, owner, l.ID, a.ID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	posts, pg, err := svc.MyPosts(ctx, owner, "", 1, 0)
	if err != nil {
		t.Fatalf("my posts failed: %v", err)
	}
	if len(posts) != 2 || pg.TotalCount != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	for _, p := range posts {
		if p.ID != l.ID {
			continue
		}
		if p.InterestStats != (domain.InterestStats{Total: 2, Pending: 1, Accepted: 1}) {
			t.Errorf("unexpected interest stats: %+v", p.InterestStats)
		}
	}

	posts, _, _ = svc.MyPosts(ctx, buyerA, "", 1, 0)
	if len(posts) != 0 {
		t.Errorf("buyer has no posts, got %d", len(posts))
	}
}

func TestListingCategories(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryAdapter()
	svc := NewListingService(repo, nil)

	for _, c := range []string{"grains", "fruits", "grains"} {
		in := validCreateInput()
		in.Category = c
		if _, err := svc.Create(ctx, owner, in); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	cats, err := svc.Categories(ctx)
	if err != nil {
		t.Fatalf("categories failed: %v", err)
	}
	want := []domain.CategoryCount{{Name: "grains", Count: 2}, {Name: "fruits", Count: 1}}
	if len(cats) != len(want) || cats[0] != want[0] || cats[1] != want[1] {
		t.Errorf("expected %+v, got %+v", want, cats)
	}
}
