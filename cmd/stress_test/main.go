package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/adapter/storage"
	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/core/service"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/port"
)

func main() {
	var (
		dsn       = flag.String("mysql", "", "MySQL DSN; empty runs against the in-memory store")
		guard     = flag.String("guard", string(domain.AcceptGuardStrict), "accept guard: strict or reference")
		stock     = flag.Int64("quantity", 20, "initial listing quantity")
		buyers    = flag.Int("buyers", 50, "number of buyers, one interest each")
		requested = flag.Int64("requested", 1, "quantity requested per interest")
	)
	flag.Parse()

	g := domain.AcceptGuard(*guard)
	if !g.Valid() {
		log.Fatalf("unknown guard %q", *guard)
	}

	ctx := context.Background()

	var repo port.ListingRepository = storage.NewMemoryAdapter()
	if *dsn != "" {
		db, err := sql.Open("mysql", *dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		defer db.Close()
		if _, err := storage.Migrate(ctx, db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		repo = storage.NewMySQLAdapter(db)
	}

	owner := domain.Identity{UID: "stress-owner", Email: "owner@stress.test", Name: "Stress Owner"}
	listings := service.NewListingService(repo, nil)
	interests := service.NewInterestService(repo, nil, service.WithAcceptGuard(g))

	l, err := listings.Create(ctx, owner, service.CreateListingInput{
		Name:         "Stress test wheat",
		Description:  "Listing created by the stress tool",
		Category:     "grains",
		Quantity:     decimal.NewFromInt(*stock),
		PricePerUnit: decimal.NewFromInt(1),
		Location:     "Nowhere",
	})
	if err != nil {
		log.Fatalf("failed to create listing: %v", err)
	}

	ids := make([]string, 0, *buyers)
	for i := 0; i < *buyers; i++ {
		buyer := domain.Identity{UID: fmt.Sprintf("stress-buyer-%d", i)}
		in, err := interests.Submit(ctx, buyer, l.ID, service.SubmitInterestInput{
			RequestedQuantity: decimal.NewFromInt(*requested),
		})
		if err != nil {
			log.Fatalf("failed to submit interest %d: %v", i, err)
		}
		ids = append(ids, in.ID)
	}

	// Counters
	var successCount, insufficientCount, conflictCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()
	for _, id := range ids {
		wg.Add(1)
		go func(interestID string) {
			defer wg.Done()

			_, err := interests.Accept(ctx, owner, l.ID, interestID)
			switch {
			case err == nil:
				successCount.Add(1)
			case apierr.CodeOf(err) == service.CodeInsufficientQuantity:
				insufficientCount.Add(1)
			case apierr.KindOf(err) == apierr.KindConflict:
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("accept %s: %v", interestID, err)
			}
		}(id)
	}
	wg.Wait()
	elapsed := time.Since(start)

	final, err := repo.GetListing(ctx, l.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to reload listing: %v", err)
	}

	success := int64(successCount.Load())
	promised := decimal.NewFromInt(success * *requested)
	expected := decimal.NewFromInt(*stock).Sub(promised)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Guard:            %s\n", g)
	fmt.Printf("Initial Quantity: %d\n", *stock)
	fmt.Printf("Interests:        %d x %d\n", *buyers, *requested)
	fmt.Printf("Accepted:         %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficientCount.Load())
	fmt.Printf("Conflicts:        %d\n", conflictCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Quantity:   %s (%s)\n", final.Quantity, final.Status)
	fmt.Println("==========================================")

	switch {
	case promised.GreaterThan(decimal.NewFromInt(*stock)):
		fmt.Printf("OVERSELL: accepted %s out of %d\n", promised, *stock)
	case !final.Quantity.Equal(expected):
		fmt.Printf("LOST UPDATE: expected %s left, stored %s\n", expected, final.Quantity)
	default:
		fmt.Println("PASS: accepted quantity matches the stored decrement")
	}
}
