package port

import (
	"context"

	"github.com/rl1809/crop-market/internal/core/domain"
)

type IdempotencyRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request was not carried out
	ReleaseIdempotency(ctx context.Context, key string) error
}

type StatsRepository interface {
	// ApplyStats adds delta to the user's counters, flooring each at zero
	ApplyStats(ctx context.Context, uid string, delta domain.StatsDelta) error

	GetStats(ctx context.Context, uid string) (domain.UserStats, error)
}
