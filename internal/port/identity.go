package port

import (
	"context"
	"errors"

	"github.com/rl1809/crop-market/internal/core/domain"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// IdentityVerifier resolves a bearer credential issued by the identity provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}
