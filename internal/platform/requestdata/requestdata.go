package requestdata

import (
	"context"

	"github.com/rl1809/crop-market/internal/core/domain"
)

type requestDataKey struct{}

type RequestData struct {
	Identity  domain.Identity
	RequestID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	rd := GetRequestData(ctx)
	if rd == nil || rd.Identity.UID == "" {
		return domain.Identity{}, false
	}
	return rd.Identity, true
}
