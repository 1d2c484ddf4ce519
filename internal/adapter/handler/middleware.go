package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/platform/requestdata"
	"github.com/rl1809/crop-market/internal/port"
)

const (
	CodeNoToken       = "NO_TOKEN"
	CodeInvalidToken  = "INVALID_TOKEN"
	CodeTokenExpired  = "TOKEN_EXPIRED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeRouteNotFound = "ROUTE_NOT_FOUND"

	requestIDHeader = "X-Request-ID"
)

type AuthMiddleware struct {
	log      *logger.Logger
	verifier port.IdentityVerifier
}

func NewAuthMiddleware(log *logger.Logger, verifier port.IdentityVerifier) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "auth"), verifier: verifier}
}

// RequireAuth rejects requests without a valid bearer token.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			respondError(c, am.log, apierr.Unauthorized(CodeNoToken, "access denied, no token provided"))
			return
		}
		if err := am.attach(c, token); err != nil {
			respondError(c, am.log, err)
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and lets the
// request through anonymously otherwise.
func (am *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if err := am.attach(c, token); err != nil {
				am.log.Debug("ignoring invalid optional token", "error", err)
			}
		}
		c.Next()
	}
}

func (am *AuthMiddleware) attach(c *gin.Context, token string) error {
	id, err := am.verifier.Verify(c.Request.Context(), token)
	switch {
	case errors.Is(err, port.ErrTokenExpired):
		return apierr.Unauthorized(CodeTokenExpired, "token has expired, please log in again")
	case err != nil:
		return apierr.Unauthorized(CodeInvalidToken, "invalid token")
	}

	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		rd = &requestdata.RequestData{}
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
	}
	rd.Identity = id
	return nil
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if len(h) <= 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// RequestContext seeds the request data carried through the handlers.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		rd := &requestdata.RequestData{RequestID: id}
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"uid", callerUID(c),
		}
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil {
			kv = append(kv, "request_id", rd.RequestID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("request", kv...)
		default:
			log.Info("request", kv...)
		}
	}
}

func callerUID(c *gin.Context) string {
	if id, ok := requestdata.IdentityFrom(c.Request.Context()); ok {
		return id.UID
	}
	return ""
}

// RateLimiter hands out one token bucket per caller.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	swept   time.Time
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.swept) > rl.idleTTL {
		for k, e := range rl.entries {
			if now.Sub(e.lastSeen) > rl.idleTTL {
				delete(rl.entries, k)
			}
		}
		rl.swept = now
	}

	if e, ok := rl.entries[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Middleware limits authenticated callers by uid and anonymous ones by IP.
func (rl *RateLimiter) Middleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerUID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		now := rl.now()
		r := rl.get(key).ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			respondError(c, log, apierr.New(apierr.KindRateLimited, http.StatusTooManyRequests, CodeRateLimited,
				errors.New("too many requests, please slow down")))
			return
		}
		c.Next()
	}
}

// Recovery turns a handler panic into an INTERNAL_ERROR envelope.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		respondError(c, log, fmt.Errorf("panic: %v", recovered))
	})
}

func NoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, Envelope{
		Message: "route " + c.Request.URL.Path + " not found",
		Code:    CodeRouteNotFound,
	})
}
