package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/core/service"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/platform/requestdata"
)

const idempotencyKeyHeader = "Idempotency-Key"

// StatsReader serves the projected per-user counters.
type StatsReader interface {
	UserStats(ctx context.Context, uid string) (domain.UserStats, error)
}

type HTTPHandler struct {
	interests *service.InterestService
	listings  *service.ListingService
	stats     StatsReader
	log       *logger.Logger
}

type SubmitInterestRequest struct {
	RequestedQuantity *decimal.Decimal `json:"requestedQuantity"`
	Message           string           `json:"message"`
}

func NewHTTPHandler(interests *service.InterestService, listings *service.ListingService, stats StatsReader, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		interests: interests,
		listings:  listings,
		stats:     stats,
		log:       log.With("handler", "http"),
	}
}

func (h *HTTPHandler) SubmitInterest(c *gin.Context) {
	var req SubmitInterestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apierr.Validation(service.CodeValidation, "invalid request body"))
		return
	}

	in := service.SubmitInterestInput{
		Message:        req.Message,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)),
	}
	if req.RequestedQuantity != nil {
		in.RequestedQuantity = *req.RequestedQuantity
	}

	interest, err := h.interests.Submit(c.Request.Context(), caller(c), c.Param("listingId"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondCreated(c, Envelope{Message: "Interest submitted successfully", Data: interest})
}

func (h *HTTPHandler) AcceptInterest(c *gin.Context) {
	res, err := h.interests.Accept(c.Request.Context(), caller(c), c.Param("listingId"), c.Param("interestId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Message: "Interest accepted successfully", Data: res})
}

func (h *HTTPHandler) RejectInterest(c *gin.Context) {
	in, err := h.interests.Reject(c.Request.Context(), caller(c), c.Param("listingId"), c.Param("interestId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Message: "Interest rejected", Data: in})
}

func (h *HTTPHandler) CancelInterest(c *gin.Context) {
	if err := h.interests.Cancel(c.Request.Context(), caller(c), c.Param("listingId"), c.Param("interestId")); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Message: "Interest cancelled successfully"})
}

func (h *HTTPHandler) ListingInterests(c *gin.Context) {
	status := domain.InterestStatus(c.Query("status"))
	items, stats, err := h.interests.ListingInterests(c.Request.Context(), caller(c), c.Param("listingId"), status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: items, Stats: &stats})
}

func (h *HTTPHandler) MyInterests(c *gin.Context) {
	page, limit := pageParams(c)
	res, err := h.interests.MyInterests(c.Request.Context(), caller(c), domain.InterestStatus(c.Query("status")), page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: nonNil(res.Items), Pagination: &res.Pagination})
}

func (h *HTTPHandler) MyStats(c *gin.Context) {
	st, err := h.stats.UserStats(c.Request.Context(), caller(c).UID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: st})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "healthy", "acceptGuard": h.interests.Guard()})
}

func caller(c *gin.Context) domain.Identity {
	id, _ := requestdata.IdentityFrom(c.Request.Context())
	return id
}

// pageParams reads page and limit; missing or malformed values become 0 and
// are defaulted downstream.
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
