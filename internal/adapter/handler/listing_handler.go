package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/core/service"
	"github.com/rl1809/crop-market/internal/platform/apierr"
)

func (h *HTTPHandler) ListListings(c *gin.Context) {
	page, limit := pageParams(c)
	q := service.CatalogQuery{
		Status:    c.Query("status"),
		Category:  c.Query("category"),
		Search:    c.Query("search"),
		Location:  c.Query("location"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
		Page:      page,
		Limit:     limit,
	}
	var err error
	if q.MinPrice, err = decimalParam(c, "minPrice"); err != nil {
		respondError(c, h.log, err)
		return
	}
	if q.MaxPrice, err = decimalParam(c, "maxPrice"); err != nil {
		respondError(c, h.log, err)
		return
	}

	res, err := h.listings.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: nonNil(res.Items), Pagination: &res.Pagination})
}

func (h *HTTPHandler) Categories(c *gin.Context) {
	cats, err := h.listings.Categories(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: nonNil(cats)})
}

func (h *HTTPHandler) MyPosts(c *gin.Context) {
	page, limit := pageParams(c)
	posts, pg, err := h.listings.MyPosts(c.Request.Context(), caller(c), c.Query("status"), page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: nonNil(posts), Pagination: &pg})
}

func (h *HTTPHandler) CreateListing(c *gin.Context) {
	var in service.CreateListingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, h.log, apierr.Validation(service.CodeValidation, "invalid request body"))
		return
	}
	l, err := h.listings.Create(c.Request.Context(), caller(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondCreated(c, Envelope{Message: "Listing created successfully", Data: l})
}

func (h *HTTPHandler) GetListing(c *gin.Context) {
	view, isOwner, err := h.listings.Get(c.Request.Context(), caller(c).UID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Data: view, IsOwner: &isOwner})
}

func (h *HTTPHandler) UpdateListing(c *gin.Context) {
	var in service.UpdateListingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, h.log, apierr.Validation(service.CodeValidation, "invalid request body"))
		return
	}
	l, err := h.listings.Update(c.Request.Context(), caller(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Message: "Listing updated successfully", Data: l})
}

func (h *HTTPHandler) DeleteListing(c *gin.Context) {
	if err := h.listings.Delete(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, Envelope{Message: "Listing deleted successfully"})
}

func decimalParam(c *gin.Context, name string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apierr.Validation(service.CodeValidation, name+" must be a number")
	}
	return &d, nil
}
