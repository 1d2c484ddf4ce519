package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageLimit         = 12
	DefaultInterestPageLimit = 10
	MaxPageLimit             = 100
)

// ListingSortFields are the sortable listing attributes, by their API name.
var ListingSortFields = []string{
	"createdAt", "updatedAt", "pricePerUnit", "quantity", "name",
	"category", "location", "status", "harvestDate",
}

func IsListingSortField(field string) bool {
	for _, f := range ListingSortFields {
		if f == field {
			return true
		}
	}
	return false
}

type ListingFilter struct {
	Status           ListingStatus // empty matches every status
	Category         string
	OwnerUID         string
	MinPrice         *decimal.Decimal
	MaxPrice         *decimal.Decimal
	Search           string
	Location         string
	SortBy           string
	SortDesc         bool
	Page             int
	Limit            int
	IncludeInterests bool
}

type BuyerInterestFilter struct {
	BuyerUID string
	Status   InterestStatus
	Page     int
	Limit    int
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasMore     bool `json:"hasMore"`
}

type ListingPage struct {
	Items      []Listing
	Pagination Pagination
}

type BuyerInterestPage struct {
	Items      []BuyerInterest
	Pagination Pagination
}

type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// NormalizePage clamps page and limit to their allowed ranges. Page is capped
// so that Offset never overflows.
func NormalizePage(page, limit int) (int, int) {
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

func Offset(page, limit int) int {
	return (page - 1) * limit
}

func NewPagination(page, limit, total, returned int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasMore:     Offset(page, limit)+returned < total,
	}
}
