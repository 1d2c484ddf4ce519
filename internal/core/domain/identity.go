package domain

import "github.com/shopspring/decimal"

func init() {
	// quantities and prices go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Identity is the caller resolved by the identity provider. Listings and
// interests keep a snapshot of it for their owner and buyer.
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}
