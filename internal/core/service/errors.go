package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/apierr"
)

const (
	CodeInvalidID                = "INVALID_ID"
	CodeValidation               = "VALIDATION_ERROR"
	CodeListingNotFound          = "LISTING_NOT_FOUND"
	CodeInterestNotFound         = "INTEREST_NOT_FOUND"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeListingNotAvailable      = "LISTING_NOT_AVAILABLE"
	CodeSelfInterest             = "SELF_INTEREST_NOT_ALLOWED"
	CodeDuplicateInterest        = "DUPLICATE_INTEREST"
	CodeDuplicateRequest         = "DUPLICATE_REQUEST"
	CodeInterestAlreadyProcessed = "INTEREST_ALREADY_PROCESSED"
	CodeCannotCancel             = "CANNOT_CANCEL"
	CodeInsufficientQuantity     = "INSUFFICIENT_QUANTITY"
	CodeUpdateFailed             = "UPDATE_FAILED"
	CodeVersionConflict          = "VERSION_CONFLICT"
)

func errInvalidID(msg string) error {
	return apierr.Validation(CodeInvalidID, msg)
}

func errValidation(msgs []string) error {
	return apierr.Validation(CodeValidation, strings.Join(msgs, ", "))
}

// amountMessages explains why d cannot be stored as a quantity or price.
func amountMessages(field string, d decimal.Decimal) []string {
	if domain.AmountFits(d) {
		return nil
	}
	var msgs []string
	if !d.Equal(d.Truncate(domain.AmountScale)) {
		msgs = append(msgs, fmt.Sprintf("%s must have at most %d decimal places", field, domain.AmountScale))
	}
	if !d.Abs().LessThan(domain.MaxAmount) {
		msgs = append(msgs, fmt.Sprintf("%s must be less than %s", field, domain.MaxAmount))
	}
	return msgs
}

func errListingNotFound() error {
	return apierr.NotFound(CodeListingNotFound, "listing not found")
}

func errInterestNotFound() error {
	return apierr.NotFound(CodeInterestNotFound, "interest not found")
}

func errForbidden(msg string) error {
	return apierr.Forbidden(CodeUnauthorized, msg)
}

func errAlreadyProcessed(status string) error {
	return apierr.Precondition(CodeInterestAlreadyProcessed, fmt.Sprintf("interest has already been %s", status))
}

func errInsufficientQuantity() error {
	return apierr.Precondition(CodeInsufficientQuantity, "not enough quantity available")
}

// errLostRace is returned when the conditional write matched nothing. It is a
// conflict that surfaces as 400 on the HTTP surface.
func errLostRace(msg string) error {
	return apierr.New(apierr.KindConflict, http.StatusBadRequest, CodeUpdateFailed, errors.New(msg))
}
