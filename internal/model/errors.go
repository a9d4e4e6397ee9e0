package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error produced by the engine wraps exactly one of the
// five class sentinels so callers can branch with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

var (
	ErrInvalidSnapshot      = fmt.Errorf("%w: snapshot is missing a required input", ErrValidation)
	ErrInvalidComponent     = fmt.Errorf("%w: fee component field set does not match its calc method", ErrValidation)
	ErrInvalidTransition    = fmt.Errorf("%w: status transition not allowed", ErrPreconditionFailed)
	ErrPlanInactive         = fmt.Errorf("%w: fee plan is inactive", ErrPreconditionFailed)
	ErrNoValidAgreement     = fmt.Errorf("%w: introducer has no valid signed agreement", ErrPreconditionFailed)
	ErrCommissionCapReached = fmt.Errorf("%w: introducer commission cap exhausted", ErrPreconditionFailed)
	ErrOverAllocation       = fmt.Errorf("%w: approved matches would exceed the transaction amount", ErrPreconditionFailed)
	ErrOverpayment          = fmt.Errorf("%w: matched amount exceeds invoice balance due", ErrPreconditionFailed)
	ErrCurrencyMismatch     = fmt.Errorf("%w: currency mismatch", ErrPreconditionFailed)
	ErrAlreadyVerified      = fmt.Errorf("%w: verification already verified", ErrPreconditionFailed)
	ErrMissingFXRate        = fmt.Errorf("%w: no fx rate for currency pair", ErrPreconditionFailed)

	ErrDealNotFound         = fmt.Errorf("deal %w", ErrNotFound)
	ErrInvestorNotFound     = fmt.Errorf("investor %w", ErrNotFound)
	ErrPlanNotFound         = fmt.Errorf("fee plan %w", ErrNotFound)
	ErrComponentNotFound    = fmt.Errorf("fee component %w", ErrNotFound)
	ErrInvoiceNotFound      = fmt.Errorf("invoice %w", ErrNotFound)
	ErrTransactionNotFound  = fmt.Errorf("bank transaction %w", ErrNotFound)
	ErrMatchNotFound        = fmt.Errorf("reconciliation match %w", ErrNotFound)
	ErrSuggestionNotFound   = fmt.Errorf("suggested match %w", ErrNotFound)
	ErrVerificationNotFound = fmt.Errorf("verification %w", ErrNotFound)
	ErrIntroducerNotFound   = fmt.Errorf("introducer %w", ErrNotFound)
	ErrIntroductionNotFound = fmt.Errorf("introduction %w", ErrNotFound)
	ErrCommissionNotFound   = fmt.Errorf("commission %w", ErrNotFound)
)

// ValidationError describes one rejected field or input row.
type ValidationError struct {
	Row    int    `json:"row,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
	case e.Row > 0:
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a field-level ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
