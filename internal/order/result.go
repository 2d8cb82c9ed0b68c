package order

import (
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
)

// Outcome tags how a submission ended.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeTransientFailure
	OutcomeAmbiguous
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeAmbiguous:
		return "ambiguous_outcome"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Request is one logical order submission.
type Request struct {
	AssetPair  string
	Action     enum.Action
	Intent     enum.Intent
	Size       decimal.Decimal
	Leverage   decimal.Decimal
	DecisionID string
}

// Result is returned for every submission. IdempotencyKey is always set so
// an ambiguous state can be verified by hand against the broker.
type Result struct {
	Success        bool
	Outcome        Outcome
	ErrorKind      exception.ErrorKind
	Err            error
	IdempotencyKey string
	Request        Request
	Order          model.Order
	Report         model.OrderStatusReport
	Attempts       int
	// Deduplicated is set when the order already existed before sending.
	Deduplicated bool
	// ResolvedAfterTimeout is set when a timed-out send was found by duplicate detection.
	ResolvedAfterTimeout bool
	// AlreadyReconciled is set when the order's fill was applied by an earlier submission.
	AlreadyReconciled bool
	// TrackErr is set when the order was accepted but could not be handed to the reconciler.
	TrackErr error
}
