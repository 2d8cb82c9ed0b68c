package exception

import "errors"

// ErrorKind is the caller-visible failure category carried on execution results.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindTransientNetwork  ErrorKind = "transient_network"
	ErrorKindAmbiguousOutcome  ErrorKind = "ambiguous_outcome"
	ErrorKindPlatformRejection ErrorKind = "platform_rejection"
	ErrorKindDataIntegrity     ErrorKind = "data_integrity"
	ErrorKindInternal          ErrorKind = "internal"
)

// KindOf maps an error chain to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrBrokerConnection), errors.Is(err, ErrOrderRetryExhausted):
		return ErrorKindTransientNetwork
	case errors.Is(err, ErrBrokerTimeout), errors.Is(err, ErrOrderAmbiguousOutcome):
		return ErrorKindAmbiguousOutcome
	case errors.Is(err, ErrBrokerRejected):
		return ErrorKindPlatformRejection
	case errors.Is(err, ErrDataIntegrity):
		return ErrorKindDataIntegrity
	case errors.Is(err, ErrIllegalAction), errors.Is(err, ErrStopLossWrongSide), errors.Is(err, ErrOrderInvalidRequest),
		errors.Is(err, ErrInsufficientMargin):
		return ErrorKindValidation
	default:
		return ErrorKindInternal
	}
}
