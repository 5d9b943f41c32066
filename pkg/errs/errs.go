// Package errs holds the closed error taxonomy spec.md §7 calls for:
// validation/funds/state errors are returned as the response to the
// offending request (the engine keeps running); stream errors halt the
// engine; internal errors are never returned as a recoverable error at all.
package errs

import "fmt"

// Kind classifies an Error into one of the four recoverable buckets. There
// is deliberately no Internal kind here — invariant violations panic
// instead of flowing through this type (spec.md §7).
type Kind int8

const (
	Validation Kind = iota
	Funds
	State
	Stream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "Validation"
	case Funds:
		return "Funds"
	case State:
		return "State"
	case Stream:
		return "Stream"
	default:
		return "Unknown"
	}
}

// Reason constants name the specific failure within a Kind.
const (
	UnknownInstrument      = "UnknownInstrument"
	PriceDeviationExceeded = "PriceDeviationExceeded"
	NegativeOrZeroQty      = "NegativeOrZeroQty"
	PostOnlyCross          = "PostOnlyCross"
	FoKUnfillable          = "FoKUnfillable"
	MissingBuilderField    = "MissingBuilderField"

	InsufficientFunds  = "InsufficientFunds"
	InsufficientMargin = "InsufficientMargin"

	UnknownOrder           = "UnknownOrder"
	AlreadyTerminal        = "AlreadyTerminal"
	DuplicateClientOrderId = "DuplicateClientOrderId"

	DataSourceExhausted = "DataSourceExhausted"
	DataSourceCorrupt   = "DataSourceCorrupt"
)

// Error is the single wire-shape every recoverable failure in the core
// takes: a Kind plus a short machine-checkable Reason and a human Detail.
type Error struct {
	Kind   Kind
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Reason, e.Detail)
}

// New constructs an Error. detail may be empty.
func New(kind Kind, reason, detail string) *Error {
	return &Error{Kind: kind, Reason: reason, Detail: detail}
}

func Validationf(reason, format string, args ...any) *Error {
	return New(Validation, reason, fmt.Sprintf(format, args...))
}

func Fundsf(reason, format string, args ...any) *Error {
	return New(Funds, reason, fmt.Sprintf(format, args...))
}

func Statef(reason, format string, args ...any) *Error {
	return New(State, reason, fmt.Sprintf(format, args...))
}

func Streamf(reason, format string, args ...any) *Error {
	return New(Stream, reason, fmt.Sprintf(format, args...))
}
