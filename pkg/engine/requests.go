// Package engine is the single-goroutine actor that owns an *account.State
// and a datasource.DataSource, serving every request by message passing
// instead of a shared lock (spec §9's "prefer the actor pattern" design
// note). Dispatch is a synchronous call from the caller's point of view;
// internally it is a channel send/receive pair handled on the engine's own
// goroutine.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/account"
	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// RequestKind discriminates the Request union (spec §4.5's dispatcher
// table).
type RequestKind int8

const (
	ReqOpenOrder RequestKind = iota
	ReqCancelOrder
	ReqCancelAll
	ReqFetchBalances
	ReqFetchPositions
	ReqFetchOrders
	ReqFetchExited
	ReqLetItRoll
	ReqDeposit
	ReqWithdraw
)

// String gives the label value metrics.ObserveRequest attaches to each
// dispatched request.
func (k RequestKind) String() string {
	switch k {
	case ReqOpenOrder:
		return "open_order"
	case ReqCancelOrder:
		return "cancel_order"
	case ReqCancelAll:
		return "cancel_all"
	case ReqFetchBalances:
		return "fetch_balances"
	case ReqFetchPositions:
		return "fetch_positions"
	case ReqFetchOrders:
		return "fetch_orders"
	case ReqFetchExited:
		return "fetch_exited"
	case ReqLetItRoll:
		return "let_it_roll"
	case ReqDeposit:
		return "deposit"
	case ReqWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Request is the single envelope type every client-facing call builds
// before handing it to Dispatch. Only the fields relevant to Kind are read.
type Request struct {
	Kind RequestKind

	// ReqOpenOrder
	OpenOrder account.OpenOrderSpec

	// ReqCancelOrder
	OrderID orderbook.OrderId

	// ReqCancelAll (zero value cancels every instrument)
	Instrument market.Instrument

	// ReqDeposit, ReqWithdraw
	Asset market.Token
	Qty   decimal.Decimal
}

// Response is the result of one Request, mirroring spec §4.5's per-variant
// success payload. At most one of the typed fields is populated, matching
// the Request's Kind (a successful LetItRoll populates none); Err is non-nil
// on failure and every other field is left zero.
type Response struct {
	Order      *orderbook.Order
	CancelledOrders []*orderbook.Order
	Balance    account.Balance
	Balances   []account.Balance
	Positions  []account.Position
	Orders     []orderbook.Order
	Exited     []account.ExitedPosition
	Err        error
}

func openOrderRequest(spec account.OpenOrderSpec) Request {
	return Request{Kind: ReqOpenOrder, OpenOrder: spec}
}

func cancelOrderRequest(id orderbook.OrderId) Request {
	return Request{Kind: ReqCancelOrder, OrderID: id}
}

func cancelAllRequest(inst market.Instrument) Request {
	return Request{Kind: ReqCancelAll, Instrument: inst}
}

func depositRequest(asset market.Token, qty decimal.Decimal) Request {
	return Request{Kind: ReqDeposit, Asset: asset, Qty: qty}
}

func withdrawRequest(asset market.Token, qty decimal.Decimal) Request {
	return Request{Kind: ReqWithdraw, Asset: asset, Qty: qty}
}

// envelope pairs a Request with the reply channel its caller blocks on,
// the plumbing a synchronous Dispatch is built from.
type envelope struct {
	req   Request
	reply chan Response
}
