package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// Order is a client order tracked by the open-order book. It is created on
// accept and becomes immutable (terminal) on Filled/Cancelled/Rejected/
// Liquidated.
type Order struct {
	ID             OrderId
	ClientOrderID  ClientOrderId
	Instrument     market.Instrument
	Side           Side
	Kind           Kind
	Price          decimal.Decimal // zero for Market orders
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	Status         Status
	ReduceOnly     bool // LongShortMode only: targets the opposite book
	LockedMargin   decimal.Decimal // collateral released on cancel/terminal fill
	CreatedTS      int64
	UpdatedTS      int64
	seq            int64 // book insertion sequence, for FIFO tie-break
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// IsClosed reports whether the order occupies a terminal state.
func (o *Order) IsClosed() bool {
	return o.Status.IsTerminal()
}

// Trade is one maker/taker fill, append-only once recorded.
type Trade struct {
	TradeID    int64
	OrderID    OrderId
	Instrument market.Instrument
	Side       Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Fee        decimal.Decimal
	IsTaker    bool
	Timestamp  int64
}

// Fill describes one match of a client order against the venue's top of
// book, independent of the account-level bookkeeping (fees, margin, PnL) it
// will drive.
type Fill struct {
	TakerID      OrderId
	Instrument   market.Instrument
	Price        decimal.Decimal
	Qty          decimal.Decimal
	TakerRemoved bool // true if this fill brought the order to Filled
}
