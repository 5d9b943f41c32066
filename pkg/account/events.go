package account

import (
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// EventKind discriminates the AccountEvent union.
type EventKind int8

const (
	EventTrade EventKind = iota
	EventBalanceDelta
	EventPositionClosed
	EventLiquidation
	EventEndOfStream
	EventHalt
)

// Event is published on the engine's outbound account-event channel. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventTrade
	Trade Trade

	// EventBalanceDelta
	Asset market.Token
	Delta decimal.Decimal
	Total decimal.Decimal

	// EventPositionClosed, EventLiquidation
	Exited ExitedPosition

	// EventHalt
	Reason string

	Timestamp int64
}

func tradeEvent(t Trade) Event {
	return Event{Kind: EventTrade, Trade: t, Timestamp: t.Timestamp}
}

func balanceDeltaEvent(asset market.Token, delta, total decimal.Decimal, ts int64) Event {
	return Event{Kind: EventBalanceDelta, Asset: asset, Delta: delta, Total: total, Timestamp: ts}
}

// exitEvent reports a position closing, tagged EventLiquidation only when
// the close was forced by the liquidation engine rather than an ordinary
// offsetting fill.
func exitEvent(exited ExitedPosition) Event {
	kind := EventPositionClosed
	if exited.ExitReason == Liquidation {
		kind = EventLiquidation
	}
	return Event{Kind: kind, Exited: exited, Timestamp: exited.CloseTS}
}

// EndOfStreamEvent is published once the data source is exhausted.
func EndOfStreamEvent(ts int64) Event {
	return Event{Kind: EventEndOfStream, Timestamp: ts}
}

// HaltEvent is published when a stream error pauses the engine.
func HaltEvent(reason string, ts int64) Event {
	return Event{Kind: EventHalt, Reason: reason, Timestamp: ts}
}
