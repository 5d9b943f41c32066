// Package datasource supplies the engine's inbound market-trade stream: a
// lazy, finite, non-restartable sequence the matching loop pulls one
// record at a time from (spec §6). Backtest reads a fixed, pre-sorted
// slice; Live reads a websocket feed. Both satisfy the same interface so
// the engine never needs to know which one is driving it.
package datasource

import (
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// MarketTrade is one print from the external market: the thing the engine
// consumes to advance its clock and re-price the single-level book.
type MarketTrade struct {
	Exchange   string
	Instrument market.Instrument
	Side       orderbook.Side
	Price      decimal.Decimal
	Amount     decimal.Decimal
	TimestampUS int64
}

// DataSource is the only inbound interface the matching loop depends on.
// Next returns (trade, true) while the stream has data, and (zero, false)
// once it is exhausted — permanently; a DataSource never restarts.
type DataSource interface {
	Next() (MarketTrade, bool)
	Close() error
}
