package datasource

import (
	"github.com/hourglass-exchange/hourglass/pkg/errs"
)

// Backtest is a finite, cursor-backed DataSource pulled from a
// pre-materialized, time-ordered slice of trades (spec §6: "pulled from a
// columnar store query" — the query itself is an external collaborator;
// this type only owns the cursor over its result).
type Backtest struct {
	trades []MarketTrade
	cursor int
	lastTS int64
}

// NewBacktest wraps an already time-sorted slice of trades. The caller is
// responsible for sorting; NewBacktest only validates monotonicity so a
// corrupt input fails fast instead of silently breaking exchange_timestamp
// monotonicity downstream.
func NewBacktest(trades []MarketTrade) (*Backtest, error) {
	for i := 1; i < len(trades); i++ {
		if trades[i].TimestampUS < trades[i-1].TimestampUS {
			return nil, errs.Streamf(errs.DataSourceCorrupt,
				"trade %d timestamp %d precedes %d", i, trades[i].TimestampUS, trades[i-1].TimestampUS)
		}
	}
	return &Backtest{trades: trades}, nil
}

// Next returns the next trade in timestamp order, or (zero, false) once
// the cursor has consumed every record.
func (b *Backtest) Next() (MarketTrade, bool) {
	if b.cursor >= len(b.trades) {
		return MarketTrade{}, false
	}
	t := b.trades[b.cursor]
	b.cursor++
	b.lastTS = t.TimestampUS
	return t, true
}

// Close is a no-op for an in-memory cursor; present to satisfy DataSource.
func (b *Backtest) Close() error { return nil }

// Remaining reports how many trades are left unconsumed, useful for
// harness progress reporting.
func (b *Backtest) Remaining() int {
	return len(b.trades) - b.cursor
}
