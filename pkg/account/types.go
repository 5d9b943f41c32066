// Package account owns balances, positions, the exited-position archive,
// margin accounting, and the open-order book for one exchange session. It
// is the component every request handler and the matcher serializes
// through (spec §5).
package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// AccountID identifies the owner of a Balance/Position set. It reuses
// go-ethereum's 20-byte address type so the same identity scheme can later
// tag a session with the wallet it was opened on, even though this package
// never touches a chain itself.
type AccountID common.Address

// String renders the checksummed hex form, e.g. "0xAbC1...".
func (a AccountID) String() string { return common.Address(a).Hex() }

// ParseAccountID accepts any form common.HexToAddress accepts (with or
// without 0x prefix, short or zero-padded).
func ParseAccountID(hex string) AccountID { return AccountID(common.HexToAddress(hex)) }

// Balance tracks one asset's total/available/locked split. The invariant
// available + locked == total holds after every mutation.
type Balance struct {
	Asset     market.Token
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Direction is the signed side of a Position.
type Direction int8

const (
	Long Direction = iota
	Short
	Net
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "Long"
	case Short:
		return "Short"
	case Net:
		return "Net"
	default:
		return "Unknown"
	}
}

// Position is an open perpetual position in one instrument, opened on first
// fill and merged/closed on an offsetting fill or liquidation.
type Position struct {
	Instrument     market.Instrument
	Direction      Direction
	Qty            decimal.Decimal // Net mode: signed, sign is the direction. Long/Short mode: always >= 0.
	AvgEntryPrice  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	MarginLocked   decimal.Decimal
	Leverage       decimal.Decimal
	OpenTS         int64
}

// ExitReason records why a Position was closed.
type ExitReason int8

const (
	ManualClose ExitReason = iota
	OffsetFill
	Liquidation
)

func (r ExitReason) String() string {
	switch r {
	case ManualClose:
		return "ManualClose"
	case OffsetFill:
		return "OffsetFill"
	case Liquidation:
		return "Liquidation"
	default:
		return "Unknown"
	}
}

// ExitedPosition is an append-only archive entry snapshotting a Position at
// the moment it closed.
type ExitedPosition struct {
	Instrument    market.Instrument
	Direction     Direction
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	ExitPrice     decimal.Decimal
	RealizedPnL   decimal.Decimal
	ExitReason    ExitReason
	OpenTS        int64
	CloseTS       int64
}

// MarginMode selects how collateral is pooled across positions.
type MarginMode int8

const (
	Cross MarginMode = iota
	Isolated
	SingleCurrencyMargin
)

// PositionDirectionMode selects whether an instrument carries one net
// position or two independent long/short books.
type PositionDirectionMode int8

const (
	LongShortMode PositionDirectionMode = iota
	NetMode
)

// PositionMarginMode mirrors MarginMode at the per-position granularity
// used when checking a single position's liquidation ratio.
type PositionMarginMode int8

const (
	PositionCross PositionMarginMode = iota
	PositionIsolated
)

// CommissionLevel indexes into a FeesBook.
type CommissionLevel int8

// FeeTier is the maker/taker fee rate for one CommissionLevel.
type FeeTier struct {
	Maker decimal.Decimal // may be negative (rebate)
	Taker decimal.Decimal
}

// ExecutionMode distinguishes a deterministic backtest run from a live run
// against a real-time data source. The core's matching semantics are
// identical either way; only the DataSource implementation differs.
type ExecutionMode int8

const (
	Backtest ExecutionMode = iota
	Live
)

// Config snapshots every account-level parameter for the lifetime of a
// session. It is immutable once a State is constructed from it.
type Config struct {
	AccountID             AccountID
	MarginMode            MarginMode
	PositionDirectionMode PositionDirectionMode
	PositionMarginMode    PositionMarginMode
	CommissionLevel       CommissionLevel
	FundingRate           decimal.Decimal
	Leverage              decimal.Decimal
	FeesBook              map[CommissionLevel]FeeTier
	FeeAsset              market.Token
	ExecutionMode         ExecutionMode
	MaxPriceDeviation     decimal.Decimal // fraction, e.g. 0.05 for 5%
	LiquidationThreshold  decimal.Decimal // ratio in (0, 1]
	LazyAccountPositions  bool
	MaxFillQtyPerTick     decimal.Decimal // cap on qty crossed per order per tick
	Instruments           map[market.Instrument]struct{} // whitelist; orders outside it are rejected
}

// FeeRate resolves the maker/taker rate for the account's configured
// commission level.
func (c Config) FeeRate(isTaker bool) decimal.Decimal {
	tier, ok := c.FeesBook[c.CommissionLevel]
	if !ok {
		return decimal.Zero
	}
	if isTaker {
		return tier.Taker
	}
	return tier.Maker
}

// bookLevel is the single-level snapshot for one instrument: only the best
// bid/ask/last-trade price survive a tick, overwritten wholesale (spec §3).
type bookLevel struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
	TS   int64
}

// positionKey disambiguates Long/Short books for the same instrument when
// PositionDirectionMode is LongShortMode; Net mode always uses Direction Net.
type positionKey struct {
	Instrument market.Instrument
	Direction  Direction
}

// Order and Trade are re-exported so callers of this package never need to
// import orderbook directly for the vocabulary they already think in.
type (
	Order   = orderbook.Order
	Trade   = orderbook.Trade
	OrderId = orderbook.OrderId
)
