package account

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

var ethUSDT = market.New("ETH", "USDT", market.Perpetual)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseConfig() Config {
	return Config{
		MarginMode:            Cross,
		PositionDirectionMode: LongShortMode,
		PositionMarginMode:    PositionCross,
		CommissionLevel:       1,
		Leverage:              dec("10"),
		FeesBook: map[CommissionLevel]FeeTier{
			1: {Maker: dec("0.0002"), Taker: dec("0.0004")},
		},
		MaxPriceDeviation:    dec("0.05"),
		LiquidationThreshold: dec("0.9"),
		MaxFillQtyPerTick:    dec("1000"),
		Instruments:          map[market.Instrument]struct{}{ethUSDT: {}},
	}
}

func newTestState(t *testing.T, cfg Config) *State {
	t.Helper()
	return New(cfg, 1, nil, nil, nil)
}

// seedTopOfBook primes s.marks without matching anything, mirroring the
// engine's letItRoll pass for a trade that finds no resting client orders.
func seedTopOfBook(s *State, bid, ask, last decimal.Decimal, ts int64) {
	s.ProcessTick(ethUSDT, bid, ask, last, ts)
}

// Scenario 1: market buy on an empty book.
func TestScenarioMarketBuyOnEmptyBook(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)

	_, err := s.Deposit(market.Intern("USDT"), dec("100000"), 1000)
	require.NoError(t, err)

	order, err := s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT,
		Side:       orderbook.Buy,
		Kind:       orderbook.Market,
		Qty:        dec("1"),
	}, 1001)
	require.NoError(t, err)
	require.Equal(t, orderbook.Filled, order.Status)

	positions := s.FetchPositions()
	require.Len(t, positions, 1)
	pos := positions[0]
	require.Equal(t, Long, pos.Direction)
	require.True(t, pos.Qty.Equal(dec("1")))
	require.True(t, pos.AvgEntryPrice.Equal(dec("16500")))

	wantMargin := dec("16500").Div(dec("10"))
	require.True(t, pos.MarginLocked.Equal(wantMargin), "margin locked = %s, want %s", pos.MarginLocked, wantMargin)

	usdt := s.balanceFor(market.Intern("USDT"))
	wantFee := dec("16500").Mul(dec("0.0004"))
	wantTotal := dec("100000").Sub(wantFee)
	require.True(t, usdt.Total.Equal(wantTotal), "total = %s, want %s", usdt.Total, wantTotal)
}

// Scenario 2: a limit order that crosses immediately fills at the top of
// book's price, not its own limit price (price improvement).
func TestScenarioLimitCrossesWithPriceImprovement(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("100000"), 1000)
	require.NoError(t, err)

	order, err := s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT,
		Side:       orderbook.Buy,
		Kind:       orderbook.Limit,
		Price:      dec("16600"),
		Qty:        dec("0.5"),
	}, 1001)
	require.NoError(t, err)
	require.Equal(t, orderbook.Filled, order.Status)

	trades := s.FetchOrders()
	require.Len(t, trades, 1)
	require.True(t, trades[0].FilledQty.Equal(dec("0.5")))

	positions := s.FetchPositions()
	require.Len(t, positions, 1)
	require.True(t, positions[0].AvgEntryPrice.Equal(dec("16500")), "fill price should be the ask, not the limit price")
}

// Scenario 3: a PostOnly order priced to cross is rejected, not filled, and
// moves no balance.
func TestScenarioPostOnlyRejection(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("100000"), 1000)
	require.NoError(t, err)

	before := s.balanceFor(market.Intern("USDT")).Total

	_, err = s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT,
		Side:       orderbook.Buy,
		Kind:       orderbook.PostOnly,
		Price:      dec("16500"),
		Qty:        dec("1"),
	}, 1001)
	require.Error(t, err)

	after := s.balanceFor(market.Intern("USDT")).Total
	require.True(t, before.Equal(after), "a rejected order must not move any balance")
	require.Empty(t, s.FetchPositions())
}

// Scenario 4: an existing Net-mode long fully closes and flips into a new
// short on one oversized fill.
func TestScenarioOffsetAndFlipNetMode(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionDirectionMode = NetMode
	s := newTestState(t, cfg)
	seedTopOfBook(s, dec("16000"), dec("16000"), dec("16000"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("1000000"), 1000)
	require.NoError(t, err)

	// Establish the existing Long qty=1 @ 16000 directly via a fill rather
	// than another OpenOrder, so the scenario's own fill is the only one
	// under test.
	s.mu.Lock()
	s.updatePositionNet(ethUSDT, orderbook.Buy, dec("1"), dec("16000"), 1000)
	s.mu.Unlock()

	seedTopOfBook(s, dec("15000"), dec("15000"), dec("15000"), 2000)
	order, err := s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT,
		Side:       orderbook.Sell,
		Kind:       orderbook.Market,
		Qty:        dec("1.5"),
	}, 2001)
	require.NoError(t, err)
	require.Equal(t, orderbook.Filled, order.Status)

	exited := s.FetchExited()
	require.Len(t, exited, 1)
	require.Equal(t, OffsetFill, exited[0].ExitReason)
	require.True(t, exited[0].RealizedPnL.Equal(dec("-1000")), "realized_pnl = %s, want -1000", exited[0].RealizedPnL)

	positions := s.FetchPositions()
	require.Len(t, positions, 1)
	require.Equal(t, Net, positions[0].Direction)
	require.True(t, positions[0].Qty.Equal(dec("-0.5")), "net mode keeps the sign in Qty: qty=%s, want -0.5", positions[0].Qty)
	require.True(t, positions[0].AvgEntryPrice.Equal(dec("15000")))
}

// Scenario 5: an Isolated position falls under its liquidation threshold
// and is fully closed, archived with exit_reason=Liquidation.
func TestScenarioIsolatedLiquidation(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionMarginMode = PositionIsolated
	cfg.LiquidationThreshold = dec("0.9")
	s := newTestState(t, cfg)

	key := positionKey{Instrument: ethUSDT, Direction: Long}
	s.positions[key] = &Position{
		Instrument:    ethUSDT,
		Direction:     Long,
		Qty:           dec("1"),
		AvgEntryPrice: dec("16500"),
		MarginLocked:  dec("1650"),
		Leverage:      dec("10"),
	}
	s.balances[market.Intern("USDT")] = &Balance{Asset: market.Intern("USDT"), Total: dec("1650"), Locked: dec("1650")}

	var captured []Event
	events := make(chan Event, 8)
	s.events = events

	seedTopOfBook(s, dec("15000"), dec("15000"), dec("15000"), 3000)

	close(events)
	for e := range events {
		captured = append(captured, e)
	}

	positions := s.FetchPositions()
	require.Empty(t, positions, "the under-margin position must be fully closed")

	exited := s.FetchExited()
	require.Len(t, exited, 1)
	require.Equal(t, Liquidation, exited[0].ExitReason)
	require.True(t, exited[0].RealizedPnL.Equal(dec("-1500")), "realized_pnl = %s, want -1500", exited[0].RealizedPnL)

	var sawLiquidation bool
	for _, e := range captured {
		if e.Kind == EventLiquidation {
			sawLiquidation = true
		}
	}
	require.True(t, sawLiquidation, "expected an EventLiquidation on the outbound channel")

	orders := s.FetchOrders()
	require.Len(t, orders, 1, "the liquidation should synthesize a Market order closing the position")
	require.Equal(t, orderbook.Liquidated, orders[0].Status)
	require.Equal(t, orderbook.Market, orders[0].Kind)
	require.Equal(t, orderbook.Sell, orders[0].Side, "closing a Long liquidates via a Sell")
	require.True(t, orders[0].Qty.Equal(dec("1")))
	require.True(t, orders[0].FilledQty.Equal(dec("1")))
}

// Scenario 6: a limit price too far from the last trade is rejected before
// it ever reaches the book.
func TestScenarioPriceDeviationGuard(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("100000"), 1000)
	require.NoError(t, err)

	_, err = s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT,
		Side:       orderbook.Buy,
		Kind:       orderbook.Limit,
		Price:      dec("18000"),
		Qty:        dec("1"),
	}, 1001)
	require.Error(t, err)
}
