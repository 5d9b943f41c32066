package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// Locked accounting: available + locked == total after every operation.
func TestInvariantLockedAccounting(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)

	asset := market.Intern("USDT")
	_, err := s.Deposit(asset, dec("100000"), 1000)
	require.NoError(t, err)
	assertLockedBalances(t, s)

	_, err = s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT, Side: orderbook.Buy, Kind: orderbook.Limit,
		Price: dec("16000"), Qty: dec("1"),
	}, 1001)
	require.NoError(t, err)
	assertLockedBalances(t, s)

	_, err = s.Withdraw(asset, dec("10"), 1002)
	require.NoError(t, err)
	assertLockedBalances(t, s)
}

func assertLockedBalances(t *testing.T, s *State) {
	t.Helper()
	for _, b := range s.FetchBalances() {
		require.True(t, b.Available.Add(b.Locked).Equal(b.Total),
			"%s: available(%s) + locked(%s) != total(%s)", b.Asset, b.Available, b.Locked, b.Total)
	}
}

// Round trip: OpenOrder then CancelOrder releases exactly the locked amount.
func TestInvariantRoundTripOpenCancel(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	asset := market.Intern("USDT")
	_, err := s.Deposit(asset, dec("100000"), 1000)
	require.NoError(t, err)

	before := s.balanceFor(asset).Available

	order, err := s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT, Side: orderbook.Buy, Kind: orderbook.Limit,
		Price: dec("16000"), Qty: dec("1"),
	}, 1001)
	require.NoError(t, err)
	require.Equal(t, orderbook.Open, order.Status, "a non-crossing limit order rests")

	afterOpen := s.balanceFor(asset).Available
	require.True(t, before.Sub(afterOpen).Equal(order.LockedMargin))

	_, err = s.CancelOrder(order.ID, 1002)
	require.NoError(t, err)

	afterCancel := s.balanceFor(asset).Available
	require.True(t, afterCancel.Equal(before), "cancel must release exactly what open locked")
}

// Order state monotonicity: a terminal order can never transition again.
func TestInvariantOrderNeverLeavesTerminalState(t *testing.T) {
	s := newTestState(t, baseConfig())
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("100000"), 1000)
	require.NoError(t, err)

	order, err := s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT, Side: orderbook.Buy, Kind: orderbook.Market, Qty: dec("1"),
	}, 1001)
	require.NoError(t, err)
	require.True(t, order.IsClosed())

	_, err = s.CancelOrder(order.ID, 1002)
	require.Error(t, err, "cancelling an already-terminal order must fail, not silently re-transition it")
}

// Net-mode uniqueness: at most one Position per Instrument while in Net mode,
// even across several same- and opposite-direction fills.
func TestInvariantNetModeUniqueness(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionDirectionMode = NetMode
	s := newTestState(t, cfg)
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	_, err := s.Deposit(market.Intern("USDT"), dec("1000000"), 1000)
	require.NoError(t, err)

	sides := []orderbook.Side{orderbook.Buy, orderbook.Buy, orderbook.Sell, orderbook.Sell, orderbook.Sell}
	for i, side := range sides {
		_, err := s.AcceptOrder(OpenOrderSpec{
			Instrument: ethUSDT, Side: side, Kind: orderbook.Market, Qty: dec("1"),
		}, int64(2000+i))
		require.NoError(t, err)
		positions := s.FetchPositions()
		require.LessOrEqual(t, len(positions), 1, "net mode must never hold more than one position per instrument")
	}
}

// Balance conservation: with zero fees and no funding, depositing then
// trading against the venue only moves money between the account's own
// balance and realized PnL/fees — never destroys or creates it outright
// for a fee-free configuration.
func TestInvariantBalanceConservationNoFees(t *testing.T) {
	cfg := baseConfig()
	cfg.FeesBook = map[CommissionLevel]FeeTier{1: {Maker: dec("0"), Taker: dec("0")}}
	s := newTestState(t, cfg)
	seedTopOfBook(s, dec("16300"), dec("16500"), dec("16500"), 1000)
	asset := market.Intern("USDT")
	_, err := s.Deposit(asset, dec("100000"), 1000)
	require.NoError(t, err)

	_, err = s.AcceptOrder(OpenOrderSpec{
		Instrument: ethUSDT, Side: orderbook.Buy, Kind: orderbook.Market, Qty: dec("1"),
	}, 1001)
	require.NoError(t, err)

	// No realized PnL yet (position still open) and no fee: total balance
	// must equal the deposit exactly.
	require.True(t, s.balanceFor(asset).Total.Equal(dec("100000")))
}
