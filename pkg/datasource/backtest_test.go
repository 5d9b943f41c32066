package datasource

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

var ethUSDT = market.New("ETH", "USDT", market.Perpetual)

func trade(ts int64, price string) MarketTrade {
	return MarketTrade{
		Exchange:    "test",
		Instrument:  ethUSDT,
		Side:        orderbook.Buy,
		Price:       decimal.RequireFromString(price),
		Amount:      decimal.RequireFromString("1"),
		TimestampUS: ts,
	}
}

func TestBacktestYieldsInOrder(t *testing.T) {
	b, err := NewBacktest([]MarketTrade{trade(1000, "100"), trade(2000, "101"), trade(3000, "102")})
	require.NoError(t, err)

	var got []int64
	for {
		tr, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, tr.TimestampUS)
	}
	require.Equal(t, []int64{1000, 2000, 3000}, got)
	require.Equal(t, 0, b.Remaining())
}

func TestBacktestRejectsNonMonotonicInput(t *testing.T) {
	_, err := NewBacktest([]MarketTrade{trade(2000, "100"), trade(1000, "101")})
	require.Error(t, err)
}

func TestBacktestExhaustionIsPermanent(t *testing.T) {
	b, err := NewBacktest([]MarketTrade{trade(1000, "100")})
	require.NoError(t, err)

	_, ok := b.Next()
	require.True(t, ok)

	_, ok = b.Next()
	require.False(t, ok)

	_, ok = b.Next()
	require.False(t, ok, "a finite source never produces more records once drained")
}

func TestBacktestCloseIsNoop(t *testing.T) {
	b, err := NewBacktest(nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
