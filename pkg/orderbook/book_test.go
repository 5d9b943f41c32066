package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

var ethUSDT = market.New("ETH", "USDT", market.Perpetual)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCrossNowBuyTakesAsk(t *testing.T) {
	fillQty, execPrice, crosses := CrossNow(Buy, Limit, d("16600"), d("0.5"), d("16300"), d("16500"), d("100"))
	require.True(t, crosses)
	require.True(t, execPrice.Equal(d("16500")), "price improvement: fill at the ask, not the limit price")
	require.True(t, fillQty.Equal(d("0.5")))
}

func TestCrossNowPostOnlyWouldCross(t *testing.T) {
	_, _, crosses := CrossNow(Buy, PostOnly, d("16500"), d("1"), d("16300"), d("16500"), d("100"))
	require.True(t, crosses, "a PostOnly order priced at the ask still crosses; rejecting it is the caller's job")
}

func TestCrossNowNoOppositeQuote(t *testing.T) {
	_, _, crosses := CrossNow(Buy, Limit, d("100"), d("1"), d("0"), d("0"), d("100"))
	require.False(t, crosses)
}

func TestCrossNowMarketAlwaysCrosses(t *testing.T) {
	fillQty, execPrice, crosses := CrossNow(Sell, Market, decimal.Zero, d("2"), d("16300"), d("16500"), d("100"))
	require.True(t, crosses)
	require.True(t, execPrice.Equal(d("16300")))
	require.True(t, fillQty.Equal(d("2")))
}

func TestCrossNowCapsAtMaxFillQtyPerTick(t *testing.T) {
	fillQty, _, crosses := CrossNow(Buy, Market, decimal.Zero, d("10"), d("16300"), d("16500"), d("3"))
	require.True(t, crosses)
	require.True(t, fillQty.Equal(d("3")))
}

func restingOrder(id int64, side Side, price, qty string) *Order {
	return &Order{
		ID:         OrderId{Seq: id},
		Instrument: ethUSDT,
		Side:       side,
		Kind:       Limit,
		Price:      d(price),
		Qty:        d(qty),
	}
}

func TestMatchAgainstTopOfBookFIFOWithinLevel(t *testing.T) {
	b := New()
	first := restingOrder(1, Buy, "16500", "1")
	second := restingOrder(2, Buy, "16500", "1")
	b.Rest(first)
	b.Rest(second)

	fills := b.MatchAgainstTopOfBook(ethUSDT, d("16300"), d("16500"), d("1"))
	require.Len(t, fills, 1, "the tick's 1-unit cap should only reach the earlier order this pass")
	require.Equal(t, first.ID, fills[0].TakerID, "earlier-accepted order at the same price fills first")
	require.True(t, first.Remaining().IsZero())
	require.True(t, second.Remaining().Equal(d("1")), "later order untouched until a subsequent tick")
}

func TestMatchAgainstTopOfBookBestPriceFirst(t *testing.T) {
	b := New()
	worse := restingOrder(1, Buy, "16400", "1")
	better := restingOrder(2, Buy, "16500", "1")
	b.Rest(worse)
	b.Rest(better)

	fills := b.MatchAgainstTopOfBook(ethUSDT, d("16300"), d("16450"), d("10"))
	require.Len(t, fills, 1)
	require.Equal(t, better.ID, fills[0].TakerID, "the better bid should be offered to the ask first")
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	b := New()
	o := restingOrder(1, Sell, "16600", "1")
	b.Rest(o)

	removed, ok := b.Cancel(o.ID)
	require.True(t, ok)
	require.Equal(t, o.ID, removed.ID)

	_, ok = b.Cancel(o.ID)
	require.False(t, ok, "cancelling twice should report not found")
}

func TestCancelAllClearsOneInstrument(t *testing.T) {
	b := New()
	b.Rest(restingOrder(1, Buy, "16000", "1"))
	b.Rest(restingOrder(2, Sell, "17000", "1"))

	removed := b.CancelAll(ethUSDT)
	require.Len(t, removed, 2)

	fills := b.MatchAgainstTopOfBook(ethUSDT, d("16000"), d("17000"), d("10"))
	require.Empty(t, fills, "no resting orders should remain after CancelAll")
}
