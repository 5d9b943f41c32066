package orderbook

import (
	"container/heap"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// priceHeap is a container/heap of decimal prices. max selects whether the
// largest (bid side) or smallest (ask side) price sorts to the top.
type priceHeap struct {
	prices []decimal.Decimal
	max    bool
}

func (h priceHeap) Len() int { return len(h.prices) }
func (h priceHeap) Less(i, j int) bool {
	if h.max {
		return h.prices[i].GreaterThan(h.prices[j])
	}
	return h.prices[i].LessThan(h.prices[j])
}
func (h priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }
func (h *priceHeap) Push(x any)   { h.prices = append(h.prices, x.(decimal.Decimal)) }
func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[:n-1]
	return x
}

func normalize(p decimal.Decimal) string { return p.Truncate(8).String() }

// bookSide is the best-price heap plus FIFO level queues for one side
// (bids or asks) of one instrument's resting-order book.
type bookSide struct {
	h      priceHeap
	levels map[string][]*Order // normalized price -> FIFO queue, earliest first
}

func newBookSide(max bool) *bookSide {
	bs := &bookSide{h: priceHeap{max: max}, levels: make(map[string][]*Order)}
	heap.Init(&bs.h)
	return bs
}

func (bs *bookSide) add(o *Order) {
	key := normalize(o.Price)
	if _, exists := bs.levels[key]; !exists {
		heap.Push(&bs.h, o.Price)
	}
	bs.levels[key] = append(bs.levels[key], o)
}

func (bs *bookSide) removeLevelIfEmpty(price decimal.Decimal) {
	key := normalize(price)
	if len(bs.levels[key]) > 0 {
		return
	}
	delete(bs.levels, key)
	for i, p := range bs.h.prices {
		if normalize(p) == key {
			heap.Remove(&bs.h, i)
			return
		}
	}
}

func (bs *bookSide) remove(id OrderId) *Order {
	for key, queue := range bs.levels {
		for i, o := range queue {
			if o.ID == id {
				bs.levels[key] = append(queue[:i], queue[i+1:]...)
				bs.removeLevelIfEmpty(o.Price)
				return o
			}
		}
	}
	return nil
}

// orderedPrices returns the price levels in match priority order (best
// price first, then by the order each level was first touched — the heap
// already gives price priority; FIFO within a level is the slice order).
func (bs *bookSide) orderedPrices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(bs.h.prices))
	copy(out, bs.h.prices)
	sortedHeapOrder(out, bs.h.max)
	return out
}

// sortedHeapOrder sorts a copy of heap contents into strict best-first
// order; container/heap only guarantees the root, not full ordering.
func sortedHeapOrder(prices []decimal.Decimal, max bool) {
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0; j-- {
			betterOrEqual := prices[j-1].GreaterThanOrEqual(prices[j])
			if max {
				betterOrEqual = prices[j-1].GreaterThanOrEqual(prices[j])
			} else {
				betterOrEqual = prices[j-1].LessThanOrEqual(prices[j])
			}
			if betterOrEqual {
				break
			}
			prices[j-1], prices[j] = prices[j], prices[j-1]
		}
	}
}

// Book holds the per-instrument open-order books: resting client orders
// split Buy/Sell, ordered by price priority then insertion sequence (spec
// §4.3). Matching is always against a passed-in top-of-book (bid/ask) taken
// from the external market feed — this engine has one account, so there is
// no opposite-side client order to match against, only the venue itself.
type Book struct {
	mu    sync.Mutex
	books map[market.Instrument]*instrumentBook
	seq   int64
	index map[OrderId]market.Instrument
}

type instrumentBook struct {
	bids *bookSide
	asks *bookSide
}

// New creates an empty multi-instrument order book.
func New() *Book {
	return &Book{
		books: make(map[market.Instrument]*instrumentBook),
		index: make(map[OrderId]market.Instrument),
	}
}

func (b *Book) bookFor(inst market.Instrument) *instrumentBook {
	ib, ok := b.books[inst]
	if !ok {
		ib = &instrumentBook{bids: newBookSide(true), asks: newBookSide(false)}
		b.books[inst] = ib
	}
	return ib
}

// Rest inserts an order into the resting book on its own side. Call only
// with an order that has remaining quantity and a resting-eligible Kind
// (Limit or PostOnly), or with a partially filled Market order whose Price
// has been pinned to its execution price.
func (b *Book) Rest(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	o.seq = b.seq
	ib := b.bookFor(o.Instrument)
	if o.Side == Buy {
		ib.bids.add(o)
	} else {
		ib.asks.add(o)
	}
	b.index[o.ID] = o.Instrument
}

// Cancel removes a resting order by id, returning it if found.
func (b *Book) Cancel(id OrderId) (*Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.index[id]
	if !ok {
		return nil, false
	}
	ib := b.books[inst]
	if o := ib.bids.remove(id); o != nil {
		delete(b.index, id)
		return o, true
	}
	if o := ib.asks.remove(id); o != nil {
		delete(b.index, id)
		return o, true
	}
	return nil, false
}

// Instruments returns every instrument with at least one book entry ever
// created, letting a caller fan a CancelAll request with a zero-value
// Instrument out per instrument.
func (b *Book) Instruments() []market.Instrument {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]market.Instrument, 0, len(b.books))
	for inst := range b.books {
		out = append(out, inst)
	}
	return out
}

// CancelAll removes every resting order for inst, returning the removed
// orders.
func (b *Book) CancelAll(inst market.Instrument) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	ib, ok := b.books[inst]
	if !ok {
		return nil
	}
	var removed []*Order
	for _, queue := range ib.bids.levels {
		removed = append(removed, queue...)
	}
	for _, queue := range ib.asks.levels {
		removed = append(removed, queue...)
	}
	for _, o := range removed {
		delete(b.index, o.ID)
	}
	ib.bids = newBookSide(true)
	ib.asks = newBookSide(false)
	return removed
}

// MatchAgainstTopOfBook walks resting orders that now cross the given
// bid/ask and fills them, up to maxFillQtyPerTick per order this call
// (spec §4.3: "top qty is assumed unbounded ... but fills are rate-limited
// per tick"). Fully-filled orders are removed from the book; partial fills
// stay resting with reduced remaining quantity.
func (b *Book) MatchAgainstTopOfBook(inst market.Instrument, bid, ask, maxFillQtyPerTick decimal.Decimal) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	ib, ok := b.books[inst]
	if !ok {
		return nil
	}

	var fills []Fill
	if ask.IsPositive() {
		for _, price := range ib.bids.orderedPrices() {
			if price.LessThan(ask) {
				break
			}
			fills = append(fills, fillLevel(ib.bids, price, ask, maxFillQtyPerTick)...)
		}
	}
	if bid.IsPositive() {
		for _, price := range ib.asks.orderedPrices() {
			if price.GreaterThan(bid) {
				break
			}
			fills = append(fills, fillLevel(ib.asks, price, bid, maxFillQtyPerTick)...)
		}
	}
	return fills
}

func fillLevel(side *bookSide, price, execPrice, capQty decimal.Decimal) []Fill {
	key := normalize(price)
	queue := side.levels[key]
	var fills []Fill
	for len(queue) > 0 {
		o := queue[0]
		qty := decimal.Min(o.Remaining(), capQty)
		if qty.LessThanOrEqual(decimal.Zero) {
			break
		}
		o.FilledQty = o.FilledQty.Add(qty)
		removed := o.Remaining().LessThanOrEqual(decimal.Zero)
		fills = append(fills, Fill{TakerID: o.ID, Instrument: o.Instrument, Price: execPrice, Qty: qty, TakerRemoved: removed})
		if removed {
			o.Status = Filled
			queue = queue[1:]
		} else {
			o.Status = PartiallyFilled
			break // partial fill consumed this tick's cap for this order
		}
	}
	side.levels[key] = queue
	side.removeLevelIfEmpty(price)
	return fills
}

// CrossNow evaluates whether an incoming order (not yet resting) crosses
// the current top of book, and how much of it would fill right now given
// an unbounded-depth top level capped at maxFillQtyPerTick (spec §4.3).
// Market orders always cross. Returns zero qty if the book has no opposite
// quote (e.g. ask absent for a buy).
func CrossNow(side Side, kind Kind, price, qty, bid, ask, maxFillQtyPerTick decimal.Decimal) (fillQty, execPrice decimal.Decimal, crosses bool) {
	if side == Buy {
		if !ask.IsPositive() {
			return decimal.Zero, decimal.Zero, false
		}
		if kind != Market && price.LessThan(ask) {
			return decimal.Zero, decimal.Zero, false
		}
		return decimal.Min(qty, maxFillQtyPerTick), ask, true
	}
	if !bid.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	if kind != Market && price.GreaterThan(bid) {
		return decimal.Zero, decimal.Zero, false
	}
	return decimal.Min(qty, maxFillQtyPerTick), bid, true
}
