package account

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/errs"
	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// State is the single account this engine serializes every mutation
// through: balances, positions, the open-order book, and the exited-
// position archive. Nothing outside this package ever holds the lock —
// every exported method takes and releases it itself, so callers never
// need to reason about reentrancy.
type State struct {
	mu sync.Mutex

	cfg Config
	log *zap.Logger

	balances  map[market.Token]*Balance
	positions map[positionKey]*Position
	exited    []ExitedPosition

	book        *orderbook.Book
	ids         *orderbook.IDFactory
	marks       map[market.Instrument]*bookLevel
	orders      map[orderbook.OrderId]*Order
	clientIndex map[orderbook.ClientOrderId]orderbook.OrderId

	tradeSeq int64

	archive *Archive
	events  chan<- Event
}

// ID returns the wallet-style identity this session was opened under.
func (s *State) ID() AccountID { return s.cfg.AccountID }

// New constructs an empty account for one session. machineID disambiguates
// OrderId sequences across concurrently running engines (spec §4.1's
// compound order id). events may be nil, in which case events are dropped
// instead of published — useful for tests that only want return values.
func New(cfg Config, machineID uint16, archive *Archive, events chan<- Event, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	return &State{
		cfg:         cfg,
		log:         log,
		balances:    make(map[market.Token]*Balance),
		positions:   make(map[positionKey]*Position),
		book:        orderbook.New(),
		ids:         orderbook.NewIDFactory(machineID),
		marks:       make(map[market.Instrument]*bookLevel),
		orders:      make(map[orderbook.OrderId]*Order),
		clientIndex: make(map[orderbook.ClientOrderId]orderbook.OrderId),
		archive:     archive,
		events:      events,
	}
}

// Publish emits e on the account's outbound event channel. Exported for the
// engine layer, which needs to report stream-level events (EndOfStream,
// Halt) that do not originate from a State mutation.
func (s *State) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(e)
}

func (s *State) publish(e Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("event channel full, dropping event", zap.Int8("kind", int8(e.Kind)))
	}
}

func (s *State) balanceFor(asset market.Token) *Balance {
	b, ok := s.balances[asset]
	if !ok {
		b = &Balance{Asset: asset}
		s.balances[asset] = b
	}
	return b
}

// Deposit credits an asset's Total and Available balance. Creates the
// balance entry on first deposit.
func (s *State) Deposit(asset market.Token, qty decimal.Decimal, ts int64) (Balance, error) {
	if !qty.IsPositive() {
		return Balance{}, errs.Validationf(errs.NegativeOrZeroQty, "deposit qty %s must be positive", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceFor(asset)
	b.Total = b.Total.Add(qty)
	b.Available = b.Available.Add(qty)
	s.publish(balanceDeltaEvent(asset, qty, b.Total, ts))
	return *b, nil
}

// Withdraw debits an asset's Total and Available balance. Fails if the
// withdrawal would draw on locked collateral.
func (s *State) Withdraw(asset market.Token, qty decimal.Decimal, ts int64) (Balance, error) {
	if !qty.IsPositive() {
		return Balance{}, errs.Validationf(errs.NegativeOrZeroQty, "withdraw qty %s must be positive", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceFor(asset)
	if b.Available.LessThan(qty) {
		return Balance{}, errs.Fundsf(errs.InsufficientFunds, "have %s available, need %s", b.Available, qty)
	}
	b.Total = b.Total.Sub(qty)
	b.Available = b.Available.Sub(qty)
	s.publish(balanceDeltaEvent(asset, qty.Neg(), b.Total, ts))
	return *b, nil
}

// lock moves qty from Available to Locked. Assumes the caller already
// holds s.mu.
func (s *State) lock(asset market.Token, qty decimal.Decimal) *errs.Error {
	if qty.IsZero() {
		return nil
	}
	b := s.balanceFor(asset)
	if b.Available.LessThan(qty) {
		return errs.Fundsf(errs.InsufficientMargin, "have %s available, need %s to lock", b.Available, qty)
	}
	b.Available = b.Available.Sub(qty)
	b.Locked = b.Locked.Add(qty)
	return nil
}

// release moves qty from Locked back to Available. Assumes the caller
// already holds s.mu. Clamps to the locked amount rather than going
// negative — a defensive floor, not a path the accounting above should
// ever actually hit.
func (s *State) release(asset market.Token, qty decimal.Decimal) {
	if qty.IsZero() {
		return
	}
	b := s.balanceFor(asset)
	if qty.GreaterThan(b.Locked) {
		qty = b.Locked
	}
	b.Locked = b.Locked.Sub(qty)
	b.Available = b.Available.Add(qty)
}

// OpenOrderSpec is the caller-supplied shape of a new order request.
type OpenOrderSpec struct {
	Instrument    market.Instrument
	Side          orderbook.Side
	Kind          orderbook.Kind
	Price         decimal.Decimal // zero for Market
	Qty           decimal.Decimal
	ClientOrderID orderbook.ClientOrderId
	ReduceOnly    bool // LongShortMode only: targets the opposite book
}

// referencePrice picks the price AcceptOrder uses for deviation checks and
// margin sizing: the order's own limit price if it carries one, otherwise
// the side of the current top of book the order would take liquidity from.
func referencePrice(spec OpenOrderSpec, mark *bookLevel) decimal.Decimal {
	if spec.Kind != orderbook.Market && spec.Price.IsPositive() {
		return spec.Price
	}
	if mark == nil {
		return decimal.Zero
	}
	if spec.Side == orderbook.Buy {
		return mark.Ask
	}
	return mark.Bid
}

// AcceptOrder validates, locks margin for, and attempts to match a new
// order in one atomic step (spec §4.4's accept-time matching pass).
func (s *State) AcceptOrder(spec OpenOrderSpec, ts int64) (*Order, error) {
	if !spec.Qty.IsPositive() {
		return nil, errs.Validationf(errs.NegativeOrZeroQty, "qty %s must be positive", spec.Qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.cfg.Instruments[spec.Instrument]; !known {
		return nil, errs.Validationf(errs.UnknownInstrument, "%s is not whitelisted", spec.Instrument)
	}

	if spec.ClientOrderID != "" {
		if _, dup := s.clientIndex[spec.ClientOrderID]; dup {
			return nil, errs.Statef(errs.DuplicateClientOrderId, "client_order_id %q already used", spec.ClientOrderID)
		}
	}

	mark := s.marks[spec.Instrument]
	if mark != nil && mark.Last.IsPositive() && spec.Kind != orderbook.Market && spec.Price.IsPositive() {
		dev := spec.Price.Sub(mark.Last).Abs().Div(mark.Last)
		if dev.GreaterThan(s.cfg.MaxPriceDeviation) {
			return nil, errs.Validationf(errs.PriceDeviationExceeded, "price %s deviates %s from last %s", spec.Price, dev, mark.Last)
		}
	}

	refPrice := referencePrice(spec, mark)
	requiredMargin := requiredMarginForOrder(spec.Qty, refPrice, s.cfg.Leverage)
	quoteAsset := spec.Instrument.Quote

	if err := s.lock(quoteAsset, requiredMargin); err != nil {
		return nil, err
	}

	order := &Order{
		ID:            s.ids.Next(),
		ClientOrderID: spec.ClientOrderID,
		Instrument:    spec.Instrument,
		Side:          spec.Side,
		Kind:          spec.Kind,
		Price:         spec.Price,
		Qty:           spec.Qty,
		Status:        orderbook.Pending,
		ReduceOnly:    spec.ReduceOnly,
		LockedMargin:  requiredMargin,
		CreatedTS:     ts,
		UpdatedTS:     ts,
	}

	var bid, ask decimal.Decimal
	if mark != nil {
		bid, ask = mark.Bid, mark.Ask
	}

	fillQty, execPrice, crosses := orderbook.CrossNow(spec.Side, spec.Kind, spec.Price, spec.Qty, bid, ask, s.cfg.MaxFillQtyPerTick)

	switch spec.Kind {
	case orderbook.PostOnly:
		if crosses {
			s.release(quoteAsset, requiredMargin)
			return nil, errs.Validationf(errs.PostOnlyCross, "price %s would cross top of book", spec.Price)
		}
		order.Status = orderbook.Open
		s.book.Rest(order)

	case orderbook.FillOrKill:
		if !crosses || fillQty.LessThan(spec.Qty) {
			s.release(quoteAsset, requiredMargin)
			return nil, errs.Validationf(errs.FoKUnfillable, "only %s of %s fillable this tick", fillQty, spec.Qty)
		}
		s.applyFillLocked(order, fillQty, execPrice, true, ts)
		order.Status = orderbook.Filled

	case orderbook.ImmediateOrCancel:
		if !crosses {
			s.release(quoteAsset, requiredMargin)
			order.Status = orderbook.Cancelled
			break
		}
		s.applyFillLocked(order, fillQty, execPrice, true, ts)
		if order.Remaining().IsPositive() {
			s.release(quoteAsset, order.LockedMargin)
			order.LockedMargin = decimal.Zero
			order.Status = orderbook.Cancelled
		} else {
			order.Status = orderbook.Filled
		}

	case orderbook.Market:
		if !crosses {
			s.release(quoteAsset, requiredMargin)
			return nil, errs.Validationf(errs.FoKUnfillable, "no liquidity to match a market order")
		}
		s.applyFillLocked(order, fillQty, execPrice, true, ts)
		if order.Remaining().IsPositive() {
			// Rate-limited by max_fill_qty_per_tick: the remainder rests as
			// a marketable limit at the execution price and keeps crossing
			// on subsequent ticks until filled or cancelled.
			order.Status = orderbook.PartiallyFilled
			order.Price = execPrice
			s.book.Rest(order)
		} else {
			order.Status = orderbook.Filled
		}

	default: // Limit, GTC
		if crosses {
			s.applyFillLocked(order, fillQty, execPrice, true, ts)
		}
		if order.Remaining().IsPositive() {
			order.Status = orderbook.Open
			s.book.Rest(order)
		} else {
			order.Status = orderbook.Filled
		}
	}

	s.orders[order.ID] = order
	if spec.ClientOrderID != "" {
		s.clientIndex[spec.ClientOrderID] = order.ID
	}
	return order, nil
}

// CancelOrder removes a resting order and releases its remaining locked
// margin.
func (s *State) CancelOrder(id orderbook.OrderId, ts int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, errs.Statef(errs.UnknownOrder, "no order %s", id)
	}
	if o.IsClosed() {
		return nil, errs.Statef(errs.AlreadyTerminal, "order %s is already %s", id, o.Status)
	}
	s.book.Cancel(id)
	s.release(o.Instrument.Quote, o.LockedMargin)
	o.LockedMargin = decimal.Zero
	o.Status = orderbook.Cancelled
	o.UpdatedTS = ts
	return o, nil
}

// CancelAll cancels every resting order, optionally filtered to one
// instrument (zero-value Instrument cancels across all instruments).
func (s *State) CancelAll(inst market.Instrument, ts int64) []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []market.Instrument
	if inst == (market.Instrument{}) {
		targets = s.book.Instruments()
	} else {
		targets = []market.Instrument{inst}
	}

	var cancelled []*Order
	for _, t := range targets {
		for _, o := range s.book.CancelAll(t) {
			s.release(o.Instrument.Quote, o.LockedMargin)
			o.LockedMargin = decimal.Zero
			o.Status = orderbook.Cancelled
			o.UpdatedTS = ts
			cancelled = append(cancelled, o)
		}
	}
	return cancelled
}

// FetchBalances returns a snapshot of every known asset balance.
func (s *State) FetchBalances() []Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, *b)
	}
	return out
}

// FetchPositions returns a snapshot of every open position.
func (s *State) FetchPositions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// FetchOrders returns a snapshot of every order accepted this session,
// including terminal ones.
func (s *State) FetchOrders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// FetchExited returns a snapshot of the exited-position archive held in
// memory this session (the durable copy lives in Archive).
func (s *State) FetchExited() []ExitedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExitedPosition, len(s.exited))
	copy(out, s.exited)
	return out
}
