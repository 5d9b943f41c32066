package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/account"
	"github.com/hourglass-exchange/hourglass/pkg/clock"
	"github.com/hourglass-exchange/hourglass/pkg/datasource"
	"github.com/hourglass-exchange/hourglass/pkg/errs"
	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/metrics"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// MarketEvent is published once per tick on the outbound market channel
// (spec §4.4 step 5): the synthetic top of book the tick just produced.
type MarketEvent struct {
	Instrument market.Instrument
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	Timestamp  int64
}

// topOfBook is the synthetic bid/ask this engine derives from a feed that
// only prints individual trades: a Buy print (taker lifted the ask) moves
// Ask to the print price, a Sell print (taker hit the bid) moves Bid,
// leaving the other side at its last known value.
type topOfBook struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Engine is the actor owning one account.State for its lifetime: every
// mutation happens on Run's goroutine, reached only through Dispatch (spec
// §9's "actor pattern over a shared mutex" design note). Construct one
// through Builder, never directly.
type Engine struct {
	state *account.State
	ds    datasource.DataSource
	clk   *clock.Clock
	log   *zap.Logger

	marketTx chan<- MarketEvent

	fundingInterval int64 // microseconds; zero disables funding settlement
	lastFunding     map[market.Instrument]int64

	tob map[market.Instrument]*topOfBook

	reqCh     chan envelope
	exhausted bool
}

// Dispatch sends req to the engine's goroutine and blocks for its
// Response. Safe to call from any number of goroutines concurrently;
// concurrent callers are served strictly in the order their sends land on
// the request channel (spec §5's FIFO ordering guarantee) since only
// Run's goroutine ever reads it.
func (e *Engine) Dispatch(ctx context.Context, req Request) Response {
	env := envelope{req: req, reply: make(chan Response, 1)}
	select {
	case e.reqCh <- env:
	case <-ctx.Done():
		return Response{Err: ctx.Err()}
	}
	select {
	case resp := <-env.reply:
		return resp
	case <-ctx.Done():
		return Response{Err: ctx.Err()}
	}
}

// OpenOrder, CancelOrder, CancelAll, Deposit, and Withdraw are thin
// convenience wrappers around Dispatch for the common request shapes —
// callers that need the raw Request/Response union still use Dispatch
// directly.
func (e *Engine) OpenOrder(ctx context.Context, spec account.OpenOrderSpec) (*orderbook.Order, error) {
	resp := e.Dispatch(ctx, openOrderRequest(spec))
	return resp.Order, resp.Err
}

func (e *Engine) CancelOrder(ctx context.Context, id orderbook.OrderId) (*orderbook.Order, error) {
	resp := e.Dispatch(ctx, cancelOrderRequest(id))
	return resp.Order, resp.Err
}

func (e *Engine) CancelAll(ctx context.Context, inst market.Instrument) ([]*orderbook.Order, error) {
	resp := e.Dispatch(ctx, cancelAllRequest(inst))
	return resp.CancelledOrders, resp.Err
}

func (e *Engine) Deposit(ctx context.Context, asset market.Token, qty decimal.Decimal) (account.Balance, error) {
	resp := e.Dispatch(ctx, depositRequest(asset, qty))
	return resp.Balance, resp.Err
}

func (e *Engine) Withdraw(ctx context.Context, asset market.Token, qty decimal.Decimal) (account.Balance, error) {
	resp := e.Dispatch(ctx, withdrawRequest(asset, qty))
	return resp.Balance, resp.Err
}

// LetItRoll advances the engine by exactly one tick: pull the next market
// trade, update the book, and run the matching/liquidation pass (spec
// §4.4). Returns errs.DataSourceExhausted once the data source is drained.
func (e *Engine) LetItRoll(ctx context.Context) error {
	resp := e.Dispatch(ctx, Request{Kind: ReqLetItRoll})
	return resp.Err
}

// Run drives the actor loop until ctx is cancelled. Call it exactly once,
// from its own goroutine; every Request is serviced here and only here —
// this is the one goroutine that ever touches the underlying account.State.
// A panic out of handle (spec §7's "Internal" bucket — a programming error,
// never a recoverable request outcome) is caught here, logged, and ends the
// loop rather than taking the process down with it.
func (e *Engine) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine halted on internal error", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.reqCh:
			env.reply <- e.dispatchMetered(env.req)
		}
	}
}

func (e *Engine) dispatchMetered(req Request) Response {
	start := time.Now()
	resp := e.handle(req)
	metrics.ObserveRequest(req.Kind.String(), time.Since(start).Seconds())
	return resp
}

func (e *Engine) handle(req Request) Response {
	switch req.Kind {
	case ReqOpenOrder:
		order, err := e.state.AcceptOrder(req.OpenOrder, e.clk.EffectiveTimestamp())
		return Response{Order: order, Err: err}

	case ReqCancelOrder:
		order, err := e.state.CancelOrder(req.OrderID, e.clk.EffectiveTimestamp())
		return Response{Order: order, Err: err}

	case ReqCancelAll:
		return Response{CancelledOrders: e.state.CancelAll(req.Instrument, e.clk.EffectiveTimestamp())}

	case ReqFetchBalances:
		return Response{Balances: e.state.FetchBalances()}

	case ReqFetchPositions:
		return Response{Positions: e.state.FetchPositions()}

	case ReqFetchOrders:
		return Response{Orders: e.state.FetchOrders()}

	case ReqFetchExited:
		return Response{Exited: e.state.FetchExited()}

	case ReqLetItRoll:
		return e.letItRoll()

	case ReqDeposit:
		bal, err := e.state.Deposit(req.Asset, req.Qty, e.clk.EffectiveTimestamp())
		return Response{Balance: bal, Err: err}

	case ReqWithdraw:
		bal, err := e.state.Withdraw(req.Asset, req.Qty, e.clk.EffectiveTimestamp())
		return Response{Balance: bal, Err: err}

	default:
		// A Request only ever reaches this switch through the constructors
		// in requests.go or a hand-built literal with a valid Kind; an
		// unrecognized value here is a programming error, not a
		// recoverable request failure (spec §7's "Internal" bucket).
		panic(fmt.Sprintf("engine: unknown request kind %d", req.Kind))
	}
}

// letItRoll implements spec §4.4's per-tick pipeline: pull the next trade,
// advance the clock, derive the synthetic top of book, run the account's
// mark-to-market/liquidation/match pass, settle funding if an interval
// elapsed, and publish the tick's MarketEvent.
func (e *Engine) letItRoll() Response {
	if e.exhausted {
		return Response{Err: errs.Streamf(errs.DataSourceExhausted, "data source exhausted")}
	}

	trade, ok := e.ds.Next()
	if !ok {
		e.exhausted = true
		ts := e.clk.Tick()
		e.state.Publish(account.EndOfStreamEvent(ts))
		return Response{Err: errs.Streamf(errs.DataSourceExhausted, "data source exhausted")}
	}

	ts := trade.TimestampUS
	if !e.clk.AdvanceTo(ts) {
		// A trade print timestamped before the current clock is a corrupt or
		// out-of-order stream (a print at the current timestamp is accepted) (spec §7: "Stream errors pause the engine
		// and emit AccountEvent::Halt{reason}") — Live never validates
		// monotonicity on the wire, so this is the one place that catches
		// it. Halt rather than clamp: silently reusing the prior
		// timestamp would let a bad print re-run mark-to-market/
		// liquidation against a timestamp that already happened.
		e.exhausted = true
		reason := fmt.Sprintf("non-monotonic trade timestamp %d before current clock %d", ts, e.clk.Now())
		e.state.Publish(account.HaltEvent(reason, e.clk.Now()))
		return Response{Err: errs.Streamf(errs.DataSourceCorrupt, "%s", reason)}
	}

	top := e.tob[trade.Instrument]
	if top == nil {
		top = &topOfBook{Bid: trade.Price, Ask: trade.Price}
		e.tob[trade.Instrument] = top
	}
	if trade.Side == orderbook.Buy {
		top.Ask = trade.Price
	} else {
		top.Bid = trade.Price
	}

	e.state.ProcessTick(trade.Instrument, top.Bid, top.Ask, trade.Price, ts)
	e.settleFunding(trade.Instrument, trade.Price, ts)

	if e.marketTx != nil {
		evt := MarketEvent{Instrument: trade.Instrument, Bid: top.Bid, Ask: top.Ask, Last: trade.Price, Timestamp: ts}
		select {
		case e.marketTx <- evt:
		default:
			e.log.Warn("market event channel full, dropping tick", zap.String("instrument", trade.Instrument.Symbol()))
		}
	}

	return Response{}
}

// settleFunding applies one funding payment per fundingInterval boundary
// crossed since the last settlement for inst, walking forward interval by
// interval rather than averaging a partial gap — funding accrues only at
// exact funding timestamps, not continuously between ticks (an explicit
// resolution of the open question spec.md §9 leaves unfixed; see
// DESIGN.md). A no-op until fundingInterval is configured and at least one
// prior tick has established a baseline for inst.
func (e *Engine) settleFunding(inst market.Instrument, markPrice decimal.Decimal, ts int64) {
	if e.fundingInterval <= 0 {
		return
	}
	last, ok := e.lastFunding[inst]
	if !ok {
		e.lastFunding[inst] = ts
		return
	}
	for ts-last >= e.fundingInterval {
		last += e.fundingInterval
		e.state.ApplyFunding(inst, markPrice, last)
	}
	e.lastFunding[inst] = last
}
