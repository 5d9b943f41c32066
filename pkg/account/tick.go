package account

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/metrics"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// ProcessTick is the per-market-trade pass the engine drives the account
// through (spec §4.4): record the new top of book, mark open positions to
// the new last price, run the configured liquidation check against that
// mark, and only then match any resting orders the new top of book
// crosses. One market trade can touch only one instrument, but a
// Cross-margin liquidation check looks at every position the account
// holds.
func (s *State) ProcessTick(inst market.Instrument, bid, ask, last decimal.Decimal, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[inst] = &bookLevel{Bid: bid, Ask: ask, Last: last, TS: ts}

	s.markToMarketLocked(inst, last)
	s.checkLiquidationLocked(inst, ts)

	for _, fill := range s.book.MatchAgainstTopOfBook(inst, bid, ask, s.cfg.MaxFillQtyPerTick) {
		order, ok := s.orders[fill.TakerID]
		if !ok {
			continue
		}
		// The book has already added fill.Qty to FilledQty; applyFillLocked
		// adds it as well, so take it back out first to count it once.
		order.FilledQty = order.FilledQty.Sub(fill.Qty)
		s.applyFillLocked(order, fill.Qty, fill.Price, false, ts)
		if fill.TakerRemoved {
			order.Status = orderbook.Filled
		}
	}
}

// markToMarketLocked recomputes UnrealizedPnL for every position in inst
// at the new last price. Assumes the caller holds s.mu.
func (s *State) markToMarketLocked(inst market.Instrument, last decimal.Decimal) {
	if !last.IsPositive() {
		return
	}
	for _, pos := range s.positions {
		if pos.Instrument != inst {
			continue
		}
		pos.UnrealizedPnL = pos.pnlAt(last)
	}
	equity, _ := s.equity(inst.Quote).Float64()
	metrics.SetEquity(inst.Symbol(), equity)
}

// equity returns Total balance in the quote asset used as the account's
// margin currency, plus unrealized PnL across every position — the
// numerator of the Cross-margin liquidation ratio. SingleCurrencyMargin
// accounts share this formula; multi-asset cross-collateral is not
// modelled.
func (s *State) equity(marginAsset market.Token) decimal.Decimal {
	eq := s.balanceFor(marginAsset).Total
	for _, pos := range s.positions {
		eq = eq.Add(pos.UnrealizedPnL)
	}
	return eq
}

// checkLiquidationLocked runs the configured liquidation check against
// every position touched by inst's new mark price, and liquidates the first
// position the check flags (at most one per tick). Assumes the caller holds
// s.mu.
func (s *State) checkLiquidationLocked(inst market.Instrument, ts int64) {
	marks := make(map[market.Instrument]decimal.Decimal, len(s.marks))
	for i, lvl := range s.marks {
		marks[i] = lvl.Last
	}

	var plan *LiquidationPlan
	switch s.cfg.PositionMarginMode {
	case PositionIsolated:
		for key, pos := range s.positions {
			if key.Instrument != inst {
				continue
			}
			mark, ok := marks[inst]
			if !ok {
				continue
			}
			if p := checkLiquidationIsolated(pos, mark, s.cfg.LiquidationThreshold); p != nil {
				plan = p
				break
			}
		}
	default: // PositionCross
		if _, ok := marks[inst]; !ok {
			return
		}
		plan = checkLiquidationCross(s.equity(inst.Quote), s.positions, marks, s.cfg.LiquidationThreshold, inst)
	}

	if plan != nil {
		s.liquidateLocked(plan, ts)
	}
}

// liquidateLocked closes the planned position at its close price,
// realizing PnL, releasing margin, and archiving the exit as a
// Liquidation. The close itself is recorded as a synthetic Market order
// and Trade, the same way a client-initiated close would be, so
// FetchOrders/trade history carries the liquidation rather than it
// showing up only as a balance delta and an ExitedPosition. Assumes the
// caller holds s.mu.
func (s *State) liquidateLocked(plan *LiquidationPlan, ts int64) {
	key := positionKey{Instrument: plan.Instrument, Direction: plan.Direction}
	pos, ok := s.positions[key]
	if !ok {
		return
	}

	realized := pos.pnlAt(plan.ClosePrice)
	s.realizePnL(plan.Instrument.Quote, realized, ts)
	s.release(plan.Instrument.Quote, pos.MarginLocked)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	s.archiveExit(pos, plan.ClosePrice, Liquidation, ts)

	qty := pos.Qty.Abs()
	isLongLike := pos.Direction == Long || (pos.Direction == Net && pos.Qty.IsPositive())
	side := orderbook.Sell
	if !isLongLike {
		side = orderbook.Buy
	}
	order := &Order{
		ID:         s.ids.Next(),
		Instrument: plan.Instrument,
		Side:       side,
		Kind:       orderbook.Market,
		Price:      plan.ClosePrice,
		Qty:        qty,
		FilledQty:  qty,
		Status:     orderbook.Liquidated,
		CreatedTS:  ts,
		UpdatedTS:  ts,
	}
	s.orders[order.ID] = order
	s.publish(tradeEvent(Trade{
		TradeID:    s.nextTradeID(),
		OrderID:    order.ID,
		Instrument: plan.Instrument,
		Side:       side,
		Price:      plan.ClosePrice,
		Qty:        qty,
		IsTaker:    true,
		Timestamp:  ts,
	}))

	delete(s.positions, key)

	s.log.Warn("position liquidated",
		zap.String("instrument", plan.Instrument.Symbol()),
		zap.String("qty", plan.Qty.String()),
		zap.String("close_price", plan.ClosePrice.String()))
	metrics.IncLiquidation(plan.Instrument.Symbol())
}
