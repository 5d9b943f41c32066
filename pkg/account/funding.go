package account

import (
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// ApplyFunding settles one funding payment for every open position in inst
// at markPrice, per spec §4.4: funding_payment = position_qty · mark_price
// · funding_rate, credited or debited straight to the quote balance (spec
// §6: funding is a cash flow, not collateral, so it never touches Locked).
// A positive FundingRate makes longs pay and shorts receive, the
// conventional perpetual-swap funding sign.
func (s *State) ApplyFunding(inst market.Instrument, markPrice decimal.Decimal, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pos := range s.positions {
		if pos.Instrument != inst || pos.Qty.IsZero() {
			continue
		}
		signedQty := pos.Qty
		if pos.Direction == Short {
			signedQty = signedQty.Neg()
		}
		payment := signedQty.Mul(markPrice).Mul(s.cfg.FundingRate)
		if payment.IsZero() {
			continue
		}
		s.realizePnL(inst.Quote, payment.Neg(), ts)
	}
}
