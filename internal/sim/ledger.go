package sim

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Ledger tracks inventory and realized P&L with weighted-average cost. Longs
// and shorts are symmetric: a fill that reduces |inventory| realizes P&L on
// the matched size, and any remainder opens a new position at the fill price.
// Arithmetic is decimal so replays of equal fills give equal totals.
type Ledger struct {
	inventory decimal.Decimal
	avgCost   decimal.Decimal
	realized  decimal.Decimal
	fills     int
}

// Apply books one fill.
func (l *Ledger) Apply(f domain.Fill) {
	price := decimal.NewFromFloat(f.Price)
	size := decimal.NewFromFloat(f.Size)
	signed := size
	if f.Side == domain.SideSell {
		signed = size.Neg()
	}
	l.fills++

	held := l.inventory.Abs()
	if l.inventory.IsZero() || l.inventory.Sign() == signed.Sign() {
		total := held.Add(size)
		if !total.IsZero() {
			l.avgCost = l.avgCost.Mul(held).Add(price.Mul(size)).Div(total)
		}
		l.inventory = l.inventory.Add(signed)
		return
	}

	matched := decimal.Min(size, held)
	pnl := price.Sub(l.avgCost).Mul(matched)
	if l.inventory.IsNegative() {
		pnl = pnl.Neg()
	}
	l.realized = l.realized.Add(pnl)
	l.inventory = l.inventory.Add(signed)

	switch {
	case size.GreaterThan(matched):
		l.avgCost = price
	case l.inventory.IsZero():
		l.avgCost = decimal.Zero
	}
}

// NetSize is the signed sum of fill sizes, buys positive, summed in the
// ledger's decimal arithmetic. A settled run's final inventory equals the
// NetSize of its fills exactly.
func NetSize(fills []domain.Fill) float64 {
	sum := decimal.Zero
	for _, f := range fills {
		size := decimal.NewFromFloat(f.Size)
		if f.Side == domain.SideSell {
			size = size.Neg()
		}
		sum = sum.Add(size)
	}
	return sum.InexactFloat64()
}

// Inventory returns the signed position.
func (l *Ledger) Inventory() float64 { return l.inventory.InexactFloat64() }

// AvgCost returns the average cost of the open position, zero when flat.
func (l *Ledger) AvgCost() float64 { return l.avgCost.InexactFloat64() }

// RealizedPnL returns realized profit and loss.
func (l *Ledger) RealizedPnL() float64 { return l.realized.InexactFloat64() }

// FillCount returns the number of fills booked.
func (l *Ledger) FillCount() int { return l.fills }
