package domain

import "github.com/shopspring/decimal"

// CartLine is one distinct product in the cart. Quantity is always >= 1.
type CartLine struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// Total returns price × quantity for the line.
func (l CartLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is an immutable copy of the cart state. Lines keep insertion order.
type Snapshot struct {
	Lines     []CartLine
	ItemCount int
	Subtotal  decimal.Decimal
}

// IsEmpty reports whether the snapshot holds no lines.
func (s Snapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// NewSnapshot copies lines and derives the totals from them.
func NewSnapshot(lines []CartLine) Snapshot {
	copied := make([]CartLine, len(lines))
	copy(copied, lines)
	itemCount, subtotal := ComputeTotals(copied)
	return Snapshot{
		Lines:     copied,
		ItemCount: itemCount,
		Subtotal:  subtotal,
	}
}

// ComputeTotals derives item count (sum of quantities) and subtotal from lines.
func ComputeTotals(lines []CartLine) (int, decimal.Decimal) {
	itemCount := 0
	subtotal := decimal.Zero
	for _, line := range lines {
		itemCount += line.Quantity
		subtotal = subtotal.Add(line.Total())
	}
	return itemCount, subtotal
}
