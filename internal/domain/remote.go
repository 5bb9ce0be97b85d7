package domain

import "github.com/shopspring/decimal"

// RemoteLine is a cart line as the commerce backend reports it. LineID is the
// backend's own cart item id, ProductID matches CartLine.ID.
type RemoteLine struct {
	LineID    string
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type RemoteCart struct {
	Lines    []RemoteLine
	Subtotal decimal.Decimal
}

// CartLines converts the remote view into local lines. Lines for the same
// product are merged by summing quantities; the first name and price win.
// Lines without a LineID are left out since a push could never address them.
func (c *RemoteCart) CartLines() []CartLine {
	if c == nil {
		return nil
	}
	lines := make([]CartLine, 0, len(c.Lines))
	index := make(map[string]int, len(c.Lines))
	for _, rl := range c.Lines {
		if rl.Quantity <= 0 || rl.ProductID == "" || rl.LineID == "" {
			continue
		}
		if i, ok := index[rl.ProductID]; ok {
			lines[i].Quantity += rl.Quantity
			continue
		}
		index[rl.ProductID] = len(lines)
		lines = append(lines, CartLine{
			ID:       rl.ProductID,
			Name:     rl.Name,
			Price:    rl.UnitPrice,
			Quantity: rl.Quantity,
		})
	}
	return lines
}
