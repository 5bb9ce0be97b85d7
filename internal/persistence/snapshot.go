package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrMalformedSnapshot = errors.New("malformed cart snapshot")

// snapshotDocument is the stored layout:
// {"items":[{"id","name","price","quantity"}],"itemCount":n,"subtotal":n}.
// Prices are written as JSON numbers.
type snapshotDocument struct {
	Items     []snapshotItem `json:"items"`
	ItemCount int            `json:"itemCount"`
	Subtotal  json.Number    `json:"subtotal"`
}

type snapshotItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

func encodeSnapshot(snap domain.Snapshot) ([]byte, error) {
	doc := snapshotDocument{
		Items:     make([]snapshotItem, 0, len(snap.Lines)),
		ItemCount: snap.ItemCount,
		Subtotal:  json.Number(snap.Subtotal.String()),
	}
	for _, line := range snap.Lines {
		doc.Items = append(doc.Items, snapshotItem{
			ID:       line.ID,
			Name:     line.Name,
			Price:    json.Number(line.Price.String()),
			Quantity: line.Quantity,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot failed: %w", err)
	}
	return data, nil
}

// decodeSnapshot rejects documents whose lines could not exist in a cart.
// Totals are derived from the lines; the stored ones are ignored.
func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if doc.Items == nil {
		return domain.Snapshot{}, fmt.Errorf("%w: missing items", ErrMalformedSnapshot)
	}

	lines := make([]domain.CartLine, 0, len(doc.Items))
	seen := make(map[string]bool, len(doc.Items))
	for _, item := range doc.Items {
		if item.ID == "" || seen[item.ID] {
			return domain.Snapshot{}, fmt.Errorf("%w: bad or repeated id %q", ErrMalformedSnapshot, item.ID)
		}
		if item.Quantity < 1 {
			return domain.Snapshot{}, fmt.Errorf("%w: quantity %d for %q", ErrMalformedSnapshot, item.Quantity, item.ID)
		}
		p, err := decimal.NewFromString(item.Price.String())
		if err != nil || p.IsNegative() {
			return domain.Snapshot{}, fmt.Errorf("%w: price %q for %q", ErrMalformedSnapshot, item.Price, item.ID)
		}
		seen[item.ID] = true
		lines = append(lines, domain.CartLine{
			ID:       item.ID,
			Name:     item.Name,
			Price:    p,
			Quantity: item.Quantity,
		})
	}
	return domain.NewSnapshot(lines), nil
}
