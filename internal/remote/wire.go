package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
)

// wireID accepts ids encoded either as JSON strings or as JSON numbers.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = wireID(n.String())
	return nil
}

// MarshalJSON writes integer ids as numbers, everything else as strings.
func (id wireID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type cartDocument struct {
	Items    []itemDocument  `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type itemDocument struct {
	ID       wireID          `json:"id"`
	Product  productDocument `json:"product"`
	Quantity int             `json:"quantity"`
}

type productDocument struct {
	ID    wireID          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type addItemRequest struct {
	ProductID wireID `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (d itemDocument) toDomain() domain.RemoteLine {
	return domain.RemoteLine{
		LineID:    string(d.ID),
		ProductID: string(d.Product.ID),
		Name:      d.Product.Name,
		UnitPrice: d.Product.Price,
		Quantity:  d.Quantity,
	}
}

func (d cartDocument) toDomain() *domain.RemoteCart {
	cart := &domain.RemoteCart{
		Lines:    make([]domain.RemoteLine, 0, len(d.Items)),
		Subtotal: d.Subtotal,
	}
	for _, item := range d.Items {
		cart.Lines = append(cart.Lines, item.toDomain())
	}
	return cart
}
