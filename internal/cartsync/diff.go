package cartsync

import (
	"sort"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
)

// AddOp creates a remote line for a product the backend does not have.
type AddOp struct {
	ProductID string
	Quantity  int
}

// UpdateOp changes the quantity of an existing remote line.
type UpdateOp struct {
	ProductID string
	LineID    string
	From      int
	To        int
}

// DeleteOp removes a remote line.
type DeleteOp struct {
	ProductID string
	LineID    string
}

// Plan is the set of remote mutations that makes the remote cart match the
// local one. The operations are independent of each other and may run in
// any order.
type Plan struct {
	ToAdd    []AddOp
	ToUpdate []UpdateOp
	ToDelete []DeleteOp
}

func (p Plan) IsEmpty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

func (p Plan) Len() int {
	return len(p.ToAdd) + len(p.ToUpdate) + len(p.ToDelete)
}

// Diff matches lines by product id. When the backend holds several lines for
// one product the first is reconciled against the local quantity and the
// others are deleted. Remote lines without a line id cannot be addressed and
// are ignored.
func Diff(remote []domain.RemoteLine, local []domain.CartLine) Plan {
	var plan Plan

	remoteByProduct := make(map[string]domain.RemoteLine, len(remote))
	for _, rl := range remote {
		if rl.LineID == "" {
			continue
		}
		if _, dup := remoteByProduct[rl.ProductID]; dup {
			plan.ToDelete = append(plan.ToDelete, DeleteOp{ProductID: rl.ProductID, LineID: rl.LineID})
			continue
		}
		remoteByProduct[rl.ProductID] = rl
	}

	localIDs := make(map[string]bool, len(local))
	for _, line := range local {
		if line.Quantity <= 0 {
			continue
		}
		localIDs[line.ID] = true

		rl, exists := remoteByProduct[line.ID]
		switch {
		case !exists:
			plan.ToAdd = append(plan.ToAdd, AddOp{ProductID: line.ID, Quantity: line.Quantity})
		case rl.Quantity != line.Quantity:
			plan.ToUpdate = append(plan.ToUpdate, UpdateOp{
				ProductID: line.ID,
				LineID:    rl.LineID,
				From:      rl.Quantity,
				To:        line.Quantity,
			})
		}
	}

	for productID, rl := range remoteByProduct {
		if !localIDs[productID] {
			plan.ToDelete = append(plan.ToDelete, DeleteOp{ProductID: productID, LineID: rl.LineID})
		}
	}

	sort.Slice(plan.ToAdd, func(i, j int) bool { return plan.ToAdd[i].ProductID < plan.ToAdd[j].ProductID })
	sort.Slice(plan.ToUpdate, func(i, j int) bool { return plan.ToUpdate[i].ProductID < plan.ToUpdate[j].ProductID })
	sort.Slice(plan.ToDelete, func(i, j int) bool {
		a, b := plan.ToDelete[i], plan.ToDelete[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.LineID < b.LineID
	})
	return plan
}
