// Package alloc splits a reported completed quantity across an item's order
// and stock buckets. Order quantity is always filled first; anything beyond
// both remainders is discarded. Pure computation: no clock, no identity, no
// storage.
package alloc

import "floorline/internal/domain"

// Counters is the current state of one item's quantities.
type Counters struct {
	OrderQty       int
	StockQty       int
	OrderCompleted int
	StockCompleted int
}

// Result is the outcome of applying a reported quantity.
type Result struct {
	AddToOrder     int
	AddToStock     int
	Discarded      int
	OrderCompleted int
	StockCompleted int
	Status         string
}

// Apply allocates qty against c. prevStatus is the item's status before this
// call; it decides whether a zero-allocation call still counts as progress.
// Calling twice with the same inputs yields the same output.
func Apply(c Counters, qty int, prevStatus string) Result {
	if qty < 0 {
		qty = 0
	}
	orderRemaining := max(0, c.OrderQty-c.OrderCompleted)
	stockRemaining := max(0, c.StockQty-c.StockCompleted)
	addToOrder := min(qty, orderRemaining)
	addToStock := min(qty-addToOrder, stockRemaining)
	res := Result{
		AddToOrder:     addToOrder,
		AddToStock:     addToStock,
		Discarded:      qty - addToOrder - addToStock,
		OrderCompleted: c.OrderCompleted + addToOrder,
		StockCompleted: c.StockCompleted + addToStock,
	}
	res.Status = Status(c.OrderQty, c.StockQty, res.OrderCompleted, res.StockCompleted, prevStatus, addToOrder+addToStock > 0)
	return res
}

// Status derives an item status from its counters. allocated reports whether
// the current call applied any quantity. working is only entered through the
// separate start-working action, and not_started is never re-entered.
func Status(orderQty, stockQty, orderCompleted, stockCompleted int, prevStatus string, allocated bool) string {
	if orderCompleted >= orderQty && stockCompleted >= stockQty {
		return domain.ItemComplete
	}
	if allocated || (prevStatus != "" && prevStatus != domain.ItemNotStarted) {
		return domain.ItemPartiallyComplete
	}
	if prevStatus == "" {
		return domain.ItemNotStarted
	}
	return prevStatus
}
