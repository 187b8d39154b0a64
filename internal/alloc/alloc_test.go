package alloc_test

import (
	"testing"

	"floorline/internal/alloc"
	"floorline/internal/domain"
)

func TestOrderFilledBeforeStock(t *testing.T) {
	res := alloc.Apply(alloc.Counters{OrderQty: 10, StockQty: 5}, 12, domain.ItemNotStarted)
	if res.OrderCompleted != 10 || res.StockCompleted != 2 {
		t.Fatalf("expected 10/2, got %d/%d", res.OrderCompleted, res.StockCompleted)
	}
	if res.Status != domain.ItemPartiallyComplete {
		t.Fatalf("expected partially_complete, got %s", res.Status)
	}
}

func TestSecondReportCompletes(t *testing.T) {
	res := alloc.Apply(alloc.Counters{OrderQty: 10, StockQty: 5, OrderCompleted: 10, StockCompleted: 2}, 3, domain.ItemPartiallyComplete)
	if res.OrderCompleted != 10 || res.StockCompleted != 5 {
		t.Fatalf("expected 10/5, got %d/%d", res.OrderCompleted, res.StockCompleted)
	}
	if res.Status != domain.ItemComplete {
		t.Fatalf("expected complete, got %s", res.Status)
	}
}

func TestOverageDiscarded(t *testing.T) {
	res := alloc.Apply(alloc.Counters{OrderQty: 2, StockQty: 1}, 10, domain.ItemNotStarted)
	if res.AddToOrder != 2 || res.AddToStock != 1 {
		t.Fatalf("expected 2/1, got %d/%d", res.AddToOrder, res.AddToStock)
	}
	if res.Discarded != 7 {
		t.Fatalf("expected 7 discarded, got %d", res.Discarded)
	}
	if res.Status != domain.ItemComplete {
		t.Fatalf("expected complete, got %s", res.Status)
	}
}

func TestConservation(t *testing.T) {
	cases := []struct {
		c   alloc.Counters
		qty int
	}{
		{alloc.Counters{OrderQty: 10, StockQty: 5}, 12},
		{alloc.Counters{OrderQty: 10, StockQty: 5, OrderCompleted: 4}, 3},
		{alloc.Counters{OrderQty: 0, StockQty: 8, StockCompleted: 8}, 5},
		{alloc.Counters{OrderQty: 7, StockQty: 0, OrderCompleted: 2}, 0},
		{alloc.Counters{OrderQty: 3, StockQty: 3, OrderCompleted: 3, StockCompleted: 1}, 9},
	}
	for _, tc := range cases {
		res := alloc.Apply(tc.c, tc.qty, domain.ItemNotStarted)
		remaining := (tc.c.OrderQty - tc.c.OrderCompleted) + (tc.c.StockQty - tc.c.StockCompleted)
		want := min(tc.qty, remaining)
		if res.AddToOrder+res.AddToStock != want {
			t.Fatalf("case %+v qty=%d: allocated %d, want %d", tc.c, tc.qty, res.AddToOrder+res.AddToStock, want)
		}
		if res.OrderCompleted > tc.c.OrderQty || res.StockCompleted > tc.c.StockQty {
			t.Fatalf("case %+v qty=%d: counters exceed assigned quantities", tc.c, tc.qty)
		}
	}
}

func TestIdempotent(t *testing.T) {
	c := alloc.Counters{OrderQty: 6, StockQty: 4, OrderCompleted: 1, StockCompleted: 0}
	a := alloc.Apply(c, 5, domain.ItemWorking)
	b := alloc.Apply(c, 5, domain.ItemWorking)
	if a != b {
		t.Fatalf("expected identical results, got %+v vs %+v", a, b)
	}
}

func TestWorkingStaysProgressedOnAllocation(t *testing.T) {
	res := alloc.Apply(alloc.Counters{OrderQty: 4, StockQty: 0}, 1, domain.ItemWorking)
	if res.Status != domain.ItemPartiallyComplete {
		t.Fatalf("expected partially_complete, got %s", res.Status)
	}
}

func TestZeroQuantitiesComplete(t *testing.T) {
	// An item with nothing assigned counts as complete immediately.
	res := alloc.Apply(alloc.Counters{}, 1, domain.ItemNotStarted)
	if res.Status != domain.ItemComplete {
		t.Fatalf("expected complete, got %s", res.Status)
	}
	if res.Discarded != 1 {
		t.Fatalf("expected 1 discarded, got %d", res.Discarded)
	}
}
