package cart

import (
	"errors"
	"testing"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

func penItem() domain.StockItem {
	return domain.StockItem{
		ID:           "item-pen",
		Name:         "Pen",
		Category:     "stationery",
		PriceCents:   100,
		CurrentStock: 10,
	}
}

func TestAddItemMergesExistingLine(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.AddItem(penItem(), 3); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].Qty != 5 {
		t.Fatalf("expected merged qty 5, got %d", lines[0].Qty)
	}
}

func TestAddItemRejectsBeyondSnapshottedStock(t *testing.T) {
	c := New()
	item := penItem()
	item.CurrentStock = 3

	if err := c.AddItem(item, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	err := c.AddItem(item, 2)

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 3 || stockErr.Requested != 4 {
		t.Fatalf("unexpected error detail: %+v", stockErr)
	}
	if c.Lines()[0].Qty != 2 {
		t.Fatalf("rejected add must not mutate the line")
	}
}

func TestAddItemRejectsZeroStock(t *testing.T) {
	c := New()
	item := penItem()
	item.CurrentStock = 0

	var stockErr *store.InsufficientStockError
	if err := c.AddItem(item, 1); !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError for zero stock, got %v", err)
	}
	if len(c.Lines()) != 0 {
		t.Fatalf("cart must stay empty")
	}
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	lineID := c.Lines()[0].ID

	if err := c.SetQuantity(lineID, 0); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if len(c.Lines()) != 0 {
		t.Fatalf("expected empty cart after qty 0")
	}
}

func TestSetQuantityRejectsBeyondStock(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	lineID := c.Lines()[0].ID

	var stockErr *store.InsufficientStockError
	if err := c.SetQuantity(lineID, 11); !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if err := c.SetQuantity(999, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown line, got %v", err)
	}
}

func TestTotalsPercentageDiscount(t *testing.T) {
	c := New()
	item := penItem()
	item.PriceCents = 250
	if err := c.AddItem(item, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.ApplyDiscount(domain.Discount{Kind: domain.DiscountPercentage, Value: 10}); err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}

	totals := c.Totals()
	if totals.SubtotalCents != 500 {
		t.Fatalf("expected subtotal 500, got %d", totals.SubtotalCents)
	}
	if totals.DiscountCents != 50 {
		t.Fatalf("expected discount 50, got %d", totals.DiscountCents)
	}
	if totals.TotalCents != 450 {
		t.Fatalf("expected total 450, got %d", totals.TotalCents)
	}
}

func TestTotalsFixedDiscountClampedToSubtotal(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.ApplyDiscount(domain.Discount{Kind: domain.DiscountFixed, Value: 500}); err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}

	totals := c.Totals()
	if totals.DiscountCents != 100 || totals.TotalCents != 0 {
		t.Fatalf("expected discount clamped to subtotal, got %+v", totals)
	}
}

func TestApplyDiscountRejectsInvalidValues(t *testing.T) {
	c := New()
	if err := c.ApplyDiscount(domain.Discount{Kind: domain.DiscountPercentage, Value: 120}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for >100 percent, got %v", err)
	}
	if err := c.ApplyDiscount(domain.Discount{Kind: "buy-one-get-one", Value: 1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown kind, got %v", err)
	}
}

func TestTotalsAreStableWithoutMutation(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.ApplyDiscount(domain.Discount{Kind: domain.DiscountPercentage, Value: 7.5}); err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}

	first := c.Totals()
	second := c.Totals()
	if first != second {
		t.Fatalf("totals changed without mutation: %+v vs %+v", first, second)
	}
}

func TestClearResetsEverything(t *testing.T) {
	c := New()
	if err := c.AddItem(penItem(), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	c.SetCustomerName("Budi")
	if err := c.ApplyDiscount(domain.Discount{Kind: domain.DiscountFixed, Value: 10}); err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}

	c.Clear()
	if len(c.Lines()) != 0 {
		t.Fatalf("expected no lines after clear")
	}
	if totals := c.Totals(); totals.TotalCents != 0 || totals.DiscountCents != 0 {
		t.Fatalf("expected zero totals after clear, got %+v", totals)
	}
}

func TestLoadBillClampsToLiveStock(t *testing.T) {
	bill := domain.Bill{
		CustomerName: "Sari",
		Lines: []domain.BillLine{
			{ItemID: "item-pen", ItemName: "Pen", Qty: 5, UnitPriceCents: 100},
			{ItemID: "item-gone", ItemName: "Old Notebook", Qty: 1, UnitPriceCents: 400},
		},
	}
	live := map[string]domain.StockItem{
		"item-pen": {ID: "item-pen", Name: "Pen", PriceCents: 120, CurrentStock: 3},
	}

	c := New()
	skipped := c.LoadBill(bill, live)

	if len(skipped) != 1 || skipped[0] != "Old Notebook" {
		t.Fatalf("expected the deleted item to be skipped, got %v", skipped)
	}
	lines := c.Lines()
	if len(lines) != 1 || lines[0].Qty != 3 {
		t.Fatalf("expected pen clamped to live stock 3, got %+v", lines)
	}
	if lines[0].UnitPriceCents != 120 {
		t.Fatalf("expected live price snapshot, got %d", lines[0].UnitPriceCents)
	}
}
