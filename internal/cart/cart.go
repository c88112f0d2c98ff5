// Package cart holds the in-progress sale for a single session. The cart is
// entirely client-local: nothing here touches persisted state, and the stock
// ceilings it enforces are best-effort snapshots that the sale committer
// revalidates against live inventory.
package cart

import (
	"strings"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

// Cart is owned by exactly one sale session and is not safe for concurrent
// use; per-session ownership makes locking unnecessary.
type Cart struct {
	lines        []domain.CartLine
	customerName string
	discount     domain.Discount
	nextLineID   int
}

func New() *Cart {
	return &Cart{nextLineID: 1}
}

// AddItem appends a line for the item, or bumps the quantity of the existing
// line. The mutation is rejected when the resulting quantity would exceed the
// item's snapshotted stock.
func (c *Cart) AddItem(item domain.StockItem, qty int) error {
	if qty < 1 {
		qty = 1
	}

	for i := range c.lines {
		if c.lines[i].ItemID != item.ID {
			continue
		}
		next := c.lines[i].Qty + qty
		if next > c.lines[i].AvailableStock {
			return &store.InsufficientStockError{
				ItemName:  c.lines[i].ItemName,
				Available: c.lines[i].AvailableStock,
				Requested: next,
			}
		}
		c.lines[i].Qty = next
		return nil
	}

	if qty > item.CurrentStock {
		return &store.InsufficientStockError{
			ItemName:  item.Name,
			Available: item.CurrentStock,
			Requested: qty,
		}
	}

	c.lines = append(c.lines, domain.CartLine{
		ID:             c.nextLineID,
		ItemID:         item.ID,
		ItemName:       item.Name,
		UnitPriceCents: item.PriceCents,
		AvailableStock: item.CurrentStock,
		Qty:            qty,
	})
	c.nextLineID++
	return nil
}

// SetQuantity updates a line's quantity. Zero or negative removes the line.
func (c *Cart) SetQuantity(lineID int, qty int) error {
	if qty <= 0 {
		c.RemoveLine(lineID)
		return nil
	}

	for i := range c.lines {
		if c.lines[i].ID != lineID {
			continue
		}
		if qty > c.lines[i].AvailableStock {
			return &store.InsufficientStockError{
				ItemName:  c.lines[i].ItemName,
				Available: c.lines[i].AvailableStock,
				Requested: qty,
			}
		}
		c.lines[i].Qty = qty
		return nil
	}
	return store.ErrNotFound
}

func (c *Cart) RemoveLine(lineID int) {
	kept := c.lines[:0]
	for _, line := range c.lines {
		if line.ID != lineID {
			kept = append(kept, line)
		}
	}
	c.lines = kept
}

func (c *Cart) ApplyDiscount(d domain.Discount) error {
	switch d.Kind {
	case "", domain.DiscountPercentage, domain.DiscountFixed:
	default:
		return store.ErrInvalidInput
	}
	if d.Value < 0 || (d.Kind == domain.DiscountPercentage && d.Value > 100) {
		return store.ErrInvalidInput
	}
	c.discount = d
	return nil
}

func (c *Cart) SetCustomerName(name string) {
	c.customerName = strings.TrimSpace(name)
}

// Lines returns the cart lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Totals derives subtotal, discount and total from the current lines. It is
// recomputed on every call so it can never desync from the line list.
func (c *Cart) Totals() domain.CartTotals {
	var subtotal int64
	for _, line := range c.lines {
		subtotal += line.UnitPriceCents * int64(line.Qty)
	}
	discount := c.discount.Cents(subtotal)
	return domain.CartTotals{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TotalCents:    subtotal - discount,
	}
}

// Checkout builds the commit snapshot for the sale committer.
func (c *Cart) Checkout(paidCents int64) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		Lines:        c.Lines(),
		CustomerName: c.customerName,
		Discount:     c.discount,
		PaidCents:    paidCents,
	}
}

// Clear resets the cart to empty, used after a successful commit or an
// explicit cancel.
func (c *Cart) Clear() {
	c.lines = nil
	c.customerName = ""
	c.discount = domain.Discount{}
	c.nextLineID = 1
}

// LoadBill repopulates the cart from a committed bill, clamping each line to
// the item's live stock. Lines whose item no longer exists or is out of stock
// are skipped; their names are returned so the caller can warn about them.
func (c *Cart) LoadBill(bill domain.Bill, live map[string]domain.StockItem) []string {
	c.Clear()
	c.customerName = bill.CustomerName

	skipped := make([]string, 0)
	for _, line := range bill.Lines {
		item, ok := live[line.ItemID]
		if !ok || item.CurrentStock < 1 {
			skipped = append(skipped, line.ItemName)
			continue
		}
		qty := line.Qty
		if qty > item.CurrentStock {
			qty = item.CurrentStock
		}
		if err := c.AddItem(item, qty); err != nil {
			skipped = append(skipped, line.ItemName)
		}
	}
	return skipped
}
