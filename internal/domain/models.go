package domain

import (
	"math"
	"time"
)

type StockItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	PriceCents    int64  `json:"price_cents"`
	CurrentStock  int    `json:"current_stock"`
	LowStockAlert int    `json:"low_stock_alert"`
	Barcode       string `json:"barcode,omitempty"`
}

type ItemCreateRequest struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	PriceCents    int64  `json:"price_cents"`
	InitialStock  int    `json:"initial_stock"`
	LowStockAlert int    `json:"low_stock_alert"`
	Barcode       string `json:"barcode,omitempty"`
}

type ItemUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Category      *string `json:"category,omitempty"`
	PriceCents    *int64  `json:"price_cents,omitempty"`
	CurrentStock  *int    `json:"current_stock,omitempty"`
	LowStockAlert *int    `json:"low_stock_alert,omitempty"`
	Barcode       *string `json:"barcode,omitempty"`
}

// CartLine is a client-local association between a stock item snapshot and a
// requested quantity. The snapshot fields are advisory only; the committed
// price and stock come from the live item at commit time.
type CartLine struct {
	ID             int    `json:"id"`
	ItemID         string `json:"item_id"`
	ItemName       string `json:"item_name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	AvailableStock int    `json:"available_stock"`
	Qty            int    `json:"qty"`
}

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Discount is a cart-level discount. Value is a percent of the subtotal when
// Kind is percentage, or an amount in cents when Kind is fixed.
type Discount struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

// Cents resolves the discount against a subtotal. Percentage discounts are
// rounded half-up, once, here; the result is clamped to [0, subtotal].
func (d Discount) Cents(subtotalCents int64) int64 {
	var discount int64
	switch d.Kind {
	case DiscountPercentage:
		discount = int64(math.Round(float64(subtotalCents) * d.Value / 100))
	case DiscountFixed:
		discount = int64(math.Round(d.Value))
	}
	if discount < 0 {
		return 0
	}
	if discount > subtotalCents {
		return subtotalCents
	}
	return discount
}

type CartTotals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// CheckoutRequest is the cart snapshot plus tendered payment handed to the
// sale committer.
type CheckoutRequest struct {
	Lines        []CartLine `json:"lines"`
	CustomerName string     `json:"customer_name,omitempty"`
	Discount     Discount   `json:"discount"`
	PaidCents    int64      `json:"paid_cents"`
}

const (
	BillStatusPending   = "pending"
	BillStatusCompleted = "completed"
	BillStatusReprinted = "reprinted"
)

// Bill is the immutable record of a completed sale. Only Status may change
// after creation (completed -> reprinted).
type Bill struct {
	ID              string     `json:"id"`
	ReferenceNumber string     `json:"reference_number"`
	Barcode         string     `json:"barcode"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	DiscountCents   int64      `json:"discount_cents"`
	DiscountKind    string     `json:"discount_kind,omitempty"`
	DiscountValue   float64    `json:"discount_value,omitempty"`
	TotalCents      int64      `json:"total_cents"`
	PaidCents       int64      `json:"paid_cents"`
	ChangeCents     int64      `json:"change_cents"`
	CustomerName    string     `json:"customer_name,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedBy       string     `json:"created_by"`
	Lines           []BillLine `json:"lines"`
}

// BillLine snapshots one sold item. ItemName and UnitPriceCents are captured
// at sale time and survive later renames or deletion of the stock item.
type BillLine struct {
	BillID         string `json:"bill_id"`
	ItemID         string `json:"item_id"`
	ItemName       string `json:"item_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type SalesSummary struct {
	From          string `json:"from"`
	To            string `json:"to"`
	BillCount     int64  `json:"bill_count"`
	GrossCents    int64  `json:"gross_cents"`
	DiscountCents int64  `json:"discount_cents"`
	NetCents      int64  `json:"net_cents"`
}

type ReceiptResponse struct {
	BillID      string `json:"bill_id"`
	Reference   string `json:"reference_number"`
	PreviewText string `json:"preview_text"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
