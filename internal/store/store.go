package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokopos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleItem marks a cart line whose stock item was deleted between
	// add time and commit time. The whole commit aborts.
	ErrStaleItem = errors.New("stale item reference")

	// ErrDuplicateReference signals a reference number or barcode collision.
	// The committer retries once with fresh identifiers.
	ErrDuplicateReference = errors.New("duplicate bill reference")
)

// InsufficientStockError reports a line whose live stock no longer covers
// the requested quantity. The commit that produced it made no writes.
type InsufficientStockError struct {
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ItemName, e.Available, e.Requested)
}

// InsufficientPaymentError reports that the tendered amount does not cover
// the bill total. Recoverable; the caller retries with corrected payment.
type InsufficientPaymentError struct {
	ShortfallCents int64
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: short by %d cents", e.ShortfallCents)
}

// Repository is the persistence boundary of the sale committer. CommitSale
// is the one atomic unit: revalidate live stock, persist the bill and its
// lines, and conditionally decrement stock, all-or-nothing.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.StockItem, error)
	GetItem(ctx context.Context, id string) (*domain.StockItem, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.StockItem, error)
	CreateItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	UpdateItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	DeleteItem(ctx context.Context, id string) error
	CommitSale(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	FindBillByID(ctx context.Context, id string) (*domain.Bill, error)
	FindBillByBarcode(ctx context.Context, barcode string) (*domain.Bill, error)
	FindBillByReference(ctx context.Context, reference string) (*domain.Bill, error)
	ListBills(ctx context.Context, from time.Time, to time.Time, status string, limit int) ([]domain.Bill, error)
	MarkBillReprinted(ctx context.Context, id string) (*domain.Bill, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
