package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/billref"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

type Store struct {
	mu             sync.RWMutex
	items          map[string]domain.StockItem
	billsByID      map[string]*domain.Bill
	billsByBarcode map[string]string
	billsByRef     map[string]string
	auditLogs      []domain.AuditLog
	usersByName    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to dev defaults with a warning. The in-memory store is
// never used in production (DATABASE_URL or SQLITE_PATH selects a durable one).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		items:          make(map[string]domain.StockItem),
		billsByID:      make(map[string]*domain.Bill),
		billsByBarcode: make(map[string]string),
		billsByRef:     make(map[string]string),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		usersByName:    seedUsers(),
	}
}

func NewSeeded() *Store {
	items := []domain.StockItem{
		{ID: "item-pen-01", Name: "Pulpen Hitam", Category: "stationery", PriceCents: 3500, CurrentStock: 120, LowStockAlert: 20, Barcode: "8991002101019"},
		{ID: "item-book-01", Name: "Buku Tulis 38", Category: "stationery", PriceCents: 5200, CurrentStock: 80, LowStockAlert: 15, Barcode: "8991002101026"},
		{ID: "item-mie-01", Name: "Mie Goreng Instan", Category: "grocery", PriceCents: 3400, CurrentStock: 200, LowStockAlert: 40, Barcode: "8991002101033"},
		{ID: "item-kopi-01", Name: "Kopi Sachet", Category: "beverage", PriceCents: 2600, CurrentStock: 150, LowStockAlert: 30, Barcode: "8991002101040"},
		{ID: "item-air-01", Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 3900, CurrentStock: 96, LowStockAlert: 24},
		{ID: "item-sabun-01", Name: "Sabun Mandi", Category: "household", PriceCents: 7400, CurrentStock: 60, LowStockAlert: 10},
	}

	s := New()
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.StockItem) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.StockItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.Name == "" || item.PriceCents < 0 || item.CurrentStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = billref.NewID("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if item.Barcode != "" {
		for _, other := range s.items {
			if other.Barcode == item.Barcode {
				return nil, store.ErrInvalidInput
			}
		}
	}

	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" || item.PriceCents < 0 || item.CurrentStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		return nil, store.ErrNotFound
	}
	if item.Barcode != "" {
		for id, other := range s.items {
			if id != item.ID && other.Barcode == item.Barcode {
				return nil, store.ErrInvalidInput
			}
		}
	}

	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// CommitSale runs the whole commit under one critical section: revalidation,
// conditional decrement and bill persistence are indivisible, so concurrent
// commits against the same item serialize and stock can never go negative.
func (s *Store) CommitSale(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Lines) == 0 || bill.ID == "" || bill.ReferenceNumber == "" || bill.Barcode == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.billsByRef[bill.ReferenceNumber]; exists {
		return nil, store.ErrDuplicateReference
	}
	if _, exists := s.billsByBarcode[bill.Barcode]; exists {
		return nil, store.ErrDuplicateReference
	}

	// Revalidate every line against live items before any mutation. Demand is
	// summed per item so repeated lines for the same item cannot pass the
	// stock check individually and drive the total below zero.
	subtotal := int64(0)
	repriced := make([]domain.BillLine, 0, len(bill.Lines))
	requested := make(map[string]int, len(bill.Lines))
	for _, line := range bill.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		item, exists := s.items[line.ItemID]
		if !exists {
			return nil, store.ErrStaleItem
		}
		requested[line.ItemID] += line.Qty
		if item.CurrentStock < requested[line.ItemID] {
			return nil, &store.InsufficientStockError{
				ItemName:  item.Name,
				Available: item.CurrentStock,
				Requested: requested[line.ItemID],
			}
		}
		repriced = append(repriced, domain.BillLine{
			BillID:         bill.ID,
			ItemID:         item.ID,
			ItemName:       item.Name,
			Qty:            line.Qty,
			UnitPriceCents: item.PriceCents,
			LineTotalCents: item.PriceCents * int64(line.Qty),
		})
		subtotal += item.PriceCents * int64(line.Qty)
	}

	discount := domain.Discount{Kind: bill.DiscountKind, Value: bill.DiscountValue}
	discountCents := discount.Cents(subtotal)
	total := subtotal - discountCents
	if bill.PaidCents < total {
		return nil, &store.InsufficientPaymentError{ShortfallCents: total - bill.PaidCents}
	}

	for _, line := range repriced {
		item := s.items[line.ItemID]
		item.CurrentStock -= line.Qty
		s.items[line.ItemID] = item
	}

	bill.Lines = repriced
	bill.SubtotalCents = subtotal
	bill.DiscountCents = discountCents
	bill.TotalCents = total
	bill.ChangeCents = bill.PaidCents - total
	if bill.Status == "" {
		bill.Status = domain.BillStatusCompleted
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	s.billsByID[bill.ID] = cloneBill(&bill)
	s.billsByBarcode[bill.Barcode] = bill.ID
	s.billsByRef[bill.ReferenceNumber] = bill.ID

	return cloneBill(&bill), nil
}

func (s *Store) FindBillByID(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBill(bill), nil
}

func (s *Store) FindBillByBarcode(_ context.Context, barcode string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.billsByBarcode[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBill(s.billsByID[id]), nil
}

func (s *Store) FindBillByReference(_ context.Context, reference string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.billsByRef[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBill(s.billsByID[id]), nil
}

func (s *Store) ListBills(_ context.Context, from time.Time, to time.Time, status string, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	bills := make([]domain.Bill, 0, limit)
	for _, bill := range s.billsByID {
		if bill.CreatedAt.Before(from) || !bill.CreatedAt.Before(to) {
			continue
		}
		if status != "" && bill.Status != status {
			continue
		}
		bills = append(bills, *cloneBill(bill))
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) MarkBillReprinted(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	bill.Status = domain.BillStatusReprinted
	return cloneBill(bill), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = billref.NewID("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByName[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func cloneBill(bill *domain.Bill) *domain.Bill {
	copied := *bill
	copied.Lines = make([]domain.BillLine, len(bill.Lines))
	copy(copied.Lines, bill.Lines)
	return &copied
}
