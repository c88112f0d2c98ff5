package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

// newTestStore creates a fresh SQLite store backed by a temp file with the
// schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "pos.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s *Store, id string, name string, price int64, stock int) domain.StockItem {
	t.Helper()

	created, err := s.CreateItem(context.Background(), domain.StockItem{
		ID: id, Name: name, Category: "test", PriceCents: price, CurrentStock: stock,
	})
	if err != nil {
		t.Fatalf("seeding item %s: %v", id, err)
	}
	return *created
}

func testBill(lines []domain.BillLine, paid int64) domain.Bill {
	now := time.Now().UTC()
	return domain.Bill{
		ID:              "bill-test-" + now.Format("150405.000000"),
		ReferenceNumber: "INV-TEST-" + now.Format("150405.000000"),
		Barcode:         now.Format("20060102150405.000000"),
		PaidCents:       paid,
		CreatedBy:       "tester",
		Lines:           lines,
	}
}

func TestItemCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := seedItem(t, s, "item-a", "Apel", 2500, 30)

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "Apel" || got.CurrentStock != 30 {
		t.Fatalf("unexpected item %+v", got)
	}

	got.PriceCents = 2700
	if _, err := s.UpdateItem(ctx, *got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updated, _ := s.GetItem(ctx, item.ID)
	if updated.PriceCents != 2700 {
		t.Fatalf("expected price 2700, got %d", updated.PriceCents)
	}

	if err := s.DeleteItem(ctx, item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetItem(ctx, item.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCommitSalePersistsBillAndDecrementsStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "item-a", "Apel", 2500, 30)
	seedItem(t, s, "item-b", "Beras", 12000, 10)

	committed, err := s.CommitSale(ctx, testBill([]domain.BillLine{
		{ItemID: "item-a", Qty: 4},
		{ItemID: "item-b", Qty: 1},
	}, 30000))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if committed.SubtotalCents != 4*2500+12000 {
		t.Fatalf("unexpected subtotal %d", committed.SubtotalCents)
	}
	if committed.ChangeCents != 30000-committed.TotalCents {
		t.Fatalf("unexpected change %d", committed.ChangeCents)
	}

	apel, _ := s.GetItem(ctx, "item-a")
	if apel.CurrentStock != 26 {
		t.Fatalf("expected stock 26, got %d", apel.CurrentStock)
	}

	found, err := s.FindBillByBarcode(ctx, committed.Barcode)
	if err != nil {
		t.Fatalf("barcode lookup failed: %v", err)
	}
	if found.ID != committed.ID || len(found.Lines) != 2 {
		t.Fatalf("unexpected bill %+v", found)
	}
}

func TestCommitSaleRollsBackOnShortStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "item-a", "Apel", 2500, 30)
	seedItem(t, s, "item-b", "Beras", 12000, 2)

	_, err := s.CommitSale(ctx, testBill([]domain.BillLine{
		{ItemID: "item-a", Qty: 4},
		{ItemID: "item-b", Qty: 3},
	}, 999999))
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.ItemName != "Beras" || stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("unexpected error payload %+v", stockErr)
	}

	apel, _ := s.GetItem(ctx, "item-a")
	if apel.CurrentStock != 30 {
		t.Fatalf("failed commit must not decrement any line, got %d", apel.CurrentStock)
	}
}

func TestCommitSaleRejectsMissingItem(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CommitSale(context.Background(), testBill([]domain.BillLine{
		{ItemID: "item-gone", Qty: 1},
	}, 1000))
	if !errors.Is(err, store.ErrStaleItem) {
		t.Fatalf("expected stale item error, got %v", err)
	}
}

func TestCommitSaleRejectsShortPayment(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "item-a", "Apel", 2500, 30)

	_, err := s.CommitSale(context.Background(), testBill([]domain.BillLine{
		{ItemID: "item-a", Qty: 2},
	}, 4000))
	var payErr *store.InsufficientPaymentError
	if !errors.As(err, &payErr) {
		t.Fatalf("expected insufficient payment error, got %v", err)
	}
	if payErr.ShortfallCents != 1000 {
		t.Fatalf("unexpected shortfall %d", payErr.ShortfallCents)
	}
}

func TestCommitSaleRejectsDuplicateReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "item-a", "Apel", 2500, 30)

	bill := testBill([]domain.BillLine{{ItemID: "item-a", Qty: 1}}, 5000)
	if _, err := s.CommitSale(ctx, bill); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	dup := bill
	dup.ID = bill.ID + "-2"
	if _, err := s.CommitSale(ctx, dup); !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference error, got %v", err)
	}
}

func TestMarkBillReprinted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "item-a", "Apel", 2500, 30)

	committed, err := s.CommitSale(ctx, testBill([]domain.BillLine{{ItemID: "item-a", Qty: 1}}, 5000))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	reprinted, err := s.MarkBillReprinted(ctx, committed.ID)
	if err != nil {
		t.Fatalf("reprint failed: %v", err)
	}
	if reprinted.Status != domain.BillStatusReprinted {
		t.Fatalf("expected reprinted status, got %s", reprinted.Status)
	}
}

func TestListBillsFiltersByRangeAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "item-a", "Apel", 2500, 30)

	first, err := s.CommitSale(ctx, testBill([]domain.BillLine{{ItemID: "item-a", Qty: 1}}, 5000))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.CommitSale(ctx, testBill([]domain.BillLine{{ItemID: "item-a", Qty: 2}}, 8000)); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	if _, err := s.MarkBillReprinted(ctx, first.ID); err != nil {
		t.Fatalf("reprint failed: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	all, err := s.ListBills(ctx, from, to, "", 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 bills, got %d", len(all))
	}

	reprinted, err := s.ListBills(ctx, from, to, domain.BillStatusReprinted, 100)
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(reprinted) != 1 || reprinted[0].ID != first.ID {
		t.Fatalf("unexpected filtered bills %+v", reprinted)
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := domain.AuditLog{
		ActorUsername: "admin",
		ActorRole:     "admin",
		Action:        "item.create",
		EntityType:    "stock_item",
		EntityID:      "item-a",
	}
	if err := s.CreateAuditLog(ctx, entry); err != nil {
		t.Fatalf("create audit log failed: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	logs, err := s.ListAuditLogs(ctx, from, to, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "item.create" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestUserAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateUser(ctx, domain.UserAccount{
		Username: "kasir1", Password: "$2a$10$fakehash", Role: "cashier", Active: true,
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	if err := s.UpdateUserPassword(ctx, "kasir1", "$2a$10$otherhash"); err != nil {
		t.Fatalf("update password failed: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 || users[0].Password != "$2a$10$otherhash" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestCommitSaleRepeatedLinesRollBackAndReportLiveStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "item-gula", "Gula Pasir", 1500, 5)

	_, err := s.CommitSale(ctx, testBill([]domain.BillLine{
		{ItemID: "item-gula", Qty: 3},
		{ItemID: "item-gula", Qty: 3},
	}, 20000))
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	// The first line's decrement already went through inside the tx, so the
	// payload must carry what was left at that point, not the pre-tx value.
	if stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("unexpected payload available=%d requested=%d", stockErr.Available, stockErr.Requested)
	}

	after, err := s.GetItem(ctx, "item-gula")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if after.CurrentStock != 5 {
		t.Fatalf("rollback must restore stock 5, got %d", after.CurrentStock)
	}
}
