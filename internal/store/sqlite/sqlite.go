// Package sqlite implements the store.Repository on an embedded SQLite
// database. It is the default backend for single-shop deployments where
// running a Postgres server is not worth the trouble.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tokopos/backend/internal/billref"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock_items (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    price_cents     INTEGER NOT NULL CHECK (price_cents >= 0),
    current_stock   INTEGER NOT NULL CHECK (current_stock >= 0),
    low_stock_alert INTEGER NOT NULL DEFAULT 0,
    barcode         TEXT,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_items_barcode
    ON stock_items(barcode) WHERE barcode IS NOT NULL;

CREATE TABLE IF NOT EXISTS bills (
    id               TEXT PRIMARY KEY,
    reference_number TEXT NOT NULL UNIQUE,
    barcode          TEXT NOT NULL UNIQUE,
    subtotal_cents   INTEGER NOT NULL,
    discount_cents   INTEGER NOT NULL DEFAULT 0,
    discount_kind    TEXT,
    discount_value   REAL NOT NULL DEFAULT 0,
    total_cents      INTEGER NOT NULL,
    paid_cents       INTEGER NOT NULL,
    change_cents     INTEGER NOT NULL,
    customer_name    TEXT,
    status           TEXT NOT NULL DEFAULT 'completed',
    created_at       DATETIME NOT NULL,
    created_by       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_bills_created_at ON bills(created_at);

CREATE TABLE IF NOT EXISTS bill_lines (
    id               INTEGER PRIMARY KEY,
    bill_id          TEXT NOT NULL REFERENCES bills(id),
    item_id          TEXT NOT NULL,
    item_name        TEXT NOT NULL,
    qty              INTEGER NOT NULL CHECK (qty > 0),
    unit_price_cents INTEGER NOT NULL,
    line_total_cents INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bill_lines_bill ON bill_lines(bill_id);

CREATE TABLE IF NOT EXISTS audit_logs (
    id             TEXT PRIMARY KEY,
    actor_username TEXT NOT NULL,
    actor_role     TEXT NOT NULL,
    action         TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    entity_id      TEXT NOT NULL DEFAULT '',
    detail         TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);

CREATE TABLE IF NOT EXISTS app_users (
    username   TEXT PRIMARY KEY,
    password   TEXT NOT NULL,
    role       TEXT NOT NULL CHECK (role IN ('admin', 'cashier')),
    active     INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type Store struct {
	db *sql.DB
}

// Open opens the SQLite file at path, configures pragmas and makes sure
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, current_stock, low_stock_alert, COALESCE(barcode,'')
		FROM stock_items
		ORDER BY category, name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 128)
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.PriceCents, &item.CurrentStock, &item.LowStockAlert, &item.Barcode); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.StockItem, error) {
	var item domain.StockItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price_cents, current_stock, low_stock_alert, COALESCE(barcode,'')
		FROM stock_items
		WHERE id = ?
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.PriceCents, &item.CurrentStock, &item.LowStockAlert, &item.Barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.StockItem, error) {
	result := make(map[string]domain.StockItem, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result[item.ID] = *item
	}
	return result, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.Name == "" || item.PriceCents < 0 || item.CurrentStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = billref.NewID("item")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, category, price_cents, current_stock, low_stock_alert, barcode)
		VALUES (?,?,?,?,?,?,?)
	`, item.ID, item.Name, item.Category, item.PriceCents, item.CurrentStock, item.LowStockAlert, nullIfEmpty(item.Barcode))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, fmt.Errorf("creating item: %w", err)
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" || item.PriceCents < 0 || item.CurrentStock < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_items
		SET name = ?, category = ?, price_cents = ?, current_stock = ?, low_stock_alert = ?, barcode = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, item.Name, item.Category, item.PriceCents, item.CurrentStock, item.LowStockAlert, nullIfEmpty(item.Barcode), item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, fmt.Errorf("updating item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CommitSale revalidates every line against live stock, persists the bill
// and decrements stock inside a single transaction. SQLite serializes
// writers, so the conditional decrement guard below is the last line of
// defense rather than the primary one; it still keeps stock from ever
// going negative if two processes share the file.
func (s *Store) CommitSale(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Lines) == 0 || bill.ID == "" || bill.ReferenceNumber == "" || bill.Barcode == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sale transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	subtotal := int64(0)
	repriced := make([]domain.BillLine, 0, len(bill.Lines))
	for _, line := range bill.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}

		var item domain.StockItem
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, price_cents, current_stock
			FROM stock_items
			WHERE id = ?
		`, line.ItemID).Scan(&item.ID, &item.Name, &item.PriceCents, &item.CurrentStock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrStaleItem
			}
			return nil, err
		}
		if item.CurrentStock < line.Qty {
			return nil, &store.InsufficientStockError{
				ItemName:  item.Name,
				Available: item.CurrentStock,
				Requested: line.Qty,
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
		res, err := tx.ExecContext(ctx, `
			UPDATE stock_items
			SET current_stock = current_stock - ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND current_stock >= ?
		`, line.Qty, line.ItemID, line.Qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// Report the row's current value, not the revalidation snapshot:
			// an earlier line in this bill may already have decremented it.
			available := 0
			err := tx.QueryRowContext(ctx, `
				SELECT current_stock FROM stock_items WHERE id = ?
			`, line.ItemID).Scan(&available)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			return nil, &store.InsufficientStockError{
				ItemName:  line.ItemName,
				Available: available,
				Requested: line.Qty,
			}
		}
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (
			id, reference_number, barcode, subtotal_cents, discount_cents,
			discount_kind, discount_value, total_cents, paid_cents, change_cents,
			customer_name, status, created_at, created_by
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, bill.ID, bill.ReferenceNumber, bill.Barcode, bill.SubtotalCents, bill.DiscountCents,
		nullIfEmpty(bill.DiscountKind), bill.DiscountValue, bill.TotalCents, bill.PaidCents, bill.ChangeCents,
		nullIfEmpty(bill.CustomerName), bill.Status, bill.CreatedAt, bill.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReference
		}
		return nil, fmt.Errorf("inserting bill: %w", err)
	}

	for _, line := range bill.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bill_lines (bill_id, item_id, item_name, qty, unit_price_cents, line_total_cents)
			VALUES (?,?,?,?,?,?)
		`, line.BillID, line.ItemID, line.ItemName, line.Qty, line.UnitPriceCents, line.LineTotalCents)
		if err != nil {
			return nil, fmt.Errorf("inserting bill line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing sale: %w", err)
	}
	return &bill, nil
}

func (s *Store) FindBillByID(ctx context.Context, id string) (*domain.Bill, error) {
	return s.findBill(ctx, `WHERE id = ?`, id)
}

func (s *Store) FindBillByBarcode(ctx context.Context, barcode string) (*domain.Bill, error) {
	return s.findBill(ctx, `WHERE barcode = ?`, barcode)
}

func (s *Store) FindBillByReference(ctx context.Context, reference string) (*domain.Bill, error) {
	return s.findBill(ctx, `WHERE reference_number = ?`, reference)
}

func (s *Store) findBill(ctx context.Context, where string, value string) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference_number, barcode, subtotal_cents, discount_cents,
			COALESCE(discount_kind,''), discount_value, total_cents, paid_cents, change_cents,
			COALESCE(customer_name,''), status, created_at, created_by
		FROM bills `+where, value).Scan(
		&bill.ID, &bill.ReferenceNumber, &bill.Barcode, &bill.SubtotalCents, &bill.DiscountCents,
		&bill.DiscountKind, &bill.DiscountValue, &bill.TotalCents, &bill.PaidCents, &bill.ChangeCents,
		&bill.CustomerName, &bill.Status, &bill.CreatedAt, &bill.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("finding bill: %w", err)
	}
	bill.CreatedAt = bill.CreatedAt.UTC()

	lines, err := s.billLines(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Lines = lines
	return &bill, nil
}

func (s *Store) billLines(ctx context.Context, billID string) ([]domain.BillLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, item_id, item_name, qty, unit_price_cents, line_total_cents
		FROM bill_lines
		WHERE bill_id = ?
		ORDER BY id ASC
	`, billID)
	if err != nil {
		return nil, fmt.Errorf("listing bill lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.BillLine, 0, 8)
	for rows.Next() {
		var line domain.BillLine
		if err := rows.Scan(&line.BillID, &line.ItemID, &line.ItemName, &line.Qty, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) ListBills(ctx context.Context, from time.Time, to time.Time, status string, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference_number, barcode, subtotal_cents, discount_cents,
			COALESCE(discount_kind,''), discount_value, total_cents, paid_cents, change_cents,
			COALESCE(customer_name,''), status, created_at, created_by
		FROM bills
		WHERE created_at >= ? AND created_at < ?
			AND (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, from, to, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, limit)
	for rows.Next() {
		var bill domain.Bill
		if err := rows.Scan(
			&bill.ID, &bill.ReferenceNumber, &bill.Barcode, &bill.SubtotalCents, &bill.DiscountCents,
			&bill.DiscountKind, &bill.DiscountValue, &bill.TotalCents, &bill.PaidCents, &bill.ChangeCents,
			&bill.CustomerName, &bill.Status, &bill.CreatedAt, &bill.CreatedBy,
		); err != nil {
			return nil, err
		}
		bill.CreatedAt = bill.CreatedAt.UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		lines, err := s.billLines(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Lines = lines
	}
	return bills, nil
}

func (s *Store) MarkBillReprinted(ctx context.Context, id string) (*domain.Bill, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = ? WHERE id = ?
	`, domain.BillStatusReprinted, id)
	if err != nil {
		return nil, fmt.Errorf("marking bill reprinted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.FindBillByID(ctx, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = billref.NewID("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES (?,?,?,?,?)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = ?, updated_at = CURRENT_TIMESTAMP WHERE username = ?
	`, password, username)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
