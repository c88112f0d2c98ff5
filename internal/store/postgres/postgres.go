package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/billref"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
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
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.StockItem, error) {
	var item domain.StockItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price_cents, current_stock, low_stock_alert, COALESCE(barcode,'')
		FROM stock_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.PriceCents, &item.CurrentStock, &item.LowStockAlert, &item.Barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.StockItem, error) {
	result := make(map[string]domain.StockItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, current_stock, low_stock_alert, COALESCE(barcode,'')
		FROM stock_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.PriceCents, &item.CurrentStock, &item.LowStockAlert, &item.Barcode); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
		INSERT INTO stock_items (id, name, category, price_cents, current_stock, low_stock_alert, barcode, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, item.ID, item.Name, item.Category, item.PriceCents, item.CurrentStock, item.LowStockAlert, nullIfEmpty(item.Barcode))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
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
		SET name = $2, category = $3, price_cents = $4, current_stock = $5, low_stock_alert = $6, barcode = $7, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.PriceCents, item.CurrentStock, item.LowStockAlert, nullIfEmpty(item.Barcode))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = $1`, id)
	if err != nil {
		return err
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

// CommitSale is the transactional boundary of a sale: revalidate stock
// against the locked live rows, persist the bill and its lines, and decrement
// stock with a conditional guard, all inside one serializable transaction.
// Any error rolls the whole unit back.
func (s *Store) CommitSale(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Lines) == 0 || bill.ID == "" || bill.ReferenceNumber == "" || bill.Barcode == "" {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueItemIDs(bill.Lines)
	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, price_cents, current_stock
		FROM stock_items
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	itemMap := make(map[string]domain.StockItem, len(ids))
	for itemRows.Next() {
		var item domain.StockItem
		if err := itemRows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.CurrentStock); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		itemMap[item.ID] = item
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	subtotal := int64(0)
	repriced := make([]domain.BillLine, 0, len(bill.Lines))
	for _, line := range bill.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		item, exists := itemMap[line.ItemID]
		if !exists {
			return nil, store.ErrStaleItem
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
		res, err := pgTx.ExecContext(ctx, `
			UPDATE stock_items
			SET current_stock = current_stock - $1, updated_at = now()
			WHERE id = $2 AND current_stock >= $1
		`, line.Qty, line.ItemID)
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
			err := pgTx.QueryRowContext(ctx, `
				SELECT current_stock FROM stock_items WHERE id = $1
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, reference_number, barcode, subtotal_cents, discount_cents,
			discount_kind, discount_value, total_cents, paid_cents, change_cents,
			customer_name, status, created_at, created_by
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, bill.ID, bill.ReferenceNumber, bill.Barcode, bill.SubtotalCents, bill.DiscountCents,
		nullIfEmpty(bill.DiscountKind), bill.DiscountValue, bill.TotalCents, bill.PaidCents, bill.ChangeCents,
		nullIfEmpty(bill.CustomerName), bill.Status, bill.CreatedAt, bill.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReference
		}
		return nil, err
	}

	for _, line := range bill.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO bill_lines (bill_id, item_id, item_name, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, line.BillID, line.ItemID, line.ItemName, line.Qty, line.UnitPriceCents, line.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) FindBillByID(ctx context.Context, id string) (*domain.Bill, error) {
	return s.findBill(ctx, "id", id)
}

func (s *Store) FindBillByBarcode(ctx context.Context, barcode string) (*domain.Bill, error) {
	return s.findBill(ctx, "barcode", barcode)
}

func (s *Store) FindBillByReference(ctx context.Context, reference string) (*domain.Bill, error) {
	return s.findBill(ctx, "reference_number", reference)
}

func (s *Store) findBill(ctx context.Context, column string, value string) (*domain.Bill, error) {
	if column != "id" && column != "barcode" && column != "reference_number" {
		return nil, store.ErrInvalidInput
	}

	var bill domain.Bill
	query := `
		SELECT id, reference_number, barcode, subtotal_cents, discount_cents,
			COALESCE(discount_kind,''), discount_value, total_cents, paid_cents, change_cents,
			COALESCE(customer_name,''), status, created_at, created_by
		FROM bills
		WHERE ` + column + ` = $1`
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&bill.ID, &bill.ReferenceNumber, &bill.Barcode, &bill.SubtotalCents, &bill.DiscountCents,
		&bill.DiscountKind, &bill.DiscountValue, &bill.TotalCents, &bill.PaidCents, &bill.ChangeCents,
		&bill.CustomerName, &bill.Status, &bill.CreatedAt, &bill.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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
		WHERE bill_id = $1
		ORDER BY id ASC
	`, billID)
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
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
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, from, to, status, limit)
	if err != nil {
		return nil, err
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
		UPDATE bills
		SET status = $2
		WHERE id = $1
	`, id, domain.BillStatusReprinted)
	if err != nil {
		return nil, err
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
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

func uniqueItemIDs(lines []domain.BillLine) []string {
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == "" {
			continue
		}
		set[line.ItemID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
