package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokopos/backend/internal/billref"
	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	bills    cache.BillCache
	refs     *billref.Generator
	shopName string
	cacheTTL time.Duration
}

func New(repo store.Repository, bills cache.BillCache, shopName string, cacheTTL time.Duration) *Service {
	if bills == nil {
		bills = cache.NoopBillCache{}
	}
	if shopName == "" {
		shopName = "TokoPOS"
	}
	if cacheTTL < 1 {
		cacheTTL = 5 * time.Minute
	}

	return &Service{
		repo:     repo,
		bills:    bills,
		refs:     billref.NewGenerator(),
		shopName: shopName,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.StockItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.StockItem, error) {
	return s.repo.GetItem(ctx, id)
}

// ListLowStockItems returns items whose stock is at or below their alert
// threshold. Items with a zero threshold never alert.
func (s *Service) ListLowStockItems(ctx context.Context) ([]domain.StockItem, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]domain.StockItem, 0, 8)
	for _, item := range items {
		if item.LowStockAlert > 0 && item.CurrentStock <= item.LowStockAlert {
			low = append(low, item)
		}
	}
	return low, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.StockItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StockItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 0 || req.InitialStock < 0 || req.LowStockAlert < 0 {
		return domain.StockItem{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateItem(ctx, domain.StockItem{
		ID:            billref.NewID("item"),
		Name:          req.Name,
		Category:      strings.TrimSpace(req.Category),
		PriceCents:    req.PriceCents,
		CurrentStock:  req.InitialStock,
		LowStockAlert: req.LowStockAlert,
		Barcode:       strings.TrimSpace(req.Barcode),
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, "item.create", "stock_item", created.ID, fmt.Sprintf("name=%s stock=%d", created.Name, created.CurrentStock))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.StockItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StockItem{}, err
	}

	existing, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}

	item := *existing
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		item.PriceCents = *req.PriceCents
	}
	if req.CurrentStock != nil {
		item.CurrentStock = *req.CurrentStock
	}
	if req.LowStockAlert != nil {
		item.LowStockAlert = *req.LowStockAlert
	}
	if req.Barcode != nil {
		item.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if item.Name == "" || item.PriceCents < 0 || item.CurrentStock < 0 || item.LowStockAlert < 0 {
		return domain.StockItem{}, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateItem(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, "item.update", "stock_item", updated.ID, fmt.Sprintf("name=%s stock=%d price=%d", updated.Name, updated.CurrentStock, updated.PriceCents))
	return *updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "item.delete", "stock_item", id, "")
	return nil
}

// CommitSale turns a checkout request into a persisted bill. Lines are
// revalidated and repriced against live stock inside the repository's
// transactional CommitSale; the precondition checks here exist to reject
// obviously bad requests before allocating identifiers.
func (s *Service) CommitSale(ctx context.Context, req domain.CheckoutRequest) (domain.Bill, error) {
	if len(req.Lines) == 0 {
		return domain.Bill{}, store.ErrInvalidInput
	}

	subtotal := int64(0)
	lines := make([]domain.BillLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ItemID == "" || line.Qty < 1 {
			return domain.Bill{}, store.ErrInvalidInput
		}
		lines = append(lines, domain.BillLine{
			ItemID: line.ItemID,
			Qty:    line.Qty,
		})
		subtotal += line.UnitPriceCents * int64(line.Qty)
	}

	if req.Discount.Kind != "" {
		switch req.Discount.Kind {
		case domain.DiscountPercentage:
			if req.Discount.Value < 0 || req.Discount.Value > 100 {
				return domain.Bill{}, store.ErrInvalidInput
			}
		case domain.DiscountFixed:
			if req.Discount.Value < 0 {
				return domain.Bill{}, store.ErrInvalidInput
			}
		default:
			return domain.Bill{}, store.ErrInvalidInput
		}
	}

	// Cheap first-pass payment check against the cart's snapshot prices.
	// The repository repeats it against live prices inside the transaction.
	estimatedTotal := subtotal - req.Discount.Cents(subtotal)
	if req.PaidCents < estimatedTotal {
		return domain.Bill{}, &store.InsufficientPaymentError{ShortfallCents: estimatedTotal - req.PaidCents}
	}

	actor, _ := ActorFromContext(ctx)

	// Reference numbers carry a timestamp component, so a collision means
	// two commits raced into the same instant. One retry with fresh
	// identifiers resolves it; a second collision is genuinely wrong.
	for attempt := 0; attempt < 2; attempt++ {
		reference, barcode := s.refs.Next(time.Now())
		bill := domain.Bill{
			ID:              billref.NewID("bill"),
			ReferenceNumber: reference,
			Barcode:         barcode,
			DiscountKind:    req.Discount.Kind,
			DiscountValue:   req.Discount.Value,
			PaidCents:       req.PaidCents,
			CustomerName:    strings.TrimSpace(req.CustomerName),
			Status:          domain.BillStatusCompleted,
			CreatedAt:       time.Now().UTC(),
			CreatedBy:       actor.Username,
			Lines:           lines,
		}

		committed, err := s.repo.CommitSale(ctx, bill)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateReference) && attempt == 0 {
				log.Printf("[sale] WARN: bill reference collision on %s, retrying with fresh identifiers", reference)
				continue
			}
			return domain.Bill{}, err
		}

		s.logAudit(ctx, "sale.commit", "bill", committed.ID, fmt.Sprintf("ref=%s total=%d", committed.ReferenceNumber, committed.TotalCents))
		if err := s.bills.Set(ctx, committed.Barcode, committed, s.cacheTTL); err != nil {
			log.Printf("[sale] WARN: failed to cache bill %s: %v", committed.ID, err)
		}
		return *committed, nil
	}

	return domain.Bill{}, store.ErrDuplicateReference
}

func (s *Service) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindBillByID(ctx, id)
}

// LookupBillByBarcode serves the receipt-scan path. Cache first, then the
// repository; a repository hit backfills the cache.
func (s *Service) LookupBillByBarcode(ctx context.Context, barcode string) (*domain.Bill, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrInvalidInput
	}

	if bill, found, err := s.bills.Get(ctx, barcode); err != nil {
		log.Printf("[sale] WARN: bill cache lookup failed for %s: %v", barcode, err)
	} else if found {
		return bill, nil
	}

	bill, err := s.repo.FindBillByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if err := s.bills.Set(ctx, barcode, bill, s.cacheTTL); err != nil {
		log.Printf("[sale] WARN: failed to cache bill %s: %v", bill.ID, err)
	}
	return bill, nil
}

// LookupBillByReference finds a bill by its human-facing invoice number,
// the fallback when a receipt barcode will not scan.
func (s *Service) LookupBillByReference(ctx context.Context, reference string) (*domain.Bill, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindBillByReference(ctx, reference)
}

func (s *Service) ListBills(ctx context.Context, from time.Time, to time.Time, status string, limit int) ([]domain.Bill, error) {
	if to.Before(from) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListBills(ctx, from, to, status, limit)
}

// ReprintBill marks the bill reprinted and returns the rendered receipt so
// the caller can push it straight to the printer bridge.
func (s *Service) ReprintBill(ctx context.Context, id string) (domain.ReceiptResponse, error) {
	if strings.TrimSpace(id) == "" {
		return domain.ReceiptResponse{}, store.ErrInvalidInput
	}

	bill, err := s.repo.MarkBillReprinted(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	if err := s.bills.Invalidate(ctx, bill.Barcode); err != nil {
		log.Printf("[sale] WARN: failed to invalidate cached bill %s: %v", bill.ID, err)
	}
	s.logAudit(ctx, "bill.reprint", "bill", bill.ID, "ref="+bill.ReferenceNumber)

	return domain.ReceiptResponse{
		BillID:      bill.ID,
		Reference:   bill.ReferenceNumber,
		PreviewText: s.renderReceipt(bill),
	}, nil
}

func (s *Service) renderReceipt(bill *domain.Bill) string {
	lines := []string{
		s.shopName,
		"========================",
		"Ref : " + bill.ReferenceNumber,
		"Date: " + bill.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if bill.CustomerName != "" {
		lines = append(lines, "Cust: "+bill.CustomerName)
	}
	lines = append(lines, "------------------------")
	for _, line := range bill.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d", line.ItemName, line.Qty))
		lines = append(lines, fmt.Sprintf("  %d", line.LineTotalCents))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %d", bill.SubtotalCents),
		fmt.Sprintf("Diskon   : %d", bill.DiscountCents),
		fmt.Sprintf("Total    : %d", bill.TotalCents),
		fmt.Sprintf("Bayar    : %d", bill.PaidCents),
		fmt.Sprintf("Kembali  : %d", bill.ChangeCents),
		"========================",
		"Terima kasih",
		"",
	)
	return strings.Join(lines, "\n")
}

// SalesSummary aggregates committed bills over [from, to) by calendar day
// boundaries expressed as yyyy-mm-dd strings. An empty from or to defaults
// to today.
func (s *Service) SalesSummary(ctx context.Context, fromDate string, toDate string) (domain.SalesSummary, error) {
	from, err := parseDay(fromDate)
	if err != nil {
		return domain.SalesSummary{}, store.ErrInvalidInput
	}
	to, err := parseDay(toDate)
	if err != nil {
		return domain.SalesSummary{}, store.ErrInvalidInput
	}
	to = to.Add(24 * time.Hour)
	if to.Before(from) {
		return domain.SalesSummary{}, store.ErrInvalidInput
	}

	bills, err := s.repo.ListBills(ctx, from, to, "", 10000)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		From: from.Format("2006-01-02"),
		To:   to.Add(-24 * time.Hour).Format("2006-01-02"),
	}
	for _, bill := range bills {
		summary.BillCount++
		summary.GrossCents += bill.SubtotalCents
		summary.DiscountCents += bill.DiscountCents
		summary.NetCents += bill.TotalCents
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	day, err := parseDay(date)
	if err != nil {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListAuditLogs(ctx, day, day.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            billref.NewID("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", store.ErrInvalidInput)
	}
	return nil
}

func parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
