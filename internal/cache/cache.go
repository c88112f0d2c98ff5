package cache

import (
	"context"
	"time"

	"tokopos/backend/internal/domain"
)

// BillCache fronts bill-by-barcode lookups, the hot path when a cashier
// scans a printed receipt for reprinting.
type BillCache interface {
	Get(ctx context.Context, barcode string) (*domain.Bill, bool, error)
	Set(ctx context.Context, barcode string, bill *domain.Bill, ttl time.Duration) error
	Invalidate(ctx context.Context, barcode string) error
}

type NoopBillCache struct{}

func (NoopBillCache) Get(_ context.Context, _ string) (*domain.Bill, bool, error) {
	return nil, false, nil
}

func (NoopBillCache) Set(_ context.Context, _ string, _ *domain.Bill, _ time.Duration) error {
	return nil
}

func (NoopBillCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
