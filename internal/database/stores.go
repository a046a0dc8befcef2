package database

import (
	"context"

	"github.com/pricehawk/scan-service/internal/scan"
	"github.com/pricehawk/scan-service/internal/types"
)

// ScanStore adapts the repositories to the scan engine's persistence surface
type ScanStore struct{}

var _ scan.Store = ScanStore{}

func (ScanStore) ListExclusions(ctx context.Context, store string) ([]types.ProductExclusion, error) {
	return ListExclusions(ctx, store)
}

func (ScanStore) BatchUpdateCategoryStats(ctx context.Context, updates []scan.CategoryStatsUpdate) error {
	return BatchUpdateCategoryStats(ctx, updates)
}

func (ScanStore) SetCategoryEnabled(ctx context.Context, categoryID string, enabled bool) error {
	return SetCategoryEnabled(ctx, categoryID, enabled)
}

func (ScanStore) CreateScanJob(ctx context.Context, job *types.ScanJob) error {
	return CreateScanJob(ctx, job)
}

func (ScanStore) UpdateScanJob(ctx context.Context, job *types.ScanJob) error {
	return UpdateScanJob(ctx, job)
}

// ProxyStore adapts the repositories to the proxy pool's persistence surface
type ProxyStore struct{}

func (ProxyStore) ListEnabledProxies(ctx context.Context) ([]types.Proxy, error) {
	return ListEnabledProxies(ctx)
}

func (ProxyStore) BumpProxyCounters(ctx context.Context, id string, success bool) error {
	return BumpProxyCounters(ctx, id, success)
}
