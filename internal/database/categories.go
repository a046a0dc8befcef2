package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricehawk/scan-service/internal/pkg/cuid2"
	"github.com/pricehawk/scan-service/internal/scan"
	"github.com/pricehawk/scan-service/internal/types"
)

const categoryColumns = `
	id, store, name, url, enabled, priority, scan_interval_minutes, max_pages,
	include_keywords, exclude_keywords, include_brands, exclude_brands,
	min_price, max_price, min_discount_percent,
	last_scanned_at, last_error, last_error_at, products_found, deals_found,
	created_at, updated_at
`

func scanCategory(row pgx.Row) (*types.Category, error) {
	var c types.Category
	err := row.Scan(
		&c.ID, &c.Store, &c.Name, &c.URL, &c.Enabled, &c.Priority,
		&c.ScanIntervalMin, &c.MaxPages,
		&c.IncludeKeywords, &c.ExcludeKeywords, &c.IncludeBrands, &c.ExcludeBrands,
		&c.MinPrice, &c.MaxPrice, &c.MinDiscountPercent,
		&c.LastScannedAt, &c.LastError, &c.LastErrorAt,
		&c.ProductsFound, &c.DealsFound,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCategories returns all categories, optionally filtered to enabled ones
func ListCategories(ctx context.Context, enabledOnly bool) ([]*types.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY priority DESC, name`

	rows, err := Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing categories: %w", err)
	}
	defer rows.Close()

	var categories []*types.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning category row: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory fetches one category by ID
func GetCategory(ctx context.Context, id string) (*types.Category, error) {
	row := Pool().QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	c, err := scanCategory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching category %s: %w", id, err)
	}
	return c, nil
}

// CreateCategory inserts a category, generating its ID when absent
func CreateCategory(ctx context.Context, c *types.Category) error {
	if c.ID == "" {
		c.ID = cuid2.NewCategoryID()
	}
	c.ClampPriority()
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := Pool().Exec(ctx, `
		INSERT INTO categories (
			id, store, name, url, enabled, priority, scan_interval_minutes, max_pages,
			include_keywords, exclude_keywords, include_brands, exclude_brands,
			min_price, max_price, min_discount_percent, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
	`,
		c.ID, c.Store, c.Name, c.URL, c.Enabled, c.Priority, c.ScanIntervalMin, c.MaxPages,
		c.IncludeKeywords, c.ExcludeKeywords, c.IncludeBrands, c.ExcludeBrands,
		c.MinPrice, c.MaxPrice, c.MinDiscountPercent, now,
	)
	if err != nil {
		return fmt.Errorf("error creating category %s: %w", c.Name, err)
	}
	return nil
}

// UpdateCategory rewrites the editable fields of a category
func UpdateCategory(ctx context.Context, c *types.Category) error {
	c.ClampPriority()
	tag, err := Pool().Exec(ctx, `
		UPDATE categories SET
			store = $2, name = $3, url = $4, enabled = $5, priority = $6,
			scan_interval_minutes = $7, max_pages = $8,
			include_keywords = $9, exclude_keywords = $10,
			include_brands = $11, exclude_brands = $12,
			min_price = $13, max_price = $14, min_discount_percent = $15,
			updated_at = now()
		WHERE id = $1
	`,
		c.ID, c.Store, c.Name, c.URL, c.Enabled, c.Priority,
		c.ScanIntervalMin, c.MaxPages,
		c.IncludeKeywords, c.ExcludeKeywords, c.IncludeBrands, c.ExcludeBrands,
		c.MinPrice, c.MaxPrice, c.MinDiscountPercent,
	)
	if err != nil {
		return fmt.Errorf("error updating category %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %s not found", c.ID)
	}
	return nil
}

// DeleteCategory removes a category
func DeleteCategory(ctx context.Context, id string) error {
	_, err := Pool().Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting category %s: %w", id, err)
	}
	return nil
}

// SetCategoryEnabled flips the enabled flag
func SetCategoryEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := Pool().Exec(ctx, `UPDATE categories SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("error toggling category %s: %w", id, err)
	}
	return nil
}

// BatchUpdateCategoryStats writes post-scan bookkeeping in one batch
func BatchUpdateCategoryStats(ctx context.Context, updates []scan.CategoryStatsUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE categories SET
				last_scanned_at = $2,
				products_found = $3,
				deals_found = $4,
				last_error = $5,
				last_error_at = $6,
				updated_at = now()
			WHERE id = $1
		`, u.CategoryID, u.ScannedAt, u.ProductsFound, u.DealsFound, u.LastError, u.LastErrorAt)
	}

	results := Pool().SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("error updating category stats: %w", err)
		}
	}
	return nil
}
