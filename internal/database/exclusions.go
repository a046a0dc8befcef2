package database

import (
	"context"
	"fmt"

	"github.com/pricehawk/scan-service/internal/pkg/cuid2"
	"github.com/pricehawk/scan-service/internal/types"
)

// ListExclusions returns the exclusion rules applying to a store, including
// the wildcard ones
func ListExclusions(ctx context.Context, store string) ([]types.ProductExclusion, error) {
	rows, err := Pool().Query(ctx, `
		SELECT id, kind, value, store, comment
		FROM product_exclusions
		WHERE store = $1 OR store = '*'
		ORDER BY kind, value
	`, store)
	if err != nil {
		return nil, fmt.Errorf("error listing exclusions for %s: %w", store, err)
	}
	defer rows.Close()

	var exclusions []types.ProductExclusion
	for rows.Next() {
		var e types.ProductExclusion
		if err := rows.Scan(&e.ID, &e.Kind, &e.Value, &e.Store, &e.Comment); err != nil {
			return nil, fmt.Errorf("error scanning exclusion row: %w", err)
		}
		exclusions = append(exclusions, e)
	}
	return exclusions, rows.Err()
}

// CreateExclusion inserts an exclusion rule
func CreateExclusion(ctx context.Context, e *types.ProductExclusion) error {
	if e.ID == "" {
		e.ID = cuid2.NewExclusionID()
	}
	if e.Store == "" {
		e.Store = "*"
	}
	_, err := Pool().Exec(ctx, `
		INSERT INTO product_exclusions (id, kind, value, store, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Kind, e.Value, e.Store, e.Comment)
	if err != nil {
		return fmt.Errorf("error creating exclusion: %w", err)
	}
	return nil
}

// DeleteExclusion removes an exclusion rule
func DeleteExclusion(ctx context.Context, id string) error {
	_, err := Pool().Exec(ctx, `DELETE FROM product_exclusions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting exclusion %s: %w", id, err)
	}
	return nil
}
