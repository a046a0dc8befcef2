package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricehawk/scan-service/internal/pkg/cuid2"
	"github.com/pricehawk/scan-service/internal/types"
)

const jobColumns = `
	id, kind, status, started_at, completed_at,
	total_categories, completed_categories, total_products, total_deals,
	errors, created_at
`

func scanJob(row pgx.Row) (*types.ScanJob, error) {
	var j types.ScanJob
	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.StartedAt, &j.CompletedAt,
		&j.TotalCategories, &j.CompletedCategories, &j.TotalProducts, &j.TotalDeals,
		&j.Errors, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateScanJob inserts a job row, generating its ID when absent
func CreateScanJob(ctx context.Context, job *types.ScanJob) error {
	if job.ID == "" {
		job.ID = cuid2.NewJobID()
	}
	job.CreatedAt = time.Now()

	_, err := Pool().Exec(ctx, `
		INSERT INTO scan_jobs (id, kind, status, total_categories, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.Kind, job.Status, job.TotalCategories, job.Errors, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating scan job: %w", err)
	}
	return nil
}

// UpdateScanJob persists the job's current lifecycle state
func UpdateScanJob(ctx context.Context, job *types.ScanJob) error {
	_, err := Pool().Exec(ctx, `
		UPDATE scan_jobs SET
			status = $2, started_at = $3, completed_at = $4,
			total_categories = $5, completed_categories = $6,
			total_products = $7, total_deals = $8, errors = $9
		WHERE id = $1
	`,
		job.ID, job.Status, job.StartedAt, job.CompletedAt,
		job.TotalCategories, job.CompletedCategories,
		job.TotalProducts, job.TotalDeals, job.Errors,
	)
	if err != nil {
		return fmt.Errorf("error updating scan job %s: %w", job.ID, err)
	}
	return nil
}

// GetScanJob fetches one job by ID
func GetScanJob(ctx context.Context, id string) (*types.ScanJob, error) {
	row := Pool().QueryRow(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching scan job %s: %w", id, err)
	}
	return job, nil
}

// ListRecentScanJobs returns the newest jobs first
func ListRecentScanJobs(ctx context.Context, limit int) ([]*types.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := Pool().Query(ctx, `SELECT `+jobColumns+` FROM scan_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.ScanJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
