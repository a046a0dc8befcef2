package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pricehawk/scan-service/internal/types"
)

const proxyColumns = `
	id, host, port, username, password, type, enabled,
	success_count, failure_count, consecutive_403s, last_used_at, last_success_at
`

func scanProxy(row pgx.Row) (*types.Proxy, error) {
	var p types.Proxy
	err := row.Scan(
		&p.ID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Type, &p.Enabled,
		&p.SuccessCount, &p.FailureCount, &p.Consecutive403s, &p.LastUsedAt, &p.LastSuccessAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProxies returns all proxies
func ListProxies(ctx context.Context) ([]types.Proxy, error) {
	return listProxies(ctx, `SELECT `+proxyColumns+` FROM proxies ORDER BY type, host`)
}

// ListEnabledProxies returns the proxies eligible for pool selection
func ListEnabledProxies(ctx context.Context) ([]types.Proxy, error) {
	return listProxies(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE enabled = true ORDER BY type, host`)
}

func listProxies(ctx context.Context, query string) ([]types.Proxy, error) {
	rows, err := Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing proxies: %w", err)
	}
	defer rows.Close()

	var proxies []types.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning proxy row: %w", err)
		}
		proxies = append(proxies, *p)
	}
	return proxies, rows.Err()
}

// CreateProxy inserts a proxy row
func CreateProxy(ctx context.Context, p *types.Proxy) error {
	_, err := Pool().Exec(ctx, `
		INSERT INTO proxies (id, host, port, username, password, type, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Host, p.Port, p.Username, p.Password, p.Type, p.Enabled)
	if err != nil {
		return fmt.Errorf("error creating proxy %s: %w", p.ID, err)
	}
	return nil
}

// SetProxyEnabled flips the enabled flag. Strike-outs never call this;
// disabling is operator-only.
func SetProxyEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := Pool().Exec(ctx, `UPDATE proxies SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("error toggling proxy %s: %w", id, err)
	}
	return nil
}

// BumpProxyCounters records one request outcome against a proxy
func BumpProxyCounters(ctx context.Context, id string, success bool) error {
	var err error
	if success {
		_, err = Pool().Exec(ctx, `
			UPDATE proxies SET
				success_count = success_count + 1,
				consecutive_403s = 0,
				last_used_at = now(),
				last_success_at = now()
			WHERE id = $1
		`, id)
	} else {
		_, err = Pool().Exec(ctx, `
			UPDATE proxies SET
				failure_count = failure_count + 1,
				last_used_at = now()
			WHERE id = $1
		`, id)
	}
	if err != nil {
		return fmt.Errorf("error bumping proxy counters for %s: %w", id, err)
	}
	return nil
}
