// Package delta skips products whose listing state is unchanged since the
// last scan, keyed by a price-state hash in Redis.
package delta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/types"
)

const keyPrefix = "delta:"

// Detector tracks per-product price-state hashes
type Detector struct {
	rdb     *redis.Client
	ttl     time.Duration
	enabled bool
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// New creates a delta detector. When disabled, every product passes through.
func New(rdb *redis.Client, ttl time.Duration, enabled bool, rec *metrics.Recorder, logger zerolog.Logger) *Detector {
	return &Detector{
		rdb:     rdb,
		ttl:     ttl,
		enabled: enabled,
		metrics: rec,
		logger:  logger.With().Str("component", "delta_detector").Logger(),
	}
}

// Enabled reports whether delta filtering is active
func (d *Detector) Enabled() bool { return d.enabled }

// Hash digests the listing state that matters for re-processing. An
// absent price hashes as "0", distinct from a present 0.00.
func Hash(p types.DiscoveredProduct) string {
	sum := sha256.Sum256([]byte(p.SKU + "|" + priceToken(p.CurrentPrice) + "|" + priceToken(p.OriginalPrice)))
	return hex.EncodeToString(sum[:16])
}

func priceToken(v *float64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func (d *Detector) key(store, sku string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, store, sku)
}

// HasChanged reports whether the product's state differs from the stored
// hash. Products never seen before always count as changed.
func (d *Detector) HasChanged(ctx context.Context, p types.DiscoveredProduct, store string) (bool, error) {
	if !d.enabled {
		return true, nil
	}
	prior, err := d.rdb.Get(ctx, d.key(store, p.SKU)).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return prior != Hash(p), nil
}

// FilterChanged returns only products whose state hash differs from the
// stored one. Redis errors fail open: a product we cannot check is treated
// as changed.
func (d *Detector) FilterChanged(ctx context.Context, products []types.DiscoveredProduct, store string) []types.DiscoveredProduct {
	if !d.enabled || len(products) == 0 {
		return products
	}

	keys := make([]string, len(products))
	for i, p := range products {
		keys[i] = d.key(store, p.SKU)
	}
	prior, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		d.logger.Warn().Err(err).Str("store", store).Msg("Delta lookup failed, passing batch through")
		return products
	}

	changed := products[:0]
	skipped := 0
	for i, p := range products {
		stored, _ := prior[i].(string)
		if stored == "" || stored != Hash(p) {
			changed = append(changed, p)
		} else {
			skipped++
		}
	}

	if d.metrics != nil {
		d.metrics.RecordDeltaSkipped(store, skipped)
		d.metrics.RecordDeltaChanged(store, len(changed))
	}
	if skipped > 0 {
		d.logger.Debug().Str("store", store).Int("skipped", skipped).Int("changed", len(changed)).Msg("Delta filter applied")
	}
	return changed
}

// MarkSeen writes the current hashes with TTL so the next scan can skip
// unchanged products
func (d *Detector) MarkSeen(ctx context.Context, products []types.DiscoveredProduct, store string) error {
	if !d.enabled || len(products) == 0 {
		return nil
	}
	pipe := d.rdb.Pipeline()
	for _, p := range products {
		pipe.Set(ctx, d.key(store, p.SKU), Hash(p), d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark seen for %s: %w", store, err)
	}
	return nil
}

// Invalidate drops one product's stored hash
func (d *Detector) Invalidate(ctx context.Context, store, sku string) error {
	return d.rdb.Del(ctx, d.key(store, sku)).Err()
}

// InvalidateStore drops every stored hash for a store using cursor SCAN
func (d *Detector) InvalidateStore(ctx context.Context, store string) (int, error) {
	pattern := keyPrefix + store + ":*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := d.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := d.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
