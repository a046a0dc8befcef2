// Package dedupe suppresses identical deals seen across aggregator sites so
// one mispriced listing does not alert once per mirror.
package dedupe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "xsource:"

// Decision is the deduper's verdict for one deal
type Decision string

const (
	Notify   Decision = "notify"
	Suppress Decision = "suppress"
)

var (
	asinPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)
	asinInURL   = regexp.MustCompile(`/(?:dp|product|gp/product)/([A-Za-z0-9]{10})(?:[/?#]|$)`)
)

// NormalizeKey collapses the sku/URL pair onto a stable identity. Amazon
// ASINs surface under different skus on different aggregators, so ASIN-shaped
// values and ASIN-bearing URLs all map to asin:<UPPER>.
func NormalizeKey(sku, url string) string {
	if asinPattern.MatchString(sku) {
		return "asin:" + strings.ToUpper(sku)
	}
	if m := asinInURL.FindStringSubmatch(url); m != nil {
		return "asin:" + strings.ToUpper(m[1])
	}
	return "sku:" + sku
}

// Deduper keeps a short-lived record of the best known price per identity
type Deduper struct {
	rdb         *redis.Client
	ttl         time.Duration
	aggregators map[string]bool
	logger      zerolog.Logger
}

// New creates a cross-source deduper active for the given aggregator store
// tags. The TTL must be at least the scheduler tick, or mirrors scanned in
// consecutive ticks slip through.
func New(rdb *redis.Client, ttl time.Duration, aggregators []string, logger zerolog.Logger) *Deduper {
	set := make(map[string]bool, len(aggregators))
	for _, a := range aggregators {
		set[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Deduper{
		rdb:         rdb,
		ttl:         ttl,
		aggregators: set,
		logger:      logger.With().Str("component", "cross_source_dedupe").Logger(),
	}
}

// IsAggregator reports whether dedupe applies to the store at all
func (d *Deduper) IsAggregator(store string) bool {
	return d.aggregators[strings.ToLower(store)]
}

// Check decides notify/suppress for one deal. Non-aggregator stores always
// notify. Storage errors fail open.
func (d *Deduper) Check(ctx context.Context, store, sku, url string, price float64) (Decision, error) {
	if !d.IsAggregator(store) {
		return Notify, nil
	}

	key := keyPrefix + NormalizeKey(sku, url)
	record := fmt.Sprintf("%s:%s", strings.ToLower(store), strconv.FormatFloat(price, 'f', 2, 64))

	prior, err := d.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		if err := d.rdb.Set(ctx, key, record, d.ttl).Err(); err != nil {
			return Notify, err
		}
		return Notify, nil
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("Dedupe lookup failed, notifying")
		return Notify, err
	}

	oldStore, oldPrice, ok := parseRecord(prior)
	if !ok {
		// Corrupt record: replace and notify
		if err := d.rdb.Set(ctx, key, record, d.ttl).Err(); err != nil {
			return Notify, err
		}
		return Notify, nil
	}

	switch {
	case price < oldPrice:
		if err := d.rdb.Set(ctx, key, record, d.ttl).Err(); err != nil {
			return Notify, err
		}
		return Notify, nil
	case price == oldPrice && !strings.EqualFold(store, oldStore):
		return Suppress, nil
	default:
		return Suppress, nil
	}
}

func parseRecord(raw string) (store string, price float64, ok bool) {
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 {
		return "", 0, false
	}
	price, err := strconv.ParseFloat(raw[idx+1:], 64)
	if err != nil {
		return "", 0, false
	}
	return raw[:idx], price, true
}
