package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/storage"
)

// bundleMetadata is the metadata.json written with every debug bundle
type bundleMetadata struct {
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url,omitempty"`
	Store      string    `json:"store"`
	Outcome    string    `json:"outcome"`
	BlockType  string    `json:"block_type,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	ProxyID    string    `json:"proxy_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// BundleWriter persists debug bundles for failure outcomes under
// <store>/<timestamp>_<outcome>/.
type BundleWriter struct {
	store  storage.Storage
	logger zerolog.Logger
}

// NewBundleWriter creates a bundle writer over the given storage backend.
// A nil backend disables bundling.
func NewBundleWriter(store storage.Storage, logger zerolog.Logger) *BundleWriter {
	return &BundleWriter{
		store:  store,
		logger: logger.With().Str("component", "debug_bundle").Logger(),
	}
}

// Write captures one failed fetch. Bundle failures are logged, never
// propagated: losing a bundle must not fail the scan.
func (w *BundleWriter) Write(ctx context.Context, store, url, proxyID, ua string, res *Result) {
	if w == nil || w.store == nil || res == nil || !res.Outcome.Failure() {
		return
	}

	dir := fmt.Sprintf("%s/%s_%s", store, time.Now().UTC().Format("20060102T150405"), res.Outcome)

	meta := bundleMetadata{
		URL:        url,
		FinalURL:   res.FinalURL,
		Store:      store,
		Outcome:    string(res.Outcome),
		BlockType:  res.BlockType,
		StatusCode: res.StatusCode,
		ProxyID:    proxyID,
		UserAgent:  ua,
		Attempts:   res.Attempts,
		CapturedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		meta.Error = res.Err.Error()
	}

	w.put(ctx, dir+"/metadata.json", marshalOrNull(meta))
	w.put(ctx, dir+"/headers.json", marshalOrNull(flattenHeader(res.Header)))
	w.put(ctx, dir+"/response.json", marshalOrNull(map[string]any{
		"status_code": res.StatusCode,
		"final_url":   res.FinalURL,
		"from_cache":  res.FromCache,
		"body_bytes":  len(res.Body),
	}))
	if len(res.Body) > 0 {
		w.put(ctx, dir+"/html.html", res.Body)
	}
}

func (w *BundleWriter) put(ctx context.Context, key string, content []byte) {
	if err := w.store.Put(ctx, key, content, nil); err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("Failed to write debug bundle artefact")
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func marshalOrNull(v any) []byte {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return []byte("null")
	}
	return raw
}
