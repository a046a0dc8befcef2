package fetch

import (
	"strings"
	"sync"
	"time"
)

// Timeouts is the per-phase timeout bundle for one request
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
	Pool    time.Duration
}

// Total is the whole-request deadline derived from the phases
func (t Timeouts) Total() time.Duration {
	total := t.Connect + t.Read + t.Write
	if total <= 0 {
		total = 30 * time.Second
	}
	return total
}

// SitePolicy controls how the pipeline fetches and classifies for one store
type SitePolicy struct {
	Store               string
	MaxAttempts         int
	Timeouts            Timeouts
	Treat403AsBlocked   bool
	Treat404AsPermanent bool
	Treat206AsSuspect   bool
	BlockedURLPatterns  []string // final-URL path substrings that read as blocked
	ProductIndicators   []string // per-site DOM markers counted during triage
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

// DefaultPolicy returns the policy applied to stores without an override
func DefaultPolicy(store string) SitePolicy {
	return SitePolicy{
		Store:       store,
		MaxAttempts: 3,
		Timeouts: Timeouts{
			Connect: 10 * time.Second,
			Read:    20 * time.Second,
			Write:   10 * time.Second,
			Pool:    5 * time.Second,
		},
		Treat403AsBlocked:   true,
		Treat404AsPermanent: true,
		Treat206AsSuspect:   true,
		BlockedURLPatterns:  []string{"/blocked"},
		ProductIndicators:   []string{"data-product-id", "product-card", "add-to-cart"},
		InitialBackoff:      time.Second,
		MaxBackoff:          30 * time.Second,
	}
}

// PolicyTable resolves per-store policies with a default fallback
type PolicyTable struct {
	mu       sync.RWMutex
	policies map[string]SitePolicy
}

// NewPolicyTable creates a table seeded with the built-in store overrides
func NewPolicyTable() *PolicyTable {
	t := &PolicyTable{policies: make(map[string]SitePolicy)}

	amazon := DefaultPolicy("amazon_us")
	amazon.ProductIndicators = []string{"data-asin", "s-result-item", "a-price"}
	amazon.BlockedURLPatterns = []string{"/blocked", "/errors/validateCaptcha"}
	t.Set(amazon)

	walmart := DefaultPolicy("walmart")
	walmart.ProductIndicators = []string{"data-item-id", "product-title-link", "mod ellipsis"}
	walmart.BlockedURLPatterns = []string{"/blocked"}
	t.Set(walmart)

	return t
}

// Set registers or replaces a store policy
func (t *PolicyTable) Set(p SitePolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[strings.ToLower(p.Store)] = p
}

// Get returns the policy for a store, falling back to the default
func (t *PolicyTable) Get(store string) SitePolicy {
	t.mu.RLock()
	p, ok := t.policies[strings.ToLower(store)]
	t.mu.RUnlock()
	if !ok {
		return DefaultPolicy(store)
	}
	return p
}
