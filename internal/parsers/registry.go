// Package parsers maps store tags to listing-page parsers. The engine treats
// parsers as pure functions over page bodies; the only contract enforced here
// is that extracted products always carry a sku and a URL.
package parsers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pricehawk/scan-service/internal/types"
)

// Parser extracts product rows and pagination from one store's listing pages
type Parser interface {
	Store() string
	Extract(body []byte, pageURL string) ([]types.DiscoveredProduct, error)
	NextPageURL(body []byte, pageURL string) string
}

// Registry manages parser registration and retrieval
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// DefaultRegistry is the global registry instance
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty parser registry
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register registers a parser under its store tag
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[strings.ToLower(p.Store())] = p
}

// Get retrieves a parser by store tag
func (r *Registry) Get(store string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToLower(store)]
	if !ok {
		return nil, fmt.Errorf("no parser registered for store: %s", store)
	}
	return p, nil
}

// IsRegistered checks whether a store has a parser
func (r *Registry) IsRegistered(store string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[strings.ToLower(store)]
	return ok
}

// List returns all registered store tags
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stores := make([]string, 0, len(r.parsers))
	for s := range r.parsers {
		stores = append(stores, s)
	}
	return stores
}

// Extract runs the store's parser and drops rows violating the contract:
// products without a sku or URL never reach the engine.
func (r *Registry) Extract(store string, body []byte, pageURL string) ([]types.DiscoveredProduct, error) {
	p, err := r.Get(store)
	if err != nil {
		return nil, err
	}
	products, err := p.Extract(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", store, err)
	}
	valid := products[:0]
	for _, prod := range products {
		if prod.SKU == "" || prod.URL == "" {
			continue
		}
		valid = append(valid, prod)
	}
	return valid, nil
}

// InitializeDefaultParsers registers the built-in store parsers
func InitializeDefaultParsers() {
	DefaultRegistry.Register(NewAmazonParser())
	DefaultRegistry.Register(NewWalmartParser())
}
