package fetch

import (
	"math/rand"
	"net/http"
	"sync"
)

// userAgents is the rotating pool of browser identities. Entries are kept
// current-ish; exact versions matter less than internal consistency with the
// Sec-Fetch / Accept headers below.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
}

// UAPool hands out user agents round-robin with a random starting offset
type UAPool struct {
	mu     sync.Mutex
	agents []string
	next   int
}

// NewUAPool creates a pool over the built-in agents
func NewUAPool() *UAPool {
	return &UAPool{
		agents: userAgents,
		next:   rand.Intn(len(userAgents)),
	}
}

// Next returns the next user agent in rotation
func (p *UAPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ua := p.agents[p.next%len(p.agents)]
	p.next++
	return ua
}

// browserHeaders builds the default browser-mimicking header set for a GET.
// Caller overrides are merged on top, so anything in extra wins.
func browserHeaders(ua string, extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	// Accept-Encoding is left to the transport so gzip bodies come back
	// transparently decoded.
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}
