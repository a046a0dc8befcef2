package fetch

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// clientKey identifies one reusable HTTP client. Requests that differ in
// target host, proxy, user agent or read timeout must not share a client,
// so connection pools and TLS sessions stay per-identity.
type clientKey struct {
	host        string
	proxyID     string
	uaHash      string
	readTimeout time.Duration
}

// clientMap lazily builds and reuses long-lived HTTP clients. Creation races
// are resolved with a per-key lock guarded by the shared lock-map mutex.
type clientMap struct {
	mu      sync.Mutex
	clients map[clientKey]*http.Client
	locks   map[clientKey]*sync.Mutex

	maxConns  int
	keepAlive time.Duration
}

func newClientMap(maxConns int, keepAlive time.Duration) *clientMap {
	if maxConns <= 0 {
		maxConns = 100
	}
	return &clientMap{
		clients:   make(map[clientKey]*http.Client),
		locks:     make(map[clientKey]*sync.Mutex),
		maxConns:  maxConns,
		keepAlive: keepAlive,
	}
}

// get returns the client for the key, building it exactly once per key
func (m *clientMap) get(key clientKey, proxyURL string, t Timeouts) (*http.Client, error) {
	m.mu.Lock()
	if c, ok := m.clients[key]; ok {
		m.mu.Unlock()
		return c, nil
	}
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Another goroutine may have won the build race
	m.mu.Lock()
	if c, ok := m.clients[key]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	client, err := m.build(proxyURL, t)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.clients[key] = client
	m.mu.Unlock()
	return client, nil
}

func (m *clientMap) build(proxyURL string, t Timeouts) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:          m.maxConns,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       m.keepAlive,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   t.Total(),
		// Redirects are followed; the final URL feeds the blocked-path check
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}, nil
}

// size reports how many clients are cached (test hook)
func (m *clientMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
