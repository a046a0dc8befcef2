// Package session persists per-(store, proxy, user-agent) cookie jars and
// browser storage state in Redis so scraping identities survive restarts.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Key identifies one scraping session
type Key struct {
	Store   string
	ProxyID string
	UAHash  string
}

// NewKey builds a session key from the raw user agent
func NewKey(store, proxyID, userAgent string) Key {
	return Key{Store: store, ProxyID: proxyID, UAHash: HashUA(userAgent)}
}

// HashUA returns the short hash used to key sessions by user agent
func HashUA(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:12]
}

func (k Key) String() string {
	return k.Store + ":" + k.ProxyID + ":" + k.UAHash
}

// Cookie is one stored cookie with its scoping attributes
type Cookie struct {
	Name    string     `json:"name"`
	Value   string     `json:"value"`
	Domain  string     `json:"domain"`
	Path    string     `json:"path,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Session is the persisted record for one key
type Session struct {
	Cookies       map[string]Cookie `json:"cookies"` // by name
	StorageState  []byte            `json:"storage_state,omitempty"`
	LastUsed      time.Time         `json:"last_used"`
	SuccessCount  int               `json:"success_count"`
	FailCount     int               `json:"fail_count"`
	LastBlockedAt *time.Time        `json:"last_blocked_at,omitempty"`
	LastStatus    int               `json:"last_http_status"`
}

// Store persists sessions in Redis
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStore creates a session store; ttl of zero means sessions never expire
func NewStore(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

func (s *Store) redisKey(k Key) string {
	return "session:" + k.String()
}

// Load returns the persisted session, or a fresh empty one if absent
func (s *Store) Load(ctx context.Context, k Key) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.redisKey(k)).Bytes()
	if err == redis.Nil {
		return &Session{Cookies: make(map[string]Cookie)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", k, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// Corrupt payloads are discarded rather than poisoning the fetch path
		s.logger.Warn().Err(err).Str("session", k.String()).Msg("Discarding corrupt session")
		return &Session{Cookies: make(map[string]Cookie)}, nil
	}
	if sess.Cookies == nil {
		sess.Cookies = make(map[string]Cookie)
	}
	return &sess, nil
}

// Save persists the session as a single atomic SET
func (s *Store) Save(ctx context.Context, k Key, sess *Session) error {
	sess.LastUsed = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", k, err)
	}
	if err := s.rdb.Set(ctx, s.redisKey(k), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", k, err)
	}
	return nil
}

// MergeResponseCookies upserts Set-Cookie values from a response into the
// session, scoped to the response host, then persists.
func (s *Store) MergeResponseCookies(ctx context.Context, k Key, resp *http.Response) error {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil
	}

	sess, err := s.Load(ctx, k)
	if err != nil {
		return err
	}

	host := ""
	if resp.Request != nil && resp.Request.URL != nil {
		host = resp.Request.URL.Hostname()
	}

	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		domain = strings.TrimPrefix(domain, ".")
		stored := Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   c.Path,
		}
		if !c.Expires.IsZero() {
			exp := c.Expires
			stored.Expires = &exp
		}
		sess.Cookies[c.Name] = stored
	}

	return s.Save(ctx, k, sess)
}

// CookieHeader renders "name=value; ..." limited to cookies whose domain
// equals the request domain or is a parent of it. Expired cookies are skipped.
func (s *Store) CookieHeader(ctx context.Context, k Key, domain string) (string, error) {
	sess, err := s.Load(ctx, k)
	if err != nil {
		return "", err
	}

	now := time.Now()
	names := make([]string, 0, len(sess.Cookies))
	for name, c := range sess.Cookies {
		if c.Expires != nil && c.Expires.Before(now) {
			continue
		}
		if !domainMatches(domain, c.Domain) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+sess.Cookies[name].Value)
	}
	return strings.Join(parts, "; "), nil
}

// domainMatches reports whether cookieDomain may be offered to requestDomain:
// exact match, or requestDomain is a sub-domain of cookieDomain.
func domainMatches(requestDomain, cookieDomain string) bool {
	requestDomain = strings.ToLower(requestDomain)
	cookieDomain = strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	if cookieDomain == "" {
		return false
	}
	if requestDomain == cookieDomain {
		return true
	}
	return strings.HasSuffix(requestDomain, "."+cookieDomain)
}

// UpdateMetadata bumps the session counters after a fetch; 401/403 responses
// stamp last_blocked_at.
func (s *Store) UpdateMetadata(ctx context.Context, k Key, success bool, httpStatus int) error {
	sess, err := s.Load(ctx, k)
	if err != nil {
		return err
	}

	if success {
		sess.SuccessCount++
	} else {
		sess.FailCount++
	}
	sess.LastStatus = httpStatus
	if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden {
		now := time.Now()
		sess.LastBlockedAt = &now
	}
	return s.Save(ctx, k, sess)
}

// StorageState returns the opaque headless-browser state blob
func (s *Store) StorageState(ctx context.Context, k Key) ([]byte, error) {
	sess, err := s.Load(ctx, k)
	if err != nil {
		return nil, err
	}
	return sess.StorageState, nil
}

// SetStorageState stores the opaque headless-browser state blob
func (s *Store) SetStorageState(ctx context.Context, k Key, blob []byte) error {
	sess, err := s.Load(ctx, k)
	if err != nil {
		return err
	}
	sess.StorageState = blob
	return s.Save(ctx, k, sess)
}

// Clear removes all persisted artefacts for the key
func (s *Store) Clear(ctx context.Context, k Key) error {
	return s.rdb.Del(ctx, s.redisKey(k)).Err()
}
