// Package fetch executes single page GETs under per-site policy: pacing,
// proxying, session cookies, conditional caching, retry/backoff, and typed
// outcome classification with content triage.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/httpcache"
	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/proxy"
	"github.com/pricehawk/scan-service/internal/ratelimit"
	"github.com/pricehawk/scan-service/internal/session"
	"github.com/pricehawk/scan-service/internal/types"
)

const maxBodyBytes = 10 << 20

// Request describes one page fetch
type Request struct {
	URL        string
	Store      string
	Proxy      *types.Proxy // nil means direct
	SessionKey *session.Key
	UserAgent  string // drawn from the pool when empty
	Headers    map[string]string
}

// Pipeline composes the fetch collaborators into a single Fetch call
type Pipeline struct {
	policies *PolicyTable
	clients  *clientMap
	limiter  *ratelimit.Limiter
	health   *health.Tracker
	proxies  *proxy.Pool
	sessions *session.Store
	cache    *httpcache.Cache
	bundles  *BundleWriter
	uaPool   *UAPool
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// Options carries the optional collaborators; nil fields disable the concern
type Options struct {
	Policies  *PolicyTable
	Limiter   *ratelimit.Limiter
	Health    *health.Tracker
	Proxies   *proxy.Pool
	Sessions  *session.Store
	Cache     *httpcache.Cache
	Bundles   *BundleWriter
	MaxConns  int
	KeepAlive time.Duration
}

// NewPipeline wires a fetch pipeline
func NewPipeline(opts Options, rec *metrics.Recorder, logger zerolog.Logger) *Pipeline {
	policies := opts.Policies
	if policies == nil {
		policies = NewPolicyTable()
	}
	return &Pipeline{
		policies: policies,
		clients:  newClientMap(opts.MaxConns, opts.KeepAlive),
		limiter:  opts.Limiter,
		health:   opts.Health,
		proxies:  opts.Proxies,
		sessions: opts.Sessions,
		cache:    opts.Cache,
		bundles:  opts.Bundles,
		uaPool:   NewUAPool(),
		metrics:  rec,
		logger:   logger.With().Str("component", "fetch_pipeline").Logger(),
	}
}

// Policies exposes the policy table for per-store tuning
func (p *Pipeline) Policies() *PolicyTable { return p.policies }

// Fetch executes one GET under the store's policy and classifies the outcome.
// It always returns a non-nil Result; Result.Err is set for failure outcomes.
func (p *Pipeline) Fetch(ctx context.Context, req Request) *Result {
	start := time.Now()
	pol := p.policies.Get(req.Store)
	res := p.execute(ctx, req, pol)
	res.Duration = time.Since(start)

	p.report(ctx, req, res)
	return res
}

func (p *Pipeline) execute(ctx context.Context, req Request, pol SitePolicy) *Result {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return &Result{Outcome: OutcomeRetryableNet, Err: err}
	}
	host := parsed.Hostname()

	ua := req.UserAgent
	if ua == "" {
		ua = p.uaPool.Next()
	}
	headers := browserHeaders(ua, req.Headers)

	if p.sessions != nil && req.SessionKey != nil {
		if cookie, err := p.sessions.CookieHeader(ctx, *req.SessionKey, host); err == nil && cookie != "" {
			headers.Set("Cookie", cookie)
		}
	}

	useConditionals := p.cache != nil
	proxyID, proxyURL := "", ""
	if req.Proxy != nil {
		proxyID = req.Proxy.ID
		proxyURL = req.Proxy.URL()
	}
	key := clientKey{host: host, proxyID: proxyID, uaHash: session.HashUA(ua), readTimeout: pol.Timeouts.Read}
	client, err := p.clients.get(key, proxyURL, pol.Timeouts)
	if err != nil {
		return &Result{Outcome: OutcomeRetryableNet, Err: err}
	}

	var lastErr error
	var lastStatus int
	maxAttempts := pol.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Acquire(ctx, host); err != nil {
				return &Result{Outcome: OutcomeTimeout, Err: err, Attempts: attempt}
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return &Result{Outcome: OutcomeRetryableNet, Err: err, Attempts: attempt + 1}
		}
		httpReq.Header = headers.Clone()
		if useConditionals {
			for k, v := range p.cache.ConditionalHeaders(ctx, req.URL) {
				httpReq.Header.Set(k, v)
			}
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return &Result{Outcome: OutcomeTimeout, Err: ctx.Err(), Attempts: attempt + 1}
			}
			if attempt < maxAttempts-1 {
				if err := sleepCtx(ctx, backoffDelay(attempt, pol.InitialBackoff, pol.MaxBackoff)); err != nil {
					return &Result{Outcome: OutcomeTimeout, Err: err, Attempts: attempt + 1}
				}
				continue
			}
			outcome := OutcomeRetryableNet
			if isTimeout(err) {
				outcome = OutcomeTimeout
			}
			return &Result{
				Outcome:  outcome,
				Attempts: maxAttempts,
				Err:      &RetryError{URL: req.URL, Attempts: maxAttempts, LastStatus: lastStatus, LastErr: lastErr},
			}
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if p.sessions != nil && req.SessionKey != nil && len(resp.Cookies()) > 0 {
			if err := p.sessions.MergeResponseCookies(ctx, *req.SessionKey, resp); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to merge response cookies")
			}
		}

		finalURL := req.URL
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}

		base := &Result{
			StatusCode: resp.StatusCode,
			FinalURL:   finalURL,
			Header:     resp.Header,
			Attempts:   attempt + 1,
		}

		// The blocked-URL check precedes everything else: a 200 served
		// from /blocked is still a block.
		if bt := matchBlockedURL(finalURL, pol.BlockedURLPatterns); bt != "" {
			base.Outcome = OutcomeBlocked
			base.BlockType = "blocked_url"
			base.Body = body
			base.Err = &BlockedError{URL: finalURL, Status: resp.StatusCode, BlockType: "blocked_url"}
			return base
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			if pol.Treat403AsBlocked {
				base.Outcome = OutcomeBlocked
				base.BlockType = "http_" + strconv.Itoa(resp.StatusCode)
				base.Body = body
				base.Err = &BlockedError{URL: finalURL, Status: resp.StatusCode, BlockType: base.BlockType}
				return base
			}
			lastErr = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}

		case resp.StatusCode == http.StatusNotFound:
			if pol.Treat404AsPermanent {
				base.Outcome = OutcomeNotFound
				base.Err = &NotFoundError{URL: finalURL}
				return base
			}
			lastErr = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}
			if p.limiter != nil {
				if wait, ok := retryAfterDelay(resp.Header); ok {
					p.limiter.SetCooldown(host, time.Now().Add(wait))
				}
			}
			if attempt < maxAttempts-1 {
				// A terminal 429 reaches the tracker through report; one
				// answered by a later success has to be recorded here.
				if p.health != nil {
					p.health.Record(req.Store, health.Outcome{StatusCode: resp.StatusCode})
				}
				if err := sleepCtx(ctx, rateLimitDelay(attempt, pol.InitialBackoff, pol.MaxBackoff, resp.Header)); err != nil {
					return &Result{Outcome: OutcomeTimeout, Err: err, Attempts: attempt + 1}
				}
				continue
			}

		case resp.StatusCode == http.StatusNotModified:
			if p.cache != nil {
				if cached, hit := p.cache.HandleResponse(ctx, req.URL, resp, nil); hit {
					base.FromCache = true
					return p.triage(base, cached, resp.Header.Get("Content-Type"), pol)
				}
			}
			// Stored body is gone; drop conditionals and retry the URL fresh
			useConditionals = false
			lastErr = errors.New("304 with no cached body")
			continue

		case resp.StatusCode == http.StatusPartialContent:
			if pol.Treat206AsSuspect {
				base.Outcome = OutcomePartialSuspect
				base.Body = body
				base.Err = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}
				return base
			}
			lastErr = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				lastErr = readErr
				break
			}
			if suspectShortBody(resp, body, pol) {
				base.Outcome = OutcomePartialSuspect
				base.Body = body
				base.Err = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}
				return base
			}
			if p.cache != nil {
				body, _ = p.cache.HandleResponse(ctx, req.URL, resp, body)
			}
			return p.triage(base, body, resp.Header.Get("Content-Type"), pol)

		default:
			// 5xx and anything unexpected
			lastErr = &RetryError{URL: req.URL, Attempts: attempt + 1, LastStatus: resp.StatusCode}
		}

		if attempt < maxAttempts-1 {
			if err := sleepCtx(ctx, backoffDelay(attempt, pol.InitialBackoff, pol.MaxBackoff)); err != nil {
				return &Result{Outcome: OutcomeTimeout, Err: err, Attempts: attempt + 1}
			}
		}
	}

	return &Result{
		Outcome:    OutcomeRetryableNet,
		StatusCode: lastStatus,
		Attempts:   maxAttempts,
		Err:        &RetryError{URL: req.URL, Attempts: maxAttempts, LastStatus: lastStatus, LastErr: lastErr},
	}
}

// triage classifies a successful response body
func (p *Pipeline) triage(base *Result, body []byte, contentType string, pol SitePolicy) *Result {
	text := decodeBody(body, contentType)
	base.Body = []byte(text)

	if bt := detectBotChallenge(text); bt != "" {
		base.Outcome = OutcomeBlocked
		base.BlockType = bt
		base.Err = &BlockedError{URL: base.FinalURL, Status: base.StatusCode, BlockType: bt}
		return base
	}

	if payload := extractEmbeddedJSON(text); payload != nil {
		base.Outcome = OutcomeOKJSON
		base.EmbeddedJSON = payload
		return base
	}

	if len(pol.ProductIndicators) > 0 && countProductIndicators(text, pol.ProductIndicators) == 0 {
		base.Outcome = OutcomeParsingEmpty
		base.Err = &RetryError{URL: base.FinalURL, Attempts: base.Attempts, LastStatus: base.StatusCode}
		return base
	}

	base.Outcome = OutcomeOKHTML
	return base
}

// report feeds the terminal outcome back into health, proxies, sessions,
// metrics and the debug-bundle writer.
func (p *Pipeline) report(ctx context.Context, req Request, res *Result) {
	success := res.Outcome.Success()

	if p.health != nil {
		p.health.Record(req.Store, health.Outcome{
			Success:    success,
			Duration:   res.Duration,
			StatusCode: res.StatusCode,
			Blocked:    res.Outcome == OutcomeBlocked,
			BlockType:  res.BlockType,
		})
	}

	if p.proxies != nil && req.Proxy != nil {
		switch {
		case success:
			p.proxies.ReportSuccess(req.Proxy.ID)
		case res.Outcome == OutcomeBlocked:
			p.proxies.ReportBlock(req.Proxy.ID)
		case res.Outcome == OutcomeTimeout:
			p.proxies.ReportFailure(req.Proxy.ID, proxy.FailureTimeout)
		default:
			p.proxies.ReportFailure(req.Proxy.ID, proxy.FailureNetwork)
		}
	}

	if p.sessions != nil && req.SessionKey != nil {
		if err := p.sessions.UpdateMetadata(ctx, *req.SessionKey, success, res.StatusCode); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to update session metadata")
		}
	}

	if p.metrics != nil {
		p.metrics.RecordFetchAttempt(req.Store, "http", string(res.Outcome))
		if res.StatusCode >= 400 {
			p.metrics.RecordHTTPError(req.Store, strconv.Itoa(res.StatusCode))
		}
		if res.Outcome == OutcomeBlocked {
			p.metrics.RecordBlock(req.Store, res.BlockType)
		}
	}

	if res.Outcome.Failure() {
		proxyID := ""
		if req.Proxy != nil {
			proxyID = req.Proxy.ID
		}
		p.bundles.Write(ctx, req.Store, req.URL, proxyID, req.UserAgent, res)
		p.logger.Debug().
			Str("store", req.Store).
			Str("url", req.URL).
			Str("outcome", string(res.Outcome)).
			Int("status", res.StatusCode).
			Msg("Fetch failed")
	}
}

func matchBlockedURL(finalURL string, patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	parsed, err := url.Parse(finalURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(parsed.Path)
	for _, pat := range patterns {
		if pat != "" && strings.Contains(path, strings.ToLower(pat)) {
			return pat
		}
	}
	return ""
}

func suspectShortBody(resp *http.Response, body []byte, pol SitePolicy) bool {
	if !pol.Treat206AsSuspect {
		return false
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return false
	}
	expected, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || expected <= 0 {
		return false
	}
	return int64(len(body)) < expected*9/10
}

func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
