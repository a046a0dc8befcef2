package fetch

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// backoffDelay computes the jittered exponential delay for an attempt:
// initial * 2^attempt plus up to one second of jitter, capped at max.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	exp := float64(initial) * math.Pow(2, float64(attempt))
	capped := math.Min(exp, float64(max))
	jitter := rand.Float64() * float64(time.Second)
	return time.Duration(capped + jitter)
}

// retryAfterDelay parses a Retry-After header, in either the delay-seconds
// or the HTTP-date form, into a positive wait duration.
func retryAfterDelay(header http.Header) (time.Duration, bool) {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(retryAfter); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

// rateLimitDelay computes the wait after a 429. A parseable Retry-After
// header wins; otherwise the standard exponential schedule applies.
func rateLimitDelay(attempt int, initial, max time.Duration, header http.Header) time.Duration {
	if wait, ok := retryAfterDelay(header); ok {
		return wait + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
	}
	return backoffDelay(attempt, initial, max)
}
