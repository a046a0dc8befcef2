package fetch

import (
	"fmt"
	"net/http"
	"time"
)

// Outcome is the typed classification of one fetch call
type Outcome string

const (
	OutcomeOKHTML         Outcome = "ok_html"
	OutcomeOKJSON         Outcome = "ok_json"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeRetryableNet   Outcome = "retryable_network"
	OutcomeParsingEmpty   Outcome = "parsing_empty"
	OutcomePartialSuspect Outcome = "partial_content_suspect"
)

// Success reports whether the outcome carries usable page content
func (o Outcome) Success() bool {
	return o == OutcomeOKHTML || o == OutcomeOKJSON
}

// Failure outcomes produce debug bundles
func (o Outcome) Failure() bool {
	return !o.Success()
}

// Result is the terminal product of one fetch pipeline call
type Result struct {
	Outcome      Outcome
	StatusCode   int
	Body         []byte
	EmbeddedJSON []byte // populated when Outcome is OutcomeOKJSON
	FinalURL     string
	Header       http.Header
	FromCache    bool
	BlockType    string // captcha, cloudflare, http_403, blocked_url, ...
	Attempts     int
	Duration     time.Duration
	Err          error
}

// RetryError is returned when every attempt against a URL was consumed
type RetryError struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *RetryError) Error() string {
	msg := fmt.Sprintf("failed to fetch %s after %d attempts", e.URL, e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *RetryError) Unwrap() error { return e.LastErr }

// BlockedError marks an access-denied or bot-challenge response
type BlockedError struct {
	URL       string
	Status    int
	BlockType string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked at %s (%s, HTTP %d)", e.URL, e.BlockType, e.Status)
}

// NotFoundError marks a permanently-gone URL
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}
