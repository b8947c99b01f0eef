// Package scraper talks to the page extraction service. Scrape fetches one
// page as markdown plus prompted JSON; Map discovers candidate links under a
// base URL.
package scraper

import (
	"context"
	"errors"
	"fmt"
)

// Scraper fetches and extracts a single URL, and maps a site for links.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error)
	Map(ctx context.Context, url string, opts MapOptions) ([]Link, error)
}

// ScrapeOptions selects what the extraction returns.
type ScrapeOptions struct {
	// Prompt drives the structured JSON extraction.
	Prompt          string
	OnlyMainContent bool
}

// Metadata is the page-level metadata returned with a scrape.
type Metadata struct {
	Title   string `json:"title"`
	OGImage string `json:"ogImage"`
}

// ScrapeResult is the extracted content of one page.
type ScrapeResult struct {
	Markdown string         `json:"markdown"`
	Metadata Metadata       `json:"metadata"`
	JSON     map[string]any `json:"json"`
}

// MapOptions bounds a link discovery call.
type MapOptions struct {
	Limit     int
	Search    string
	Country   string
	Languages []string
}

// Link is a candidate page found by Map.
type Link struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// FailureKind classifies why a call to the extraction service failed.
type FailureKind string

const (
	// FailureNetwork covers transport errors: DNS, refused connections, timeouts.
	FailureNetwork FailureKind = "network"
	// FailureUpstream covers non-2xx responses and success=false payloads.
	FailureUpstream FailureKind = "upstream"
	// FailureExtraction covers responses that could not be decoded or parsed.
	FailureExtraction FailureKind = "extraction"
)

// ErrNoAPIKey is returned when the hosted client is built without a key.
var ErrNoAPIKey = errors.New("scraper: api key is required")

// Error is a classified scraper failure.
type Error struct {
	Kind       FailureKind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s failure (status %d): %v", e.Op, e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s failure: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or FailureUpstream when err is
// not a classified scraper error.
func KindOf(err error) FailureKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureNetwork
	}
	return FailureUpstream
}
