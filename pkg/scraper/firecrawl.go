package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// FirecrawlClient calls the hosted Firecrawl v2 API.
type FirecrawlClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFirecrawlClient creates a client for baseURL (e.g. https://api.firecrawl.dev).
func NewFirecrawlClient(baseURL, apiKey string, timeout time.Duration) (*FirecrawlClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	return &FirecrawlClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type scrapeRequest struct {
	URL             string `json:"url"`
	Formats         []any  `json:"formats"`
	OnlyMainContent bool   `json:"onlyMainContent"`
}

type jsonFormat struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
}

type scrapeResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Data    *ScrapeResult `json:"data"`
}

type mapLocation struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

type mapRequest struct {
	URL      string       `json:"url"`
	Limit    int          `json:"limit,omitempty"`
	Search   string       `json:"search,omitempty"`
	Location *mapLocation `json:"location,omitempty"`
}

type mapResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Links   []Link `json:"links"`
}

// Scrape requests markdown and, when a prompt is set, prompted JSON for url.
func (c *FirecrawlClient) Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error) {
	formats := []any{"markdown"}
	if opts.Prompt != "" {
		formats = append(formats, jsonFormat{Type: "json", Prompt: opts.Prompt})
	}

	var resp scrapeResponse
	if err := c.post(ctx, "scrape", url, "/v2/scrape", scrapeRequest{
		URL:             url,
		Formats:         formats,
		OnlyMainContent: opts.OnlyMainContent,
	}, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, &Error{Kind: FailureUpstream, Op: "scrape", URL: url, Err: upstreamMessage(resp.Error)}
	}
	if resp.Data == nil {
		return nil, &Error{Kind: FailureExtraction, Op: "scrape", URL: url, Err: errors.New("response has no data")}
	}
	return resp.Data, nil
}

// Map lists links under url. The result never exceeds opts.Limit when set.
func (c *FirecrawlClient) Map(ctx context.Context, url string, opts MapOptions) ([]Link, error) {
	req := mapRequest{URL: url, Limit: opts.Limit, Search: opts.Search}
	if opts.Country != "" || len(opts.Languages) > 0 {
		req.Location = &mapLocation{Country: opts.Country, Languages: opts.Languages}
	}

	var resp mapResponse
	if err := c.post(ctx, "map", url, "/v2/map", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{Kind: FailureUpstream, Op: "map", URL: url, Err: upstreamMessage(resp.Error)}
	}

	links := resp.Links
	if opts.Limit > 0 && len(links) > opts.Limit {
		links = links[:opts.Limit]
	}
	if links == nil {
		links = []Link{}
	}
	return links, nil
}

// post 发送请求到 Firecrawl 并解码响应
func (c *FirecrawlClient) post(ctx context.Context, op, target, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: FailureExtraction, Op: op, URL: target, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: FailureNetwork, Op: op, URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: FailureNetwork, Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: FailureNetwork, Op: op, URL: target, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &Error{Kind: FailureUpstream, Op: op, URL: target, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(msg))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: FailureExtraction, Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func upstreamMessage(msg string) error {
	if msg == "" {
		return errors.New("request was not successful")
	}
	return errors.New(msg)
}
