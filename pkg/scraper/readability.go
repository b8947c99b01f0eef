package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; read-library-bot/1.0)"
	maxPageBytes     = 5 << 20
)

var reWhitespace = regexp.MustCompile(`[ \t]+`)

// ReadabilityScraper extracts pages locally with go-readability. It is used
// when no hosted extraction key is configured and ignores the prompt: author
// and published time come from the page's meta tags, falling back to the
// byline and JSON-LD readability finds.
type ReadabilityScraper struct {
	httpClient *http.Client
	userAgent  string
}

// NewReadabilityScraper creates a local scraper with the given fetch timeout.
func NewReadabilityScraper(timeout time.Duration) *ReadabilityScraper {
	return &ReadabilityScraper{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
	}
}

// Scrape fetches pageURL and extracts its main content.
func (s *ReadabilityScraper) Scrape(ctx context.Context, pageURL string, _ ScrapeOptions) (*ScrapeResult, error) {
	parsed, raw, err := s.fetch(ctx, "scrape", pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: FailureExtraction, Op: "scrape", URL: pageURL, Err: err}
	}

	article, err := readability.FromReader(bytes.NewReader(raw), parsed)
	if err != nil {
		return nil, &Error{Kind: FailureExtraction, Op: "scrape", URL: pageURL, Err: err}
	}

	text, err := htmlToText(article.Content)
	if err != nil {
		return nil, &Error{Kind: FailureExtraction, Op: "scrape", URL: pageURL, Err: err}
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = firstMeta(doc, "og:title")
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	extracted := map[string]any{}
	author := firstMeta(doc, "author", "article:author", "twitter:creator")
	if author == "" {
		author = strings.TrimSpace(article.Byline)
	}
	if author != "" {
		extracted["author"] = author
	}
	if published := firstMeta(doc, "article:published_time", "datePublished", "pubdate", "date"); published != "" {
		extracted["publishedAt"] = published
	} else if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		extracted["publishedAt"] = strings.TrimSpace(dt)
	} else if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		// JSON-LD datePublished
		extracted["publishedAt"] = article.PublishedTime.UTC().Format(time.RFC3339)
	}

	return &ScrapeResult{
		Markdown: text,
		Metadata: Metadata{
			Title:   title,
			OGImage: resolve(parsed, firstMeta(doc, "og:image", "twitter:image")),
		},
		JSON: extracted,
	}, nil
}

// Map collects same-host links from the base page. Search filters on the
// link URL and anchor text, case-insensitively.
func (s *ReadabilityScraper) Map(ctx context.Context, baseURL string, opts MapOptions) ([]Link, error) {
	parsed, raw, err := s.fetch(ctx, "map", baseURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: FailureExtraction, Op: "map", URL: baseURL, Err: err}
	}

	search := strings.ToLower(strings.TrimSpace(opts.Search))
	seen := map[string]bool{}
	links := []Link{}

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		abs := resolve(parsed, href)
		if abs == "" {
			return true
		}
		u, err := url.Parse(abs)
		if err != nil || !strings.EqualFold(u.Hostname(), parsed.Hostname()) {
			return true
		}
		u.Fragment = ""
		abs = u.String()
		if seen[abs] {
			return true
		}

		text := strings.Join(strings.Fields(sel.Text()), " ")
		title, _ := sel.Attr("title")
		if title == "" {
			title = text
		}
		if search != "" && !strings.Contains(strings.ToLower(abs), search) && !strings.Contains(strings.ToLower(title), search) {
			return true
		}

		seen[abs] = true
		links = append(links, Link{URL: abs, Title: title})
		return opts.Limit <= 0 || len(links) < opts.Limit
	})

	return links, nil
}

func (s *ReadabilityScraper) fetch(ctx context.Context, op, pageURL string) (*url.URL, []byte, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, &Error{Kind: FailureExtraction, Op: op, URL: pageURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, &Error{Kind: FailureNetwork, Op: op, URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, &Error{Kind: FailureNetwork, Op: op, URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, &Error{Kind: FailureUpstream, Op: op, URL: pageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, &Error{Kind: FailureNetwork, Op: op, URL: pageURL, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &Error{Kind: FailureExtraction, Op: op, URL: pageURL, Err: errors.New("empty page")}
	}
	return parsed, raw, nil
}

// htmlToText renders readability's HTML as paragraphs of plain text.
func htmlToText(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		if sel.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}
		text := strings.TrimSpace(reWhitespace.ReplaceAllString(sel.Text(), " "))
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1":
			text = "# " + text
		case "h2":
			text = "## " + text
		case "h3", "h4", "h5", "h6":
			text = "### " + text
		case "li":
			text = "- " + text
		case "blockquote":
			text = "> " + text
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(reWhitespace.ReplaceAllString(doc.Text(), " ")), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

// firstMeta returns the first non-empty content of a meta tag matched by
// property, name or itemprop.
func firstMeta(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		for _, attr := range []string{"property", "name", "itemprop"} {
			sel := doc.Find(fmt.Sprintf(`meta[%s=%q]`, attr, key)).First()
			if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}
