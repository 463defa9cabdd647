// Package crawler fetches web pages and reduces them to readable text for
// ingestion.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"rag-chatbot-platform/internal/rag"
)

const (
	DefaultMaxChars = 5000
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var httpTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConnsPerHost: 4,
	IdleConnTimeout:     90 * time.Second,
}

type Config struct {
	// MaxPages bounds how many same-site pages are visited. 1 scrapes only the given URL.
	MaxPages int
	// MaxChars caps the combined extracted text, in runes.
	MaxChars int
	Timeout  time.Duration
	Delay    time.Duration

	// RenderJS prerenders the first page in headless Chrome for script-heavy sites.
	RenderJS      bool
	RenderTimeout time.Duration
	WaitSelector  string
}

type Page struct {
	URL        string
	Title      string
	Content    string
	StatusCode int
}

type Result struct {
	URL   string
	Title string
	Text  string
	Pages []Page
}

type Scraper struct {
	cfg    Config
	render func(ctx context.Context, url string) (string, error)
}

func New(cfg Config) *Scraper {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 45 * time.Second
	}
	s := &Scraper{cfg: cfg}
	s.render = func(ctx context.Context, u string) (string, error) {
		return renderPageHTML(ctx, u, s.cfg.RenderTimeout, s.cfg.WaitSelector)
	}
	return s
}

// Scrape visits rawURL, and same-site links up to MaxPages, and returns the
// readable text capped at MaxChars. Failures wrap rag.ErrSourceFetchFailed.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*Result, error) {
	start, err := normalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %v", rag.ErrSourceFetchFailed, rawURL, err)
	}
	parsed, _ := url.Parse(start)

	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %v", rag.ErrSourceFetchFailed, context.DeadlineExceeded)
	}

	var (
		mu       sync.Mutex
		pages    []Page
		firstErr error
	)

	if s.cfg.RenderJS {
		if page, ok := s.renderFirstPage(ctx, start); ok {
			pages = append(pages, page)
		}
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(2),
		colly.AllowedDomains(host, "www."+host),
		colly.UserAgent(userAgent),
	)
	c.WithTransport(httpTransport)
	c.SetRequestTimeout(timeout)
	_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 2, Delay: s.cfg.Delay})

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
	})

	c.OnResponse(func(r *colly.Response) {
		r.Body = decodeBody(r.Body, r.Headers.Get("Content-Encoding"), r.Headers.Get("Content-Type"))
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		pageURL, err := normalizeURL(e.Request.URL.String())
		if err != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if len(pages) >= s.cfg.MaxPages {
			return
		}
		for _, p := range pages {
			if p.URL == pageURL {
				return
			}
		}

		content := extractMainContent(e.DOM)
		if content == "" {
			return
		}
		pages = append(pages, Page{
			URL:        pageURL,
			Title:      strings.TrimSpace(e.DOM.Find("title").First().Text()),
			Content:    content,
			StatusCode: e.Response.StatusCode,
		})

		if len(pages) >= s.cfg.MaxPages {
			return
		}
		e.DOM.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			link, err := normalizeURL(e.Request.AbsoluteURL(href))
			if err != nil || !isURLAllowed(link, host) {
				return
			}
			_ = e.Request.Visit(link)
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr != nil {
			return
		}
		if r != nil && r.StatusCode != 0 {
			firstErr = fmt.Errorf("%s returned HTTP %d: %v", r.Request.URL, r.StatusCode, err)
			return
		}
		firstErr = err
	})

	if err := c.Visit(start); err != nil && len(pages) == 0 {
		return nil, fmt.Errorf("%w: %v", rag.ErrSourceFetchFailed, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrSourceFetchFailed, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pages) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("%w: %v", rag.ErrSourceFetchFailed, firstErr)
		}
		return nil, fmt.Errorf("%w: no readable content at %s", rag.ErrSourceFetchFailed, start)
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Content
	}
	return &Result{
		URL:   start,
		Title: pages[0].Title,
		Text:  capRunes(strings.Join(texts, "\n\n"), s.cfg.MaxChars),
		Pages: pages,
	}, nil
}

func (s *Scraper) renderFirstPage(ctx context.Context, start string) (Page, bool) {
	html, err := s.render(ctx, start)
	if err != nil || html == "" {
		return Page{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, false
	}
	content := extractMainContent(doc.Selection)
	if content == "" {
		return Page{}, false
	}
	return Page{
		URL:        start,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Content:    content,
		StatusCode: http.StatusOK,
	}, true
}

// decodeBody undoes brotli, which neither the transport nor colly handles, and
// converts bodies that are not yet UTF-8 using the declared or sniffed charset.
func decodeBody(body []byte, contentEncoding, contentType string) []byte {
	if strings.Contains(contentEncoding, "br") {
		if decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body))); err == nil {
			body = decompressed
		}
	}
	if len(body) == 0 || utf8.Valid(body) {
		return body
	}
	utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	if decoded, err := io.ReadAll(utf8Reader); err == nil && len(decoded) > 0 {
		return decoded
	}
	return body
}

// extractMainContent drops scripts, styles and page chrome, then prefers
// semantic content containers over the whole body.
func extractMainContent(selection *goquery.Selection) string {
	doc := selection.Clone()
	doc.Find("script, style, noscript, template, svg, nav, footer, header, aside, form, .nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads, .skip-link").Remove()

	var text string
	for _, selector := range []string{"main", "article", "[role='main']", "#content", ".content"} {
		var b strings.Builder
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); len(t) > 100 {
				b.WriteString(t)
				b.WriteString("\n")
			}
		})
		if b.Len() > 0 {
			text = b.String()
			break
		}
	}
	if text == "" {
		if body := doc.Find("body"); body.Length() > 0 {
			text = body.Text()
		} else {
			text = doc.Text()
		}
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// normalizeURL canonicalizes a URL for duplicate detection. A missing scheme
// defaults to https.
func normalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	if (parsed.Scheme == "http" && parsed.Port() == "80") || (parsed.Scheme == "https" && parsed.Port() == "443") {
		parsed.Host = parsed.Hostname()
	}
	return parsed.String(), nil
}

var excludedPatterns = []string{
	"/wp-json/", "/api/", "/ajax/", "/feed/", "/rss/", "/wp-admin/", "/wp-includes/",
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".css", ".js", ".xml", ".zip",
}

// isURLAllowed keeps link following on the starting site and off non-page assets.
func isURLAllowed(urlStr, host string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}

	hostname := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if hostname != host && !strings.HasSuffix(hostname, "."+host) {
		return false
	}

	pathLower := strings.ToLower(parsed.Path)
	for _, pattern := range excludedPatterns {
		if strings.Contains(pathLower, pattern) {
			return false
		}
	}
	return true
}
