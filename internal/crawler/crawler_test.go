package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot-platform/internal/rag"
)

const landingPage = `<html><head><title>Acme Widgets</title><style>.x{color:red}</style></head>
<body>
<nav>Home | Shop | Contact</nav>
<main>
<h1>Welcome to Acme</h1>
<p>Acme Widgets ships worldwide. Orders placed before noon leave the warehouse the same day.</p>
<p>Returns are accepted within thirty days of delivery, no questions asked.</p>
<a href="/faq">FAQ</a> <a href="https://elsewhere.example/">Partner</a> <a href="/logo.png">logo</a>
</main>
<script>var tracking = "should not appear";</script>
<footer>Copyright Acme</footer>
</body></html>`

const faqPage = `<html><head><title>FAQ</title></head><body><article>
<p>Gift cards never expire and can be combined with any promotion running on the store.</p>
<p>Bulk discounts start at fifty units and scale with volume for business customers.</p>
</article></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/faq", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, faqPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeSinglePage(t *testing.T) {
	srv := newSite(t)

	res, err := New(Config{}).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Acme Widgets", res.Title)
	assert.Contains(t, res.Text, "Returns are accepted within thirty days")
	assert.NotContains(t, res.Text, "should not appear")
	assert.NotContains(t, res.Text, "Home | Shop")
	assert.NotContains(t, res.Text, "Copyright")
	assert.Len(t, res.Pages, 1)
}

func TestScrapeFollowsSameSiteLinks(t *testing.T) {
	srv := newSite(t)

	res, err := New(Config{MaxPages: 5}).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Len(t, res.Pages, 2)
	assert.Contains(t, res.Text, "Gift cards never expire")
}

func TestScrapeCapsText(t *testing.T) {
	srv := newSite(t)

	res, err := New(Config{MaxChars: 40}).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 40, utf8.RuneCountInString(res.Text))
}

func TestScrapeErrors(t *testing.T) {
	srv := newSite(t)

	_, err := New(Config{}).Scrape(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)

	_, err = New(Config{}).Scrape(context.Background(), "http://")
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(Config{}).Scrape(ctx, srv.URL)
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)
}

func TestScrapeRenderedFirstPage(t *testing.T) {
	srv := newSite(t)

	s := New(Config{RenderJS: true})
	s.render = func(ctx context.Context, url string) (string, error) {
		return `<html><head><title>Rendered</title></head><body><main><p>` +
			strings.Repeat("Client-side rendered catalogue text. ", 5) + `</p></main></body></html>`, nil
	}

	res, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Rendered", res.Title)
	assert.Contains(t, res.Text, "Client-side rendered")
	assert.Len(t, res.Pages, 1)
}

func TestDecodeBody(t *testing.T) {
	t.Run("brotli", func(t *testing.T) {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		_, _ = w.Write([]byte("<p>hello</p>"))
		require.NoError(t, w.Close())

		assert.Equal(t, "<p>hello</p>", string(decodeBody(buf.Bytes(), "br", "text/html; charset=utf-8")))
	})

	t.Run("latin1", func(t *testing.T) {
		body := []byte("caf\xe9")
		assert.Equal(t, "café", string(decodeBody(body, "", "text/html; charset=iso-8859-1")))
	})

	t.Run("already utf8", func(t *testing.T) {
		assert.Equal(t, "café", string(decodeBody([]byte("café"), "", "text/html; charset=iso-8859-1")))
	})
}

func TestExtractMainContentFallsBackToBody(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><div>  Short   body text  </div><script>x()</script></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Short body text", extractMainContent(doc.Selection))
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"Example.COM":                     "https://example.com/",
		"https://example.com:443/a/#frag": "https://example.com/a",
		"http://example.com:80":           "http://example.com/",
		"http://example.com:8080/x?y=1":   "http://example.com:8080/x?y=1",
	}
	for in, want := range cases {
		got, err := normalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestIsURLAllowed(t *testing.T) {
	assert.True(t, isURLAllowed("https://www.acme.com/faq", "acme.com"))
	assert.True(t, isURLAllowed("https://shop.acme.com/faq", "acme.com"))
	assert.False(t, isURLAllowed("https://other.com/faq", "acme.com"))
	assert.False(t, isURLAllowed("https://acme.com/logo.png", "acme.com"))
	assert.False(t, isURLAllowed("mailto:hi@acme.com", "acme.com"))
}
