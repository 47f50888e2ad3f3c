package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/use-agent/picketline/models"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	maxRedirects   = 10
	defaultMaxBody = 10 << 20
)

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// chromeHelloHTTP1 builds a Chrome ClientHello that only offers http/1.1 in
// ALPN; http.Transport cannot speak h2 over a utls connection.
var chromeHelloHTTP1 = sync.OnceValues(func() (*tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
})

// HTTPEngine fetches raw HTML over plain HTTP with a Chrome TLS fingerprint.
// Pages fetched this way have no geometry and are laid out statically.
type HTTPEngine struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPEngine creates an HTTPEngine. proxy, when set, is an http(s) proxy
// URL; maxBody caps the page size and larger pages fail the fetch.
func NewHTTPEngine(proxy string, maxBody int64) *HTTPEngine {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	transport := &http.Transport{DialTLSContext: dialChrome}
	if u, err := url.Parse(proxy); proxy != "" && err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		transport.Proxy = http.ProxyURL(u)
	}
	return &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		maxBody: maxBody,
	}
}

func dialChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	spec, err := chromeHelloHTTP1()
	if err != nil {
		return nil, fmt.Errorf("http_engine: chrome hello: %w", err)
	}
	raw, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	conn := tls.UClient(raw, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := conn.ApplyPreset(spec); err != nil {
		raw.Close()
		return nil, fmt.Errorf("http_engine: apply chrome hello: %w", err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func (e *HTTPEngine) Name() string { return ModeHTTP }

func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeInvalidInput, "invalid page url", err)
	}
	h := httpReq.Header
	h.Set("User-Agent", chromeUA)
	h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		h.Set(k, v)
	}
	for i := range req.Cookies {
		httpReq.AddCookie(&req.Cookies[i])
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, categorizeError(err, "page fetch failed")
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	// One byte past the cap tells a full page from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return nil, categorizeError(err, "read page body")
	}
	if int64(len(body)) > e.maxBody {
		return nil, models.NewPicketError(models.ErrCodeFetchFailed,
			fmt.Sprintf("page is larger than %d bytes", e.maxBody), nil)
	}

	page := string(body)
	return &FetchResult{
		HTML:       page,
		Title:      pageTitle(page),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		EngineName: e.Name(),
	}, nil
}

// checkResponse rejects error statuses and non-HTML bodies. Upstream
// throttling and outages get their own codes so callers can back off.
func checkResponse(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return models.NewPicketError(models.ErrCodeUpstreamRateLimited, "site is rate limiting requests", nil)
	case code >= 500:
		return models.NewPicketError(models.ErrCodeUpstreamUnavailable, fmt.Sprintf("site returned %d", code), nil)
	case code >= 400:
		return models.NewPicketError(models.ErrCodeFetchFailed, fmt.Sprintf("site returned %d", code), nil)
	}
	if ct := resp.Header.Get("Content-Type"); !IsHTMLContentType(ct) {
		return models.NewPicketError(models.ErrCodeFetchFailed, fmt.Sprintf("not an html page (content-type %q)", ct), nil)
	}
	return nil
}

// IsHTMLContentType reports whether a Content-Type header looks like HTML.
func IsHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// pageTitle returns the text of the first <title>, or "".
func pageTitle(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) != atom.Title {
				continue
			}
			if z.Next() != html.TextToken {
				return ""
			}
			return strings.TrimSpace(string(z.Text()))
		}
	}
}
