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
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/rtcapture/models"
	"golang.org/x/net/html"
)

const (
	chromeUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodyBytes = 10 << 20
	maxRedirects = 10
)

// FetchResult is one fetched document.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
}

// Fetcher retrieves the raw HTML of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*FetchResult, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	return f(ctx, url)
}

// helloChromeH1 is Chrome's ClientHello with ALPN pinned to http/1.1,
// since http.Transport cannot speak h2 over a utls conn. A zero value
// means the preset could not be built and the Go default hello is used.
var helloChromeH1 = func() *tls.ClientHelloSpec {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}
	return &spec
}()

// dialChromeTLS opens a TCP connection and performs a handshake that
// looks like a desktop Chrome to fingerprinting CDNs.
func dialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	raw, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)

	var conn *tls.UConn
	if helloChromeH1 == nil {
		conn = tls.UClient(raw, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}, tls.HelloGolang)
	} else {
		conn = tls.UClient(raw, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := conn.ApplyPreset(helloChromeH1); err != nil {
			raw.Close()
			return nil, fmt.Errorf("apply chrome hello: %w", err)
		}
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// HTTPEngine fetches review pages without a browser. Score panels are
// server-rendered, so the data payload is present in the raw document;
// visual mode still needs the browser engine.
type HTTPEngine struct {
	client *http.Client
}

// NewHTTPEngine creates an HTTPEngine. proxy may be empty or an http(s)
// URL; anything else is ignored.
func NewHTTPEngine(proxy string, timeout time.Duration) *HTTPEngine {
	transport := &http.Transport{
		DialTLSContext:      dialChromeTLS,
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL, err := url.Parse(proxy); proxy != "" && err == nil &&
		(proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Fetch GETs rawURL. Error statuses are returned with their body so the
// stabilizer can decide whether they matter.
func (e *HTTPEngine) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "invalid target URL", err)
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, models.NewScrapeError(models.ErrCodeTimeout, "fetch timed out", err)
		}
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "fetch failed", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isHTMLContentType(ct) {
		return nil, models.NewScrapeError(models.ErrCodeNavigation,
			fmt.Sprintf("non-html response (content-type: %s)", ct), nil)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "read response body", err)
	}
	return &FetchResult{
		HTML:       body,
		Title:      extractTitle(body),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// readBody decodes the Content-Encoding we asked for and caps the size.
func readBody(resp *http.Response) (string, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return "", fmt.Errorf("unsupported content-encoding %q", resp.Header.Get("Content-Encoding"))
	}
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle returns the text of the first <title>, used only for logs.
func extractTitle(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}
