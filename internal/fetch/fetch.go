// Package fetch performs plain HTTP retrieval of pages and assets using a
// Colly collector. Headless retrieval lives elsewhere; this path is the
// cheap first attempt.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/safeurl"
)

// MaxAssetBytes caps how much of a text asset (stylesheet, script) is
// retrieved for reference scanning.
const MaxAssetBytes = 512 << 10

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Page is the outcome of a plain HTTP page fetch.
type Page struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher wraps a base Colly collector cloned per request, with host
// admission enforced at the transport so redirects cannot escape it.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher. The checker, when non-nil, vetoes every outgoing
// request including redirect hops.
func New(cfg Config, checker *safeurl.Checker, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var transport http.RoundTripper = newHTTPTransport()
	if checker != nil {
		transport = &guardTransport{base: transport, checker: checker}
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Page fetches one HTML document.
func (f *Fetcher) Page(ctx context.Context, rawURL string) (Page, error) {
	return f.get(ctx, rawURL, 0)
}

// Asset fetches a text asset, stopping after MaxAssetBytes.
func (f *Fetcher) Asset(ctx context.Context, rawURL string) ([]byte, string, error) {
	page, err := f.get(ctx, rawURL, MaxAssetBytes)
	if err != nil {
		return nil, "", err
	}
	return page.Body, page.ContentType, nil
}

// Image fetches raw image bytes. Responses that do not declare an image
// content type are rejected.
func (f *Fetcher) Image(ctx context.Context, rawURL string) ([]byte, string, error) {
	page, err := f.get(ctx, rawURL, 0)
	if err != nil {
		return nil, "", err
	}
	ct := strings.ToLower(page.ContentType)
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", fmt.Errorf("not an image response: %q", page.ContentType)
	}
	return page.Body, page.ContentType, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) (Page, error) {
	var (
		result   Page
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if limit > 0 {
		collector.MaxBodySize = int(limit)
	}
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		// The in-flight Visit keeps running until the collector's own
		// request timeout fires; its goroutine exits through the buffered
		// done channel.
		return Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return result, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return result, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return result, nil
	}
}

// guardTransport rejects requests to hosts the admission checker blocks.
// Running at the transport layer means redirect targets are checked too.
type guardTransport struct {
	base    http.RoundTripper
	checker *safeurl.Checker
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.checker.Check(req.Context(), req.URL.String()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
