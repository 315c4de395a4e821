// Package pipeline drives a job from request to artifact: page discovery,
// per-page extraction through the worker pool, and artifact assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/crawl"
	"github.com/sitegrab/sitegrab/internal/fetch"
	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/pool"
	"github.com/sitegrab/sitegrab/internal/render"
	"github.com/sitegrab/sitegrab/internal/safeurl"
	"github.com/sitegrab/sitegrab/internal/scope"
	"github.com/sitegrab/sitegrab/internal/storage"
)

// MaxListURLs caps explicit URL lists.
const MaxListURLs = 100

// Request modes.
const (
	ModeURL   = "url"
	ModeList  = "list"
	ModeCrawl = "crawl"
)

// Request is a validated client ask.
type Request struct {
	Mode     string   `json:"mode"`
	URL      string   `json:"url,omitempty"`
	URLs     []string `json:"urls,omitempty"`
	MaxPages int      `json:"max_pages,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty"`
	Include  []string `json:"include,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`

	// Images pipeline only.
	MinKB int `json:"min_kb,omitempty"`

	// Text pipeline, url mode only: print the rendered page to PDF in the
	// browser instead of assembling markdown.
	RenderPDF bool `json:"render_pdf,omitempty"`
}

// Fetcher is the plain HTTP retrieval surface the pipelines use.
type Fetcher interface {
	Page(ctx context.Context, rawURL string) (fetch.Page, error)
	Asset(ctx context.Context, rawURL string) ([]byte, string, error)
	Image(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Session is one browser tab.
type Session interface {
	HTML(ctx context.Context, rawURL string, opts render.Options) (render.Result, error)
	Settle(ctx context.Context) error
	Captured() []render.CapturedImage
	BackgroundImages(ctx context.Context) ([]string, error)
	PrintPDF(ctx context.Context) ([]byte, error)
	Close()
}

// Renderer hands out browser tabs.
type Renderer interface {
	NewSession(ctx context.Context) (Session, error)
}

// ChromeRenderer adapts the concrete render.Renderer.
type ChromeRenderer struct {
	R *render.Renderer
}

// NewSession opens a tab.
func (c ChromeRenderer) NewSession(ctx context.Context) (Session, error) {
	s, err := c.R.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Deps bundles what both pipelines need.
type Deps struct {
	Fetcher  Fetcher
	Renderer Renderer
	Checker  *safeurl.Checker
	Blobs    storage.BlobStore
	Workers  int
	WorkDir  string
	Logger   *zap.Logger
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Validate rejects malformed requests before any network traffic. Every
// start URL must pass the admission checker.
func (r *Request) Validate(ctx context.Context, checker *safeurl.Checker) error {
	switch r.Mode {
	case ModeURL:
		if r.URL == "" {
			return errors.New("url is required for mode url")
		}
		return checkStartURL(ctx, checker, r.URL)
	case ModeList:
		if len(r.URLs) == 0 {
			return errors.New("urls are required for mode list")
		}
		if len(r.URLs) > MaxListURLs {
			return fmt.Errorf("too many urls: %d > %d", len(r.URLs), MaxListURLs)
		}
		for _, u := range r.URLs {
			if err := checkStartURL(ctx, checker, u); err != nil {
				return err
			}
		}
		return nil
	case ModeCrawl:
		if r.URL == "" {
			return errors.New("url is required for mode crawl")
		}
		return checkStartURL(ctx, checker, r.URL)
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
}

func checkStartURL(ctx context.Context, checker *safeurl.Checker, rawURL string) error {
	if _, ok := scope.Normalize(rawURL); !ok {
		return fmt.Errorf("invalid url %q", rawURL)
	}
	if checker == nil {
		return nil
	}
	return checker.Check(ctx, rawURL)
}

// resolvePages turns the request into the ordered page list, emitting crawl
// progress between the given percent bounds.
func resolvePages(ctx context.Context, deps Deps, j *job.Job, req Request) ([]string, error) {
	switch req.Mode {
	case ModeURL:
		u, _ := scope.Normalize(req.URL)
		return []string{u}, nil
	case ModeList:
		var pages []string
		seen := map[string]bool{}
		for _, raw := range req.URLs {
			u, ok := scope.Normalize(raw)
			if !ok || seen[u] {
				continue
			}
			seen[u] = true
			pages = append(pages, u)
		}
		return pages, nil
	case ModeCrawl:
		params := crawl.Params{
			StartURL: req.URL,
			MaxPages: req.MaxPages,
			MaxDepth: req.MaxDepth,
			Include:  req.Include,
			Exclude:  req.Exclude,
		}
		var rendered crawl.PageSource
		if deps.Renderer != nil {
			rendered = renderedSource{r: deps.Renderer}
		}
		crawler := crawl.New(sourceAdapter{deps.Fetcher}, rendered, deps.logger())
		j.SetStage("crawling", params.MaxPages, 5)
		pages, err := crawler.Run(ctx, params, func(url string, found int) {
			j.CountPage()
			metrics.ObservePageCrawled(metrics.SanitizeSite(url))
			j.Advance(found, 5, 25)
		})
		if err != nil {
			return nil, err
		}
		return pages, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
}

// sourceAdapter narrows Fetcher to the crawler's PageSource.
type sourceAdapter struct {
	f Fetcher
}

func (a sourceAdapter) Page(ctx context.Context, rawURL string) (fetch.Page, error) {
	return a.f.Page(ctx, rawURL)
}

// renderedSource is the crawler's fallback for pages that only link out
// after scripts run. Each call is a short-lived tab.
type renderedSource struct {
	r Renderer
}

func (s renderedSource) Page(ctx context.Context, rawURL string) (fetch.Page, error) {
	session, err := s.r.NewSession(ctx)
	if err != nil {
		return fetch.Page{}, err
	}
	defer session.Close()
	result, err := session.HTML(ctx, rawURL, render.Options{WaitIdle: true})
	if err != nil {
		return fetch.Page{}, err
	}
	return fetch.Page{
		URL:         result.URL,
		StatusCode:  result.Status,
		ContentType: "text/html",
		Body:        []byte(result.HTML),
	}, nil
}

func workerWidth(configured, items int) int {
	w := configured
	if w <= 0 {
		w = pool.MaxWorkers
	}
	return pool.Clamp(w, items)
}

// canonicalMessage maps a pipeline error to the job's terminal message.
// Canonical messages pass through; everything else becomes an internal
// error.
func canonicalMessage(err error) string {
	msg := err.Error()
	switch {
	case msg == job.MsgNoContent, msg == job.MsgNoPages, msg == job.MsgBlocked:
		return msg
	case errors.Is(err, context.Canceled):
		return job.MsgCancelled
	case strings.Contains(msg, job.MsgBlocked):
		return job.MsgBlocked
	default:
		return "internal error: " + msg
	}
}
