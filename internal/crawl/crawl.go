// Package crawl discovers in-scope pages by breadth-first traversal.
package crawl

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/fetch"
	"github.com/sitegrab/sitegrab/internal/scope"
)

// Hard ceilings independent of caller input.
const (
	MaxPagesHard = 200
	MaxDepthHard = 5

	// queueCapFactor bounds frontier memory on link-dense sites.
	queueCapFactor = 10
)

// PageSource fetches one page's HTML for link expansion.
type PageSource interface {
	Page(ctx context.Context, rawURL string) (fetch.Page, error)
}

// Params configures one crawl. Values above the hard ceilings are clamped.
type Params struct {
	StartURL string
	MaxPages int
	MaxDepth int
	Include  []string
	Exclude  []string
}

func (p *Params) clamp() {
	if p.MaxPages <= 0 || p.MaxPages > MaxPagesHard {
		p.MaxPages = MaxPagesHard
	}
	if p.MaxDepth < 0 || p.MaxDepth > MaxDepthHard {
		p.MaxDepth = MaxDepthHard
	}
}

type frontierEntry struct {
	url   string
	depth int
}

// Crawler walks a site breadth first from a start URL. Link expansion uses
// the plain source first and falls back to the rendered source when a page
// yields no links, which catches script-driven navigation.
type Crawler struct {
	source   PageSource
	rendered PageSource // optional
	logger   *zap.Logger
}

// New builds a Crawler. rendered may be nil to disable the fallback.
func New(source, rendered PageSource, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{source: source, rendered: rendered, logger: logger}
}

// Run returns accepted URLs in discovery order. Each accepted URL is
// reported to onAccept (when non-nil) as it is found. Fetch errors during
// link expansion are swallowed; the page stays visited but contributes no
// links.
func (c *Crawler) Run(ctx context.Context, params Params, onAccept func(url string, found int)) ([]string, error) {
	params.clamp()

	start, ok := scope.Normalize(params.StartURL)
	if !ok {
		return nil, errInvalidStart(params.StartURL)
	}

	queueCap := queueCapFactor * params.MaxPages
	visited := map[string]bool{start: true}
	queue := []frontierEntry{{url: start, depth: 0}}
	var accepted []string

	for len(queue) > 0 && len(accepted) < params.MaxPages {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		entry := queue[0]
		queue = queue[1:]

		if !scope.Allowed(entry.url, params.Include, params.Exclude) {
			continue
		}
		accepted = append(accepted, entry.url)
		if onAccept != nil {
			onAccept(entry.url, len(accepted))
		}

		if entry.depth >= params.MaxDepth {
			continue
		}
		for _, link := range c.outboundLinks(ctx, entry.url) {
			if visited[link] || len(queue) >= queueCap {
				continue
			}
			visited[link] = true
			queue = append(queue, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}
	return accepted, nil
}

// outboundLinks fetches a page and returns its normalized same-origin links.
func (c *Crawler) outboundLinks(ctx context.Context, pageURL string) []string {
	page, err := c.source.Page(ctx, pageURL)
	if err != nil {
		c.logger.Debug("link expansion fetch failed",
			zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	links := ExtractLinks(pageURL, page.Body)
	if len(links) > 0 || c.rendered == nil {
		return links
	}
	rendered, err := c.rendered.Page(ctx, pageURL)
	if err != nil {
		c.logger.Debug("rendered link expansion failed",
			zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	return ExtractLinks(pageURL, rendered.Body)
}

// ExtractLinks parses anchor hrefs out of HTML and keeps normalized
// same-origin targets.
func ExtractLinks(baseURL string, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var links []string
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := scope.Resolve(baseURL, href)
		if resolved == "" {
			return
		}
		normalized, ok := scope.Normalize(resolved)
		if !ok || seen[normalized] || !scope.SameOrigin(baseURL, normalized) {
			return
		}
		seen[normalized] = true
		links = append(links, normalized)
	})
	return links
}

type errInvalidStart string

func (e errInvalidStart) Error() string {
	return "invalid start url: " + string(e)
}
