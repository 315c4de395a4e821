// Package render drives headless Chrome for pages that need JavaScript:
// full-fidelity text extraction, lazy-load settling, network image capture,
// and PDF printing.
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// MaxCarouselClicks bounds synthetic "next" interactions during Settle.
const MaxCarouselClicks = 4

// Config controls browser behavior.
type Config struct {
	UserAgent        string
	NavTimeout       time.Duration // whole-navigation budget
	IdleTimeout      time.Duration // network-idle wait budget
	ChallengeWaitMax time.Duration // interstitial wait budget
	MaxParallel      int           // concurrent tabs across all jobs
	DomainQPS        float64       // navigations per second per host
}

func (c *Config) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.ChallengeWaitMax <= 0 {
		c.ChallengeWaitMax = 20 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.DomainQPS <= 0 {
		c.DomainQPS = 2
	}
}

// Renderer owns the shared browser allocator. Sessions borrow tabs from it.
type Renderer struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New starts a browser allocator. Call Close to tear the browser down.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       semaphore.NewWeighted(int64(cfg.MaxParallel)),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
	}, nil
}

// Close cancels the allocator context, killing the browser.
func (r *Renderer) Close() {
	r.allocCancel()
}

func (r *Renderer) limiterFor(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1)
		r.limiters[host] = lim
	}
	return lim
}

func (r *Renderer) waitDomain(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	if err := r.limiterFor(strings.ToLower(u.Hostname())).Wait(ctx); err != nil {
		return fmt.Errorf("domain rate wait: %w", err)
	}
	return nil
}

// CapturedImage is an image response observed on the wire during a session,
// independent of whether it is still referenced by the DOM.
type CapturedImage struct {
	URL         string
	ContentType string
	Body        []byte
}

// Session is a single browser tab owned by one job. Closing the session is
// the cancellation point: it aborts any in-flight navigation.
type Session struct {
	r       *Renderer
	ctx     context.Context
	cancel  context.CancelFunc
	capture *imageCapture

	closeOnce sync.Once
}

// NewSession borrows a tab slot and opens a fresh tab. The tab stays open
// until Close, so one job can navigate it across many pages.
func (r *Renderer) NewSession(ctx context.Context) (*Session, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("tab slot wait: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	s := &Session{r: r, ctx: tabCtx, cancel: tabCancel}
	s.capture = newImageCapture(tabCtx, r.logger)
	chromedp.ListenTarget(tabCtx, s.capture.handle)

	// Materialize the tab now so Close always has something to tear down.
	if err := chromedp.Run(tabCtx, r.setupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return s, nil
}

// Close force-closes the tab and returns the slot. Safe to call more than
// once and from a different goroutine than the one navigating.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.r.slots.Release(1)
	})
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Options adjusts a single HTML navigation.
type Options struct {
	WaitIdle bool
	// ChallengeCheck reports whether the document still looks like a
	// bot-verification interstitial. When set, HTML re-polls the page until
	// the check clears or ChallengeWaitMax elapses.
	ChallengeCheck func(html string) bool
}

// Result is a rendered document.
type Result struct {
	URL    string
	Status int
	HTML   string
}

// HTML navigates the session's tab and returns the rendered DOM.
func (s *Session) HTML(ctx context.Context, rawURL string, opts Options) (Result, error) {
	if err := s.r.waitDomain(ctx, rawURL); err != nil {
		return Result{}, err
	}

	navCtx, cancel := mergeContexts(s.ctx, ctx, s.r.cfg.NavTimeout)
	defer cancel()

	meta := newDocMeta()
	chromedp.ListenTarget(navCtx, meta.handle)

	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if opts.WaitIdle {
		actions = append(actions, s.waitNetworkIdle())
	} else {
		actions = append(actions, chromedp.Sleep(500*time.Millisecond))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return Result{}, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	if opts.ChallengeCheck != nil && opts.ChallengeCheck(html) {
		html, finalURL = s.waitChallenge(navCtx, opts.ChallengeCheck, html, finalURL)
	}

	status, metaURL := meta.snapshot()
	if metaURL == "" {
		metaURL = finalURL
	}
	if metaURL == "" {
		metaURL = rawURL
	}
	if status == 0 {
		status = 200
	}
	return Result{URL: metaURL, Status: status, HTML: html}, nil
}

// waitChallenge re-polls the DOM until the interstitial clears or the wait
// budget runs out, keeping the last (possibly still blocked) document.
func (s *Session) waitChallenge(ctx context.Context, blocked func(string) bool, html, finalURL string) (string, string) {
	deadline := time.Now().Add(s.r.cfg.ChallengeWaitMax)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return html, finalURL
		case <-time.After(time.Second):
		}
		var nextHTML, nextURL string
		err := chromedp.Run(ctx,
			chromedp.Location(&nextURL),
			chromedp.OuterHTML("html", &nextHTML, chromedp.ByQuery),
		)
		if err != nil {
			return html, finalURL
		}
		html, finalURL = nextHTML, nextURL
		if !blocked(html) {
			return html, finalURL
		}
	}
	return html, finalURL
}

// waitNetworkIdle blocks until no requests have been in flight for a quiet
// window, bounded by the configured idle budget.
func (s *Session) waitNetworkIdle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		const quiet = 500 * time.Millisecond
		budget := time.After(s.r.cfg.IdleTimeout)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		idleSince := time.Time{}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-budget:
				return nil
			case now := <-ticker.C:
				if s.capture.inFlight() > 0 {
					idleSince = time.Time{}
					continue
				}
				if idleSince.IsZero() {
					idleSince = now
					continue
				}
				if now.Sub(idleSince) >= quiet {
					return nil
				}
			}
		}
	})
}

// settleScript scrolls through the document in increments so lazy loaders
// fire, then returns the document height actually covered.
const settleScript = `(async () => {
	const step = Math.max(window.innerHeight, 400);
	let covered = 0;
	for (let y = 0; y <= document.body.scrollHeight; y += step) {
		window.scrollTo(0, y);
		covered = y;
		await new Promise(r => setTimeout(r, 150));
	}
	window.scrollTo(0, 0);
	return covered;
})()`

// carouselScript clicks one likely "next" control if present.
const carouselScript = `(() => {
	const sel = [
		'button[aria-label*="next" i]',
		'a[aria-label*="next" i]',
		'[class*="carousel"] [class*="next"]',
		'[class*="slider"] [class*="next"]',
		'.swiper-button-next',
		'.slick-next',
	];
	for (const s of sel) {
		const el = document.querySelector(s);
		if (el && el.offsetParent !== null) { el.click(); return true; }
	}
	for (const el of document.querySelectorAll('button, a')) {
		const t = (el.textContent || '').trim().toLowerCase();
		if ((t === 'next' || t === '→' || t === '›' || t === '>') && el.offsetParent !== null) {
			el.click();
			return true;
		}
	}
	return false;
})()`

// Settle scrolls the page to trigger lazy loading and advances client-side
// carousels with a fixed click budget. There is no confirmation that a
// click actually loaded a new slide; the budget bounds the attempt.
func (s *Session) Settle(ctx context.Context) error {
	navCtx, cancel := mergeContexts(s.ctx, ctx, s.r.cfg.NavTimeout)
	defer cancel()

	var covered int
	if err := chromedp.Run(navCtx, chromedp.Evaluate(settleScript, &covered, awaitPromise)); err != nil {
		return fmt.Errorf("settle scroll: %w", err)
	}

	for i := 0; i < MaxCarouselClicks; i++ {
		var clicked bool
		if err := chromedp.Run(navCtx, chromedp.Evaluate(carouselScript, &clicked)); err != nil {
			return fmt.Errorf("carousel click: %w", err)
		}
		if !clicked {
			break
		}
		select {
		case <-navCtx.Done():
			return navCtx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
	return nil
}

// backgroundScript collects computed background-image URLs, which inline
// DOM scanning cannot see when styles come from stylesheets.
const backgroundScript = `(() => {
	const urls = new Set();
	const re = /url\((['"]?)(.*?)\1\)/g;
	for (const el of document.querySelectorAll('*')) {
		const bg = getComputedStyle(el).backgroundImage;
		if (!bg || bg === 'none') continue;
		let m;
		while ((m = re.exec(bg)) !== null) urls.add(m[2]);
	}
	return Array.from(urls);
})()`

// BackgroundImages returns computed background-image URLs for the current
// document.
func (s *Session) BackgroundImages(ctx context.Context) ([]string, error) {
	navCtx, cancel := mergeContexts(s.ctx, ctx, s.r.cfg.NavTimeout)
	defer cancel()

	var urls []string
	if err := chromedp.Run(navCtx, chromedp.Evaluate(backgroundScript, &urls)); err != nil {
		return nil, fmt.Errorf("computed backgrounds: %w", err)
	}
	return urls, nil
}

// PrintPDF renders the current document to PDF with backgrounds kept.
func (s *Session) PrintPDF(ctx context.Context) ([]byte, error) {
	navCtx, cancel := mergeContexts(s.ctx, ctx, s.r.cfg.NavTimeout)
	defer cancel()

	var pdf []byte
	err := chromedp.Run(navCtx, printToPDFAction(&pdf))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// Captured drains the image responses observed so far on this tab.
func (s *Session) Captured() []CapturedImage {
	return s.capture.drain()
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// mergeContexts derives a timeout context from the tab context that is also
// canceled when the caller's context is.
func mergeContexts(tab, caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(caller, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
