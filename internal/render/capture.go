package render

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// imageCapture records image responses seen on a tab regardless of DOM
// state, and tracks in-flight requests for the network-idle wait. Bodies
// are pulled with network.GetResponseBody once loading finishes.
type imageCapture struct {
	tabCtx context.Context
	logger *zap.Logger

	mu      sync.Mutex
	pending map[network.RequestID]CapturedImage // image responses awaiting a body
	flight  map[network.RequestID]struct{}
	images  []CapturedImage
}

func newImageCapture(tabCtx context.Context, logger *zap.Logger) *imageCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &imageCapture{
		tabCtx:  tabCtx,
		logger:  logger,
		pending: make(map[network.RequestID]CapturedImage),
		flight:  make(map[network.RequestID]struct{}),
	}
}

func (c *imageCapture) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.mu.Lock()
		c.flight[e.RequestID] = struct{}{}
		c.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeImage || e.Response == nil {
			return
		}
		c.mu.Lock()
		c.pending[e.RequestID] = CapturedImage{
			URL:         e.Response.URL,
			ContentType: e.Response.MimeType,
		}
		c.mu.Unlock()
	case *network.EventLoadingFinished:
		c.finish(e.RequestID, true)
	case *network.EventLoadingFailed:
		c.finish(e.RequestID, false)
	}
}

func (c *imageCapture) finish(id network.RequestID, loaded bool) {
	c.mu.Lock()
	delete(c.flight, id)
	img, isImage := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !isImage || !loaded {
		return
	}
	// Body retrieval needs the CDP executor; the event callback itself must
	// not block on it.
	go c.fetchBody(id, img)
}

func (c *imageCapture) fetchBody(id network.RequestID, img CapturedImage) {
	cdpCtx := chromedp.FromContext(c.tabCtx)
	if cdpCtx == nil || cdpCtx.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(c.tabCtx, cdpCtx.Target)
	body, err := network.GetResponseBody(id).Do(execCtx)
	if err != nil || len(body) == 0 {
		if err != nil {
			c.logger.Debug("image body retrieval failed",
				zap.String("url", img.URL), zap.Error(err))
		}
		return
	}
	img.Body = body

	c.mu.Lock()
	c.images = append(c.images, img)
	c.mu.Unlock()
}

func (c *imageCapture) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flight)
}

func (c *imageCapture) drain() []CapturedImage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.images
	c.images = nil
	return out
}

// docMeta remembers the main document response for one navigation.
type docMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newDocMeta() *docMeta {
	return &docMeta{}
}

func (m *docMeta) handle(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(e.Response.Status)
	m.url = e.Response.URL
	m.mu.Unlock()
}

func (m *docMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}

func printToPDFAction(out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			Do(ctx)
		if err != nil {
			return err
		}
		*out = buf
		return nil
	})
}
