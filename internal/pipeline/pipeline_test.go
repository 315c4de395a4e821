package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/sitegrab/sitegrab/internal/clock/system"
	"github.com/sitegrab/sitegrab/internal/fetch"
	"github.com/sitegrab/sitegrab/internal/id/uuid"
	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/progress"
	pubmemory "github.com/sitegrab/sitegrab/internal/publisher/memory"
	"github.com/sitegrab/sitegrab/internal/render"
	"github.com/sitegrab/sitegrab/internal/safeurl"
	memstore "github.com/sitegrab/sitegrab/internal/storage/memory"
)

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	assets map[string]string
	images map[string][]byte
	calls  map[string]int
}

func (f *fakeFetcher) record(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[rawURL]++
}

func (f *fakeFetcher) Page(_ context.Context, rawURL string) (fetch.Page, error) {
	f.record(rawURL)
	body, ok := f.pages[rawURL]
	if !ok {
		return fetch.Page{}, fmt.Errorf("fetch %s: not found", rawURL)
	}
	return fetch.Page{URL: rawURL, StatusCode: 200, ContentType: "text/html", Body: []byte(body)}, nil
}

func (f *fakeFetcher) Asset(_ context.Context, rawURL string) ([]byte, string, error) {
	f.record(rawURL)
	body, ok := f.assets[rawURL]
	if !ok {
		return nil, "", fmt.Errorf("fetch %s: not found", rawURL)
	}
	return []byte(body), "text/css", nil
}

func (f *fakeFetcher) Image(_ context.Context, rawURL string) ([]byte, string, error) {
	f.record(rawURL)
	data, ok := f.images[rawURL]
	if !ok {
		return nil, "", fmt.Errorf("fetch %s: not found", rawURL)
	}
	return data, "image/png", nil
}

type fakeSession struct {
	html     map[string]string
	captured []render.CapturedImage
	bg       []string
	pdf      []byte

	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) HTML(_ context.Context, rawURL string, _ render.Options) (render.Result, error) {
	body, ok := s.html[rawURL]
	if !ok {
		return render.Result{}, fmt.Errorf("navigate %s: not found", rawURL)
	}
	return render.Result{URL: rawURL, Status: 200, HTML: body}, nil
}

func (s *fakeSession) Settle(context.Context) error { return nil }

func (s *fakeSession) Captured() []render.CapturedImage { return s.captured }

func (s *fakeSession) BackgroundImages(context.Context) ([]string, error) { return s.bg, nil }

func (s *fakeSession) PrintPDF(context.Context) ([]byte, error) {
	if s.pdf == nil {
		return nil, errors.New("print failed")
	}
	return s.pdf, nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type fakeRenderer struct {
	session *fakeSession
	err     error
}

func (r *fakeRenderer) NewSession(context.Context) (Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}

func article(words int) string {
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", words)
	return `<html><head><title>Field Notes</title></head><body>
<nav><a href="/about/">About</a></nav>
<main><h1>Field Notes</h1><p>` + body + `</p></main>
<footer>legal</footer></body></html>`
}

func newTestJob(t *testing.T, kind job.Kind) (*job.Job, context.Context, *memstore.BlobStore, *job.Controller) {
	t.Helper()
	blobs := memstore.NewBlobStore()
	c := job.NewController(job.Config{}, system.New(), uuid.New(), blobs, nil, pubmemory.New(), nil)
	j, runCtx, err := c.Create(kind)
	require.NoError(t, err)
	return j, runCtx, blobs, c
}

func testDeps(f *fakeFetcher, r Renderer, blobs *memstore.BlobStore, workDir string) Deps {
	return Deps{Fetcher: f, Renderer: r, Blobs: blobs, Workers: 2, WorkDir: workDir}
}

func TestTextPipelineSingleURL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/notes/": article(40),
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, &fakeRenderer{err: errors.New("no browser")}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/notes/"})

	require.Equal(t, progress.StatusDone, j.Status())
	artifact := j.Artifact()
	require.NotNil(t, artifact)
	require.Equal(t, "application/pdf", artifact.ContentType)

	rc, err := blobs.Open(context.Background(), artifact.Path)
	require.NoError(t, err)
	defer rc.Close()
	pdf, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
}

func TestTextPipelineRenderedFallback(t *testing.T) {
	t.Parallel()

	// The light fetch returns a shell; only the browser sees the content.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/app/": "<html><body><div id=\"root\"></div></body></html>",
	}}
	renderer := &fakeRenderer{session: &fakeSession{html: map[string]string{
		"https://example.com/app/": article(40),
	}}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/app/"})

	require.Equal(t, progress.StatusDone, j.Status())
	require.True(t, renderer.session.closed)
}

func TestTextPipelinePrintPDF(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{session: &fakeSession{
		html: map[string]string{"https://example.com/": article(40)},
		pdf:  []byte("%PDF-1.7 printed"),
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(&fakeFetcher{}, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/", RenderPDF: true})

	require.Equal(t, progress.StatusDone, j.Status())
	rc, err := blobs.Open(context.Background(), j.Artifact().Path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 printed", string(data))
}

func TestTextPipelineListOrder(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/b/": article(40),
		"https://example.com/a/": article(40),
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, &fakeRenderer{err: errors.New("no browser")}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeList, URLs: []string{
		"https://example.com/b/",
		"https://example.com/a/",
		"https://example.com/b/", // duplicate collapses
	}})

	require.Equal(t, progress.StatusDone, j.Status())
	_, items := j.Counters()
	require.Equal(t, 2, items)
	require.Equal(t, 1, fetcher.calls["https://example.com/b/"])
}

func TestTextPipelineCrawlMode(t *testing.T) {
	t.Parallel()

	root := article(40)
	root = strings.Replace(root, "<main>", `<main><a href="/guides/setup/">setup</a>`, 1)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/":              root,
		"https://example.com/guides/setup/": article(40),
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, &fakeRenderer{err: errors.New("no browser")}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeCrawl, URL: "https://example.com/", MaxPages: 10, MaxDepth: 2})

	require.Equal(t, progress.StatusDone, j.Status())
	pages, items := j.Counters()
	require.Equal(t, 2, pages)
	require.Equal(t, 2, items)
}

func TestTextPipelineNoContent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, &fakeRenderer{err: errors.New("no browser")}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})

	require.Equal(t, progress.StatusError, j.Status())
	require.Equal(t, job.MsgNoContent, j.Snapshot().Message)
}

func TestTextPipelineNoPages(t *testing.T) {
	t.Parallel()

	j, runCtx, blobs, _ := newTestJob(t, job.KindText)
	p := NewText(testDeps(&fakeFetcher{}, &fakeRenderer{}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeList, URLs: []string{"not a url"}})

	require.Equal(t, progress.StatusError, j.Status())
	require.Equal(t, job.MsgNoPages, j.Snapshot().Message)
}

func TestTextPipelineBlocked(t *testing.T) {
	t.Parallel()

	challenge := "<html><body>Checking your browser before accessing</body></html>"
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/": challenge}}
	renderer := &fakeRenderer{session: &fakeSession{html: map[string]string{
		"https://example.com/": challenge,
	}}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindText)

	p := NewText(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})

	require.Equal(t, progress.StatusError, j.Status())
	require.Equal(t, job.MsgBlocked, j.Snapshot().Message)
}

func TestTextPipelineCancelled(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/": article(40)}}
	j, runCtx, blobs, c := newTestJob(t, job.KindText)
	ok, err := c.Cancel(j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	p := NewText(testDeps(fetcher, &fakeRenderer{}, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})

	require.Equal(t, progress.StatusError, j.Status())
	require.Equal(t, job.MsgCancelled, j.Snapshot().Message)
	require.Nil(t, j.Artifact())
}

func TestImagesPipelineDedup(t *testing.T) {
	t.Parallel()

	small := make([]byte, 6<<10)
	large := make([]byte, 24<<10)
	pageHTML := `<html><body>
<img src="https://example.com/media/photo.jpg">
<div style="background-image: url('https://example.com/media/banner.png')"></div>
</body></html>`

	// The tab only captured a low-quality placeholder for the photo; the
	// direct fetch later supplies the real payload for the same key.
	renderer := &fakeRenderer{session: &fakeSession{
		html: map[string]string{"https://example.com/": pageHTML},
		captured: []render.CapturedImage{
			{URL: "https://example.com/media/photo.jpg", ContentType: "image/jpeg", Body: small},
		},
	}}
	fetcher := &fakeFetcher{images: map[string][]byte{
		"https://example.com/media/photo.jpg":  large,
		"https://example.com/media/banner.png": small,
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindImages)

	p := NewImages(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})

	require.Equal(t, progress.StatusDone, j.Status())
	_, items := j.Counters()
	require.Equal(t, 2, items)

	rc, err := blobs.Open(context.Background(), j.Artifact().Path)
	require.NoError(t, err)
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var files []int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeReg {
			files = append(files, hdr.Size)
		}
	}
	require.Len(t, files, 2)
	// Entries come out largest first and the placeholder capture lost to
	// the full fetch of the same photo.
	require.Equal(t, int64(len(large)), files[0])
	require.Equal(t, int64(len(small)), files[1])
}

func TestImagesPipelineMinKBFilter(t *testing.T) {
	t.Parallel()

	tiny := make([]byte, 2<<10)
	renderer := &fakeRenderer{session: &fakeSession{
		html: map[string]string{"https://example.com/": `<html><body><img src="/icon.png"></body></html>`},
	}}
	fetcher := &fakeFetcher{images: map[string][]byte{
		"https://example.com/icon.png": tiny,
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindImages)

	p := NewImages(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/", MinKB: 4})

	require.Equal(t, progress.StatusError, j.Status())
	require.Equal(t, job.MsgNoContent, j.Snapshot().Message)
}

func TestImagesPipelineAssetScan(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 8<<10)
	renderer := &fakeRenderer{session: &fakeSession{
		html: map[string]string{"https://example.com/": `<html><head>
<link rel="stylesheet" href="/theme.css"></head><body><p>hi</p></body></html>`},
	}}
	fetcher := &fakeFetcher{
		assets: map[string]string{
			"https://example.com/theme.css": `.hero { background: url("/img/hero.webp"); }`,
		},
		images: map[string][]byte{
			"https://example.com/img/hero.webp": payload,
		},
	}
	j, runCtx, blobs, _ := newTestJob(t, job.KindImages)

	p := NewImages(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})

	require.Equal(t, progress.StatusDone, j.Status())
	_, items := j.Counters()
	require.Equal(t, 1, items)
}

func TestValidateRejectsLoopback(t *testing.T) {
	t.Parallel()

	checker := safeurl.New(nil)
	ctx := context.Background()
	for _, req := range []Request{
		{Mode: ModeURL, URL: "http://127.0.0.1/admin"},
		{Mode: ModeCrawl, URL: "http://[::1]:8080/"},
		{Mode: ModeList, URLs: []string{"https://example.com/", "http://169.254.169.254/latest/meta-data/"}},
	} {
		err := req.Validate(ctx, checker)
		require.ErrorIs(t, err, safeurl.ErrBlockedHost, "mode %s", req.Mode)
	}
}

func TestValidateShape(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.Error(t, (&Request{Mode: ModeURL}).Validate(ctx, nil))
	require.Error(t, (&Request{Mode: ModeList}).Validate(ctx, nil))
	require.Error(t, (&Request{Mode: "spider"}).Validate(ctx, nil))
	require.Error(t, (&Request{Mode: ModeURL, URL: "ftp://example.com/"}).Validate(ctx, nil))

	tooMany := Request{Mode: ModeList, URLs: make([]string, MaxListURLs+1)}
	for i := range tooMany.URLs {
		tooMany.URLs[i] = fmt.Sprintf("https://example.com/p/%d/", i)
	}
	require.Error(t, tooMany.Validate(ctx, nil))

	require.NoError(t, (&Request{Mode: ModeURL, URL: "https://example.com/"}).Validate(ctx, nil))
}

func TestCanonicalMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, job.MsgNoContent, canonicalMessage(errors.New(job.MsgNoContent)))
	require.Equal(t, job.MsgCancelled, canonicalMessage(context.Canceled))
	require.Equal(t, job.MsgCancelled, canonicalMessage(fmt.Errorf("navigate: %w", context.Canceled)))
	require.Equal(t, job.MsgBlocked, canonicalMessage(fmt.Errorf("page 3: %s", job.MsgBlocked)))
	require.Equal(t, "internal error: boom", canonicalMessage(errors.New("boom")))
}

// Not parallel: it reads process-global counters.
func TestImagesStoredCountedOncePerPayload(t *testing.T) {
	const series = "sitegrab_images_stored_total"
	before := metricValue(t, series)

	small := make([]byte, 6<<10)
	pageHTML := `<html><body>
<img src="https://example.com/media/one.jpg">
<img src="https://example.com/media/two.jpg">
</body></html>`

	renderer := &fakeRenderer{session: &fakeSession{
		html: map[string]string{"https://example.com/": pageHTML},
	}}
	fetcher := &fakeFetcher{images: map[string][]byte{
		"https://example.com/media/one.jpg": small,
		"https://example.com/media/two.jpg": small,
	}}
	j, runCtx, blobs, _ := newTestJob(t, job.KindImages)

	p := NewImages(testDeps(fetcher, renderer, blobs, t.TempDir()), nil)
	p.Run(runCtx, j, Request{Mode: ModeURL, URL: "https://example.com/"})
	require.Equal(t, progress.StatusDone, j.Status())

	// Exactly one increment per stored payload, counted where it is stored.
	require.Equal(t, before+2, metricValue(t, series))
}

func metricValue(t *testing.T, series string) float64 {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if strings.HasPrefix(line, series+" ") {
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, series)), 64)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}

func TestWorkerWidth(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2, workerWidth(2, 10))
	require.Equal(t, 3, workerWidth(0, 3))
	require.Equal(t, 8, workerWidth(64, 100))
	require.Equal(t, 1, workerWidth(4, 1))
}
