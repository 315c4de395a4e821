package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/archive"
	"github.com/sitegrab/sitegrab/internal/extract"
	"github.com/sitegrab/sitegrab/internal/images"
	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/pool"
	"github.com/sitegrab/sitegrab/internal/render"
)

// Images runs the image pipeline: render every page, harvest image candidates
// from network capture, the DOM, computed styles and linked assets, dedupe
// them by canonical key keeping the best representation, and pack the winners
// into a gzipped tar archive.
type Images struct {
	deps Deps
	now  func() time.Time
}

// NewImages builds the image pipeline.
func NewImages(deps Deps, now func() time.Time) *Images {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Images{deps: deps, now: now}
}

// Run executes the pipeline and moves the job to a terminal state.
func (p *Images) Run(ctx context.Context, j *job.Job, req Request) {
	if err := p.run(ctx, j, req); err != nil {
		j.Fail(canonicalMessage(err), p.now())
	}
}

func (p *Images) run(ctx context.Context, j *job.Job, req Request) error {
	logger := p.deps.logger().With(zap.String("job_id", j.ID))

	pages, err := resolvePages(ctx, p.deps, j, req)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New(job.MsgNoPages)
	}
	if j.Cancelled() {
		return context.Canceled
	}

	registry, err := images.NewRegistry(p.deps.WorkDir, req.MinKB, logger)
	if err != nil {
		return fmt.Errorf("create image registry: %w", err)
	}
	defer func() {
		if cerr := registry.Close(); cerr != nil {
			logger.Warn("image registry cleanup failed", zap.Error(cerr))
		}
	}()

	sessions := newSessionSet()
	j.AttachSession(sessions)
	defer func() {
		j.DetachSession()
		sessions.Close()
	}()

	j.SetStage("scanning pages", len(pages), 25)
	width := workerWidth(p.deps.Workers, len(pages))
	results := pool.Map(ctx, pages, width, func(ctx context.Context, i int, pageURL string) (struct{}, error) {
		if j.Cancelled() {
			return struct{}{}, context.Canceled
		}
		if err := p.scanPage(ctx, sessions, registry, pageURL); err != nil {
			logger.Debug("page scan failed", zap.String("url", pageURL), zap.Error(err))
			if errors.Is(err, errBlocked) {
				return struct{}{}, errBlocked
			}
			return struct{}{}, nil // page dropped, pipeline continues
		}
		j.Advance(i+1, 25, 70)
		return struct{}{}, nil
	})
	if j.Cancelled() {
		return context.Canceled
	}

	blocked := 0
	for _, res := range results {
		if errors.Is(res.Err, errBlocked) {
			blocked++
		}
	}

	if err := p.flushPending(ctx, j, registry); err != nil {
		return err
	}
	if j.Cancelled() {
		return context.Canceled
	}

	entries := registry.Entries()
	j.CountItems(len(entries))
	if len(entries) == 0 {
		if blocked == len(pages) && blocked > 0 {
			return errors.New(job.MsgBlocked)
		}
		return errors.New(job.MsgNoContent)
	}

	return p.buildArchive(ctx, j, req, entries)
}

// scanPage renders one page and feeds every discovered candidate into the
// registry. Captured network payloads beat URL candidates for the same key
// because their size is known.
func (p *Images) scanPage(ctx context.Context, sessions *sessionSet, registry *images.Registry, pageURL string) error {
	session, err := p.deps.Renderer.NewSession(ctx)
	if err != nil {
		return err
	}
	sessions.add(session)
	defer sessions.remove(session)

	result, err := session.HTML(ctx, pageURL, render.Options{
		WaitIdle:       true,
		ChallengeCheck: extract.IsInterstitial,
	})
	if err != nil {
		return err
	}
	if extract.IsInterstitial(result.HTML) {
		return errBlocked
	}
	if err := session.Settle(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	for _, img := range session.Captured() {
		registry.SubmitBuffer(img.URL, img.Body, img.ContentType)
	}
	if bgs, err := session.BackgroundImages(ctx); err == nil {
		for _, u := range bgs {
			registry.SubmitURL(u)
		}
	}

	refs := extract.Images(result.URL, result.HTML)
	for _, u := range refs.URLs {
		registry.SubmitURL(u)
	}
	for _, inline := range refs.Inline {
		registry.SubmitDataURI(inline.Data, inline.ContentType)
	}
	for _, assetURL := range refs.Assets {
		data, _, err := p.deps.Fetcher.Asset(ctx, assetURL)
		if err != nil {
			continue
		}
		for _, u := range extract.ScanAssetText(assetURL, string(data)) {
			registry.SubmitURL(u)
		}
	}
	return nil
}

// flushPending fetches every candidate that only exists as a URL so its real
// payload can compete in the registry.
func (p *Images) flushPending(ctx context.Context, j *job.Job, registry *images.Registry) error {
	pending := registry.Pending()
	if len(pending) == 0 {
		return nil
	}
	j.SetStage("fetching images", len(pending), 70)
	width := workerWidth(p.deps.Workers, len(pending))
	pool.Map(ctx, pending, width, func(ctx context.Context, i int, pf images.PendingFetch) (struct{}, error) {
		if j.Cancelled() {
			return struct{}{}, context.Canceled
		}
		data, contentType, err := p.deps.Fetcher.Image(ctx, pf.URL)
		if err == nil {
			registry.SubmitBuffer(pf.URL, data, contentType)
		}
		j.Advance(i+1, 70, 90)
		return struct{}{}, nil
	})
	return nil
}

// buildArchive packs the winning payloads into a tar.gz and stores it.
func (p *Images) buildArchive(ctx context.Context, j *job.Job, req Request, entries []images.Entry) error {
	j.SetStage("building archive", 1, 92)

	folder := archive.FolderName(archiveRoot(req))
	tmp, err := os.CreateTemp(p.deps.WorkDir, "sitegrab-archive-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create archive temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := archive.Build(tmp, folder, entries); err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}
	if j.Cancelled() {
		return context.Canceled
	}

	j.SetStage("storing artifact", 1, 96)
	path := "artifacts/" + j.ID + ".tar.gz"
	if _, err := p.deps.Blobs.Put(ctx, path, "application/gzip", tmp); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	j.Finish(job.Artifact{
		Path:        path,
		ContentType: "application/gzip",
		Filename:    folder + ".tar.gz",
	}, p.now())
	return nil
}

func archiveRoot(req Request) string {
	if req.URL != "" {
		return req.URL
	}
	if len(req.URLs) > 0 {
		return req.URLs[0]
	}
	return ""
}
