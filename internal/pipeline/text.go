package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/document"
	"github.com/sitegrab/sitegrab/internal/extract"
	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/pool"
	"github.com/sitegrab/sitegrab/internal/render"
)

// Text runs the text pipeline: discover pages, extract each page's main
// content, and assemble one PDF document in input order.
type Text struct {
	deps Deps
	conv *extract.Converter
	now  func() time.Time
}

// NewText builds the text pipeline.
func NewText(deps Deps, now func() time.Time) *Text {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Text{deps: deps, conv: extract.NewConverter(), now: now}
}

// Run executes the pipeline and moves the job to a terminal state. It never
// returns an error; failures terminate the job with the mapped message.
func (t *Text) Run(ctx context.Context, j *job.Job, req Request) {
	if err := t.run(ctx, j, req); err != nil {
		j.Fail(canonicalMessage(err), t.now())
	}
}

func (t *Text) run(ctx context.Context, j *job.Job, req Request) error {
	logger := t.deps.logger().With(zap.String("job_id", j.ID))

	pages, err := resolvePages(ctx, t.deps, j, req)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New(job.MsgNoPages)
	}
	if j.Cancelled() {
		return context.Canceled
	}

	if req.Mode == ModeURL && req.RenderPDF {
		return t.printPDF(ctx, j, pages[0])
	}

	j.SetStage("extracting", len(pages), 25)
	width := workerWidth(t.deps.Workers, len(pages))

	sessions := newSessionSet()
	j.AttachSession(sessions)
	defer func() {
		j.DetachSession()
		sessions.Close()
	}()

	results := pool.Map(ctx, pages, width, func(ctx context.Context, i int, pageURL string) (*extract.Section, error) {
		if j.Cancelled() {
			return nil, context.Canceled
		}
		section, err := t.extractPage(ctx, sessions, pageURL)
		if err != nil {
			logger.Debug("page extraction failed", zap.String("url", pageURL), zap.Error(err))
			metrics.ObserveExtraction("failed")
			if errors.Is(err, errBlocked) {
				return nil, errBlocked
			}
			return nil, nil // page dropped, pipeline continues
		}
		metrics.ObserveExtraction("ok")
		j.Advance(i+1, 25, 85)
		return section, nil
	})
	if j.Cancelled() {
		return context.Canceled
	}

	var sections []extract.Section
	blocked := 0
	for _, res := range results {
		if res.Err != nil {
			if errors.Is(res.Err, errBlocked) {
				blocked++
			}
			continue
		}
		if res.Value != nil {
			sections = append(sections, *res.Value)
		}
	}
	j.CountItems(len(sections))

	if len(sections) == 0 {
		if blocked == len(pages) && blocked > 0 {
			return errors.New(job.MsgBlocked)
		}
		return errors.New(job.MsgNoContent)
	}

	j.SetStage("building document", 1, 90)
	pdf, err := document.Build(pages[0], sections)
	if err != nil {
		return fmt.Errorf("build document: %w", err)
	}
	return t.store(ctx, j, pdf, "application/pdf", ".pdf")
}

var errBlocked = errors.New(job.MsgBlocked)

// extractPage runs the light pass and, when it comes up short, the rendered
// pass, keeping whichever yields more text.
func (t *Text) extractPage(ctx context.Context, sessions *sessionSet, pageURL string) (*extract.Section, error) {
	var (
		bestFrag string
		bestLen  int
		title    string
	)

	light, err := t.deps.Fetcher.Page(ctx, pageURL)
	lightBlocked := false
	if err == nil {
		if extract.IsInterstitial(string(light.Body)) {
			lightBlocked = true
		} else {
			bestFrag, bestLen, title = extract.Main(string(light.Body))
		}
	}

	if bestLen < extract.MinTextLen || lightBlocked {
		frag, n, tl, rerr := t.renderedPass(ctx, sessions, pageURL)
		if rerr == nil && n > bestLen {
			bestFrag, bestLen = frag, n
			if tl != "" {
				title = tl
			}
		} else if rerr != nil && bestLen == 0 {
			if errors.Is(rerr, errBlocked) {
				return nil, errBlocked
			}
			return nil, rerr
		}
	}

	if bestLen == 0 {
		if lightBlocked {
			return nil, errBlocked
		}
		return nil, errors.New("no extractable content")
	}

	md, err := t.conv.Markdown(bestFrag)
	if err != nil {
		return nil, err
	}
	return &extract.Section{Title: title, URL: pageURL, Markdown: md}, nil
}

func (t *Text) renderedPass(ctx context.Context, sessions *sessionSet, pageURL string) (string, int, string, error) {
	session, err := t.deps.Renderer.NewSession(ctx)
	if err != nil {
		return "", 0, "", err
	}
	sessions.add(session)
	defer sessions.remove(session)

	result, err := session.HTML(ctx, pageURL, render.Options{
		WaitIdle:       true,
		ChallengeCheck: extract.IsInterstitial,
	})
	if err != nil {
		return "", 0, "", err
	}
	if extract.IsInterstitial(result.HTML) {
		return "", 0, "", errBlocked
	}
	frag, n, title := extract.Main(result.HTML)
	return frag, n, title, nil
}

// printPDF renders the single requested page and prints it in the browser.
func (t *Text) printPDF(ctx context.Context, j *job.Job, pageURL string) error {
	j.SetStage("rendering", 1, 30)
	session, err := t.deps.Renderer.NewSession(ctx)
	if err != nil {
		return err
	}
	j.AttachSession(sessionCloser{session})
	defer func() {
		j.DetachSession()
		session.Close()
	}()

	result, err := session.HTML(ctx, pageURL, render.Options{
		WaitIdle:       true,
		ChallengeCheck: extract.IsInterstitial,
	})
	if err != nil {
		return err
	}
	if extract.IsInterstitial(result.HTML) {
		return errors.New(job.MsgBlocked)
	}
	j.Advance(1, 30, 80)

	pdf, err := session.PrintPDF(ctx)
	if err != nil {
		return fmt.Errorf("print page: %w", err)
	}
	j.CountItems(1)
	return t.store(ctx, j, pdf, "application/pdf", ".pdf")
}

func (t *Text) store(ctx context.Context, j *job.Job, data []byte, contentType, ext string) error {
	if j.Cancelled() {
		return context.Canceled
	}
	j.SetStage("storing artifact", 1, 95)
	path := "artifacts/" + j.ID + ext
	if _, err := t.deps.Blobs.Put(ctx, path, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	j.Finish(job.Artifact{
		Path:        path,
		ContentType: contentType,
		Filename:    j.ID + ext,
	}, t.now())
	return nil
}
