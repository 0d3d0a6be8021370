package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/lms-courier/internal/fetcher/colly"
	"github.com/JakeFAU/lms-courier/internal/policy/simple"
	"github.com/JakeFAU/lms-courier/internal/task"
)

// run is the state of one Engine.Run call.
type run struct {
	engine  *Engine
	in      task.Input
	target  *url.URL
	policy  *simple.Policy
	session Session
	limiter Limiter
	logger  *zap.Logger

	renderer    Renderer
	rendererErr error

	seen       map[string]struct{}
	downloaded map[string]struct{}
	digests    map[string]string
	names      map[string]struct{}
	artifacts  []string
	pages      int
}

func newRun(e *Engine, in task.Input, target *url.URL) *run {
	return &run{
		engine:     e,
		in:         in,
		target:     target,
		policy:     simple.New(target, in.Options.Include, in.Options.Render),
		session:    e.deps.NewSession(in.Options),
		limiter:    e.deps.NewLimiter(in.Options),
		logger:     e.logger,
		seen:       make(map[string]struct{}),
		downloaded: make(map[string]struct{}),
		digests:    make(map[string]string),
		names:      make(map[string]struct{}),
	}
}

func (r *run) close() {
	if r.renderer != nil {
		r.renderer.Close()
	}
}

func (r *run) login(ctx context.Context) error {
	if err := checkpoint(ctx); err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx, r.in.Options.LoginURL); err != nil {
		return checkpointOr(ctx, err)
	}
	err := r.session.Login(ctx, r.in.Options.LoginURL, r.in.Credentials.Login, r.in.Credentials.Password)
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil {
			return cerr
		}
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

// crawl walks pages breadth-first from the target until the scope is
// exhausted or MaxPages pages were saved.
func (r *run) crawl(ctx context.Context) error {
	maxPages := r.in.Options.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	queue := []*url.URL{r.target}
	r.seen[key(r.target)] = struct{}{}

	for len(queue) > 0 && r.pages < maxPages {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		u := queue[0]
		queue = queue[1:]
		isTarget := u == r.target
		if !isTarget {
			if err := sleep(ctx, r.in.Options.WaitBetweenPages); err != nil {
				return err
			}
		}

		page, err := r.fetch(ctx, u)
		if err != nil {
			if cerr := checkpoint(ctx); cerr != nil {
				return cerr
			}
			if isTarget {
				return fmt.Errorf("open %s: %w", u, err)
			}
			r.logger.Warn("Skipped "+u.String(), zap.Error(err))
			continue
		}

		if !page.IsHTML() {
			if isTarget {
				if _, err := r.saveAttachment(u, page); err != nil {
					return err
				}
				continue
			}
			r.logger.Warn("Skipped non-page link "+u.String(), zap.String("content_type", page.ContentType()))
			continue
		}

		links, err := r.savePage(ctx, u, page)
		if err != nil {
			if cerr := checkpoint(ctx); cerr != nil {
				return cerr
			}
			return err
		}
		for _, link := range links {
			switch {
			case r.policy.AllowDownload(link):
				if err := r.download(ctx, link); err != nil {
					return err
				}
			case r.policy.AllowFetch(link):
				k := key(link)
				if _, ok := r.seen[k]; ok {
					continue
				}
				r.seen[k] = struct{}{}
				queue = append(queue, link)
			}
		}
	}
	if len(queue) > 0 {
		r.logger.Info(fmt.Sprintf("Page limit of %d reached, %d pages left unvisited", maxPages, len(queue)))
	}
	return nil
}

func (r *run) fetch(ctx context.Context, u *url.URL) (*collyfetcher.Page, error) {
	if err := r.limiter.Wait(ctx, u.String()); err != nil {
		return nil, err
	}
	page, err := r.session.Fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if page.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("status %d", page.StatusCode)
	}
	return page, nil
}

// savePage stores one page as HTML, or as PDF when the render policy asks for
// a browser, and returns the links found in the raw HTML.
func (r *run) savePage(ctx context.Context, u *url.URL, page *collyfetcher.Page) ([]*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", u, err)
	}
	base := u
	if page.URL != "" {
		if final, err := url.Parse(page.URL); err == nil {
			base = final
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, ok := collyfetcher.Resolve(base, href); ok {
			base = b
		}
	}
	title := pageTitle(doc, u)
	seq := r.pages + 1

	var path string
	if r.policy.AllowHeadless(r.engine.deps.Detector.NeedsJS(page.Body)) {
		path, err = r.printPage(ctx, u, seq, title)
		switch {
		case err == nil:
		case ctx.Err() == nil && r.in.Options.Render == task.RenderAuto:
			r.logger.Warn("Could not print "+title+", keeping the HTML instead", zap.Error(err))
			path = ""
		default:
			return nil, err
		}
	}
	if path == "" {
		path = r.reserve(fmt.Sprintf("%03d-%s.html", seq, slug(title)))
		if err := os.WriteFile(path, page.Body, 0o600); err != nil {
			return nil, fmt.Errorf("write page: %w", err)
		}
	}
	r.pages++
	if kept, err := r.keep(path); err != nil {
		return nil, err
	} else if kept {
		r.logger.Info(fmt.Sprintf("Saved page %d: %s", seq, title),
			zap.String("url", u.String()),
			zap.Int("status", page.StatusCode),
			zap.Int("bytes", len(page.Body)),
			zap.String("file", filepath.Base(path)),
		)
	}

	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link, ok := collyfetcher.Resolve(base, href); ok {
			links = append(links, link)
		}
	})
	return links, nil
}

func (r *run) printPage(ctx context.Context, u *url.URL, seq int, title string) (string, error) {
	renderer, err := r.rendererFor()
	if err != nil {
		return "", err
	}
	if err := r.limiter.Wait(ctx, u.String()); err != nil {
		return "", checkpointOr(ctx, err)
	}
	path := r.reserve(fmt.Sprintf("%03d-%s.pdf", seq, slug(title)))
	if err := renderer.PrintPDF(ctx, u.String(), r.session.Cookies(u.String()), path); err != nil {
		return "", checkpointOr(ctx, fmt.Errorf("render %s: %w", u, err))
	}
	return path, nil
}

func (r *run) rendererFor() (Renderer, error) {
	if r.renderer != nil || r.rendererErr != nil {
		return r.renderer, r.rendererErr
	}
	r.renderer, r.rendererErr = r.engine.deps.NewRenderer(r.in.Options)
	return r.renderer, r.rendererErr
}

func (r *run) download(ctx context.Context, u *url.URL) error {
	k := key(u)
	if _, ok := r.downloaded[k]; ok {
		return nil
	}
	r.downloaded[k] = struct{}{}
	if err := checkpoint(ctx); err != nil {
		return err
	}
	page, err := r.fetch(ctx, u)
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil {
			return cerr
		}
		r.logger.Warn("Could not download "+u.String(), zap.Error(err))
		return nil
	}
	_, err = r.saveAttachment(u, page)
	return err
}

func (r *run) saveAttachment(u *url.URL, page *collyfetcher.Page) (string, error) {
	path := r.reserve(attachmentName(u, page.Header))
	if err := os.WriteFile(path, page.Body, 0o600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	kept, err := r.keep(path)
	if err != nil {
		return "", err
	}
	if kept {
		r.logger.Info("Downloaded "+filepath.Base(path),
			zap.String("url", u.String()),
			zap.Int("status", page.StatusCode),
			zap.Int("bytes", len(page.Body)),
		)
	}
	return path, nil
}

// keep records path as an artifact unless an identical file was already
// saved, in which case the new copy is removed.
func (r *run) keep(path string) (bool, error) {
	digest, err := r.engine.deps.Hasher.HashFile(path)
	if err != nil {
		return false, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	if first, ok := r.digests[digest]; ok {
		r.logger.Info(fmt.Sprintf("Skipped %s, same content as %s", filepath.Base(path), filepath.Base(first)))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("remove duplicate: %w", err)
		}
		return false, nil
	}
	r.digests[digest] = path
	r.artifacts = append(r.artifacts, path)
	return true, nil
}

// reserve returns a path in the output dir that no earlier artifact uses.
func (r *run) reserve(name string) string {
	candidate := name
	for i := 2; ; i++ {
		if _, taken := r.names[candidate]; !taken {
			r.names[candidate] = struct{}{}
			return filepath.Join(r.in.OutputDir, candidate)
		}
		ext := filepath.Ext(name)
		candidate = fmt.Sprintf("%s-%d%s", name[:len(name)-len(ext)], i, ext)
	}
}

// checkpointOr prefers the cancellation error over err once ctx is done.
func checkpointOr(ctx context.Context, err error) error {
	if cerr := checkpoint(ctx); cerr != nil {
		return cerr
	}
	return err
}
