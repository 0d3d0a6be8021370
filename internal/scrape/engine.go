// Package scrape is the task engine run inside a worker process. It signs in
// to the target site, walks the course pages and saves each one as HTML or as
// a printed PDF, and downloads attachments matching the include globs.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/lms-courier/internal/fetcher/colly"
	"github.com/JakeFAU/lms-courier/internal/fetcher/headless"
	"github.com/JakeFAU/lms-courier/internal/hash/sha256"
	"github.com/JakeFAU/lms-courier/internal/headless/detector"
	"github.com/JakeFAU/lms-courier/internal/policy/ratelimit"
	"github.com/JakeFAU/lms-courier/internal/task"
)

const defaultMaxPages = 50

// ErrInvalidInput marks an Input the engine cannot start on.
var ErrInvalidInput = errors.New("invalid task input")

// Session is an authenticated HTTP client.
type Session interface {
	Login(ctx context.Context, loginURL, username, password string) error
	Fetch(ctx context.Context, rawURL string) (*collyfetcher.Page, error)
	Cookies(rawURL string) []*http.Cookie
}

// Renderer prints a page to PDF.
type Renderer interface {
	PrintPDF(ctx context.Context, url string, cookies []*http.Cookie, dst string) error
	Close()
}

// Detector decides whether raw HTML needs a browser.
type Detector interface {
	NeedsJS(body []byte) bool
}

// Limiter paces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher digests saved files for de-duplication.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Deps are the engine's collaborators. Nil fields get production defaults.
type Deps struct {
	NewSession  func(task.Options) Session
	NewRenderer func(task.Options) (Renderer, error)
	NewLimiter  func(task.Options) Limiter
	Detector    Detector
	Hasher      Hasher
	Logger      *zap.Logger
}

// Engine implements task.Runner.
type Engine struct {
	deps   Deps
	logger *zap.Logger
}

var _ task.Runner = (*Engine)(nil)

// New builds an Engine.
func New(deps Deps) *Engine {
	if deps.NewSession == nil {
		deps.NewSession = defaultSession
	}
	if deps.NewRenderer == nil {
		deps.NewRenderer = defaultRenderer
	}
	if deps.NewLimiter == nil {
		deps.NewLimiter = defaultLimiter
	}
	if deps.Detector == nil {
		deps.Detector = detector.NewHeuristic(0)
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{deps: deps, logger: deps.Logger}
}

func defaultSession(opts task.Options) Session {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: opts.UserAgent,
		Timeout:   opts.RequestTimeout,
	})
}

func defaultRenderer(opts task.Options) (Renderer, error) {
	r, err := headless.NewChromedp(headless.Config{
		Headless:          opts.Headless,
		MaxParallel:       1,
		UserAgent:         opts.UserAgent,
		NavigationTimeout: opts.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("start renderer: %w", err)
	}
	return r, nil
}

func defaultLimiter(opts task.Options) Limiter {
	return ratelimit.New(ratelimit.Config{DefaultRPS: opts.RPS, DefaultBurst: 1})
}

// Run performs one task and returns the saved files in the order they were
// produced. Cancellation is checked between pages and downloads.
func (e *Engine) Run(ctx context.Context, in task.Input) ([]string, error) {
	target, err := validate(in)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(in.OutputDir, 0o700); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	r := newRun(e, in, target)
	defer r.close()

	if in.Options.LoginURL != "" {
		r.logger.Info("Signing in as "+in.Credentials.Login, zap.String("login_url", in.Options.LoginURL))
		if err := r.login(ctx); err != nil {
			return nil, err
		}
		r.logger.Info("Signed in")
	}
	if err := r.crawl(ctx); err != nil {
		return nil, err
	}
	r.logger.Info(fmt.Sprintf("Finished: %d files from %d pages", len(r.artifacts), r.pages))
	return r.artifacts, nil
}

func validate(in task.Input) (*url.URL, error) {
	if in.OutputDir == "" {
		return nil, fmt.Errorf("%w: output dir is required", ErrInvalidInput)
	}
	target, err := url.Parse(in.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: parse target: %w", ErrInvalidInput, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: target must be an absolute http(s) URL", ErrInvalidInput)
	}
	switch in.Options.Render {
	case "", task.RenderNever, task.RenderAuto, task.RenderAlways:
	default:
		return nil, fmt.Errorf("%w: unknown render mode %q", ErrInvalidInput, in.Options.Render)
	}
	return target, nil
}

// checkpoint is the cooperative cancellation point between units of work.
func checkpoint(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, err) {
		return fmt.Errorf("task canceled: %w: %w", err, cause)
	}
	return fmt.Errorf("task canceled: %w", err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return checkpoint(ctx)
	case <-timer.C:
		return nil
	}
}
