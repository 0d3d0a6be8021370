// Package collyfetcher implements an authenticated browsing session on top of
// gocolly. The session keeps the cookie jar between the login POST and every
// later fetch.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 64 << 20
)

// Form field names of the login POST.
const (
	FieldUsername = "username"
	FieldPassword = "password"
)

// ErrLoginRejected means the site answered the login POST but did not let us in.
var ErrLoginRejected = errors.New("login rejected")

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Page is one fetched response.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the media type without parameters.
func (p *Page) ContentType() string {
	ct := p.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsHTML reports whether the page is an HTML document.
func (p *Page) IsHTML() bool {
	ct := p.ContentType()
	if ct == "" {
		return bytes.Contains(bytes.ToLower(p.Body[:min(len(p.Body), 512)]), []byte("<html"))
	}
	return ct == "text/html" || ct == "application/xhtml+xml"
}

// Session is a cookie-carrying client. It is not safe for concurrent use.
type Session struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Session.
func New(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Session{cfg: cfg, base: c}
}

// Login posts the credentials to loginURL. A response that still shows a
// password field is treated as a rejected login.
func (s *Session) Login(ctx context.Context, loginURL, username, password string) error {
	var (
		page     Page
		fetchErr error
	)
	collector := s.collector(time.Now(), &page, &fetchErr)
	form := map[string]string{FieldUsername: username, FieldPassword: password}
	err := s.run(ctx, &fetchErr, func() error { return collector.Post(loginURL, form) })
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrLoginRejected, page.StatusCode)
	}
	if page.IsHTML() && hasPasswordField(page.Body) {
		return fmt.Errorf("%w: login form shown again", ErrLoginRejected)
	}
	return nil
}

// Fetch performs a GET with the session cookies.
func (s *Session) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	var (
		page     Page
		fetchErr error
	)
	collector := s.collector(time.Now(), &page, &fetchErr)
	if err := s.run(ctx, &fetchErr, func() error { return collector.Visit(rawURL) }); err != nil {
		return nil, err
	}
	return &page, nil
}

// Cookies returns the cookies the session would send to rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	return s.base.Cookies(rawURL)
}

func (s *Session) collector(start time.Time, page *Page, fetchErr *error) *colly.Collector {
	collector := s.base.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	s.configureHooks(collector, start, page, fetchErr)
	return collector
}

func (s *Session) configureHooks(hooks collectorHooks, start time.Time, page *Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*page = Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (s *Session) run(ctx context.Context, fetchErr *error, visit func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func hasPasswordField(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(`input[type="password"]`).Length() > 0
}

// Resolve makes href absolute against base and drops the fragment.
func Resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	return u, true
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
