// Package simple holds the crawl scope policy: which links to follow, which
// to download and which pages to render.
package simple

import (
	"net/url"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JakeFAU/lms-courier/internal/task"
)

// Policy scopes a crawl to the target's host and path.
type Policy struct {
	host    string
	prefix  string
	include []string
	render  string
}

// New creates a Policy rooted at target. Include patterns are doublestar
// globs matched against the link path without its leading slash.
func New(target *url.URL, include []string, render string) *Policy {
	prefix := target.Path
	switch {
	case prefix == "":
		prefix = "/"
	case !strings.HasSuffix(prefix, "/"):
		prefix = path.Dir(prefix)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	patterns := make([]string, 0, len(include))
	for _, p := range include {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p != "" && doublestar.ValidatePattern(p) {
			patterns = append(patterns, p)
		}
	}
	return &Policy{
		host:    strings.ToLower(target.Host),
		prefix:  prefix,
		include: patterns,
		render:  render,
	}
}

// AllowFetch reports whether u is a page inside the crawl scope.
func (p *Policy) AllowFetch(u *url.URL) bool {
	if !strings.EqualFold(u.Host, p.host) {
		return false
	}
	return strings.HasPrefix(u.Path+"/", p.prefix) || strings.HasPrefix(u.Path, p.prefix)
}

// AllowDownload reports whether u names an attachment to keep. Attachments
// may live on any host.
func (p *Policy) AllowDownload(u *url.URL) bool {
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return false
	}
	for _, pattern := range p.include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// AllowHeadless reports whether a page should be rendered in a browser.
func (p *Policy) AllowHeadless(needsJS bool) bool {
	switch p.render {
	case task.RenderAlways:
		return true
	case task.RenderAuto:
		return needsJS
	default:
		return false
	}
}
