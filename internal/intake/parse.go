package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/lms-courier/internal/job"
	"github.com/JakeFAU/lms-courier/internal/task"
)

// StartCommand asks for the usage text.
const StartCommand = "/start"

// DefaultLinkPattern accepts any http(s) link.
const DefaultLinkPattern = `^https?://.+`

var (
	// ErrMalformedRequest means the text was not exactly login, password and link.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInvalidLink means the link did not match the configured pattern.
	ErrInvalidLink = errors.New("invalid link")
)

// Parser validates job requests.
type Parser struct {
	link *regexp.Regexp
}

// NewParser compiles pattern; empty means DefaultLinkPattern.
func NewParser(pattern string) (*Parser, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultLinkPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile link pattern: %w", err)
	}
	return &Parser{link: re}, nil
}

// Pattern returns the link pattern requests are checked against.
func (p *Parser) Pattern() string {
	return p.link.String()
}

// Parse reads a three-line request. Surrounding blank lines and whitespace
// around each line are ignored.
func (p *Parser) Parse(owner, text string) (job.Request, error) {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n")), "\n")
	if len(lines) != 3 {
		return job.Request{}, fmt.Errorf("%w: expected 3 lines, got %d", ErrMalformedRequest, len(lines))
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
		if lines[i] == "" {
			return job.Request{}, fmt.Errorf("%w: line %d is empty", ErrMalformedRequest, i+1)
		}
	}
	if !p.link.MatchString(lines[2]) {
		return job.Request{}, ErrInvalidLink
	}
	return job.Request{
		Owner:       owner,
		Credentials: task.Credentials{Login: lines[0], Password: lines[1]},
		Target:      lines[2],
	}, nil
}
