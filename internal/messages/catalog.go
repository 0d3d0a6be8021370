// Package messages holds the user-facing texts and templates sent to
// requesters. Defaults are built in; a YAML file may override any key.
package messages

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Catalog keys.
const (
	KeyStart           = "start"
	KeyWrongMessage    = "wrong_message"
	KeyWrongLink       = "wrong_link"
	KeyAbortButton     = "btn_abort"
	KeyLogLine         = "log_line"
	KeyProgress        = "progress"
	KeyDone            = "done"
	KeyDoneInterrupted = "done_interrupted"
	KeyDoneError       = "done_error"
	KeyDoneTimeout     = "done_timeout"
)

var defaults = map[string]string{
	KeyStart:           "Send three lines: your login, your password and the course link\\.",
	KeyWrongMessage:    "Expected exactly three lines: login, password and link\\.",
	KeyWrongLink:       "That link does not look like a course page\\. Send a link matching {{.Pattern}}",
	KeyAbortButton:     "Abort",
	KeyLogLine:         "{{.Line}}\\. {{.Entry}}\n",
	KeyProgress:        "{{.Log}}\n⏳ {{.Remaining}}s left",
	KeyDone:            "{{.Log}}\n✅ Done",
	KeyDoneInterrupted: "{{.Log}}\n⛔ Interrupted",
	KeyDoneError:       "{{.Log}}\n❌ Failed: {{.Reason}}",
	KeyDoneTimeout:     "{{.Log}}\n⌛ Timed out",
}

// Catalog renders messages by key.
type Catalog struct {
	tmpl *template.Template
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := build(nil)
	if err != nil {
		panic(fmt.Sprintf("built-in message catalog is invalid: %v", err))
	}
	return c
}

// Load reads overrides from a YAML mapping of key to template text. An empty
// path returns the defaults.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}
	overrides := map[string]string{}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode messages file: %w", err)
	}
	for key := range overrides {
		if _, known := defaults[key]; !known {
			return nil, fmt.Errorf("unknown message key %q", key)
		}
	}
	return build(overrides)
}

func build(overrides map[string]string) (*Catalog, error) {
	root := template.New("messages").Option("missingkey=zero")
	for key, text := range defaults {
		if override, ok := overrides[key]; ok {
			text = override
		}
		if _, err := root.New(key).Parse(text); err != nil {
			return nil, fmt.Errorf("parse message %q: %w", key, err)
		}
	}
	return &Catalog{tmpl: root}, nil
}

// Render executes the template stored under key. Rendering problems are
// reported inline rather than dropping the message.
func (c *Catalog) Render(key string, data any) string {
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, key, data); err != nil {
		return fmt.Sprintf("[%s: %v]", key, err)
	}
	return buf.String()
}

// Text renders a key that takes no data.
func (c *Catalog) Text(key string) string {
	return c.Render(key, nil)
}

// LogLine formats one relayed log entry with its running line number.
func (c *Catalog) LogLine(n int, entry string) string {
	return c.Render(KeyLogLine, struct {
		Line  int
		Entry string
	}{Line: n, Entry: Escape(entry)})
}

// WrongLink renders the rejection of a link that does not match pattern.
func (c *Catalog) WrongLink(pattern string) string {
	return c.Render(KeyWrongLink, struct {
		Pattern string
	}{Pattern: Escape(pattern)})
}

// Progress renders a non-terminal status update.
func (c *Catalog) Progress(log string, remainingSeconds int) string {
	return c.Render(KeyProgress, struct {
		Log       string
		Remaining int
	}{Log: log, Remaining: remainingSeconds})
}

// Final renders one of the terminal templates.
func (c *Catalog) Final(key, log, reason string) string {
	return c.Render(key, struct {
		Log    string
		Reason string
	}{Log: log, Reason: Escape(reason)})
}
