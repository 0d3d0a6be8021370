package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_NeedsJS_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.NeedsJS(nil))
}

func TestHeuristic_NeedsJS_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.NeedsJS([]byte(`<div id="__next"></div>`)))
}

func TestHeuristic_NeedsJS_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	require.True(t, h.NeedsJS([]byte(`<html><script>var a=1;</script><p>t</p></html>`)))
}

func TestHeuristic_NeedsJS_Keywords(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10, "loading course")
	page := `<html><body><p>` + strings.Repeat("lorem ipsum ", 40) + `</p><noscript>Please ENABLE JavaScript</noscript></body></html>`
	require.True(t, h.NeedsJS([]byte(page)))
	require.True(t, h.NeedsJS([]byte(`<html><body>`+strings.Repeat("x ", 200)+`Loading Course...</body></html>`)))
}

func TestHeuristic_NeedsJS_ScriptShellWithoutText(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	page := `<html><head><script src="/bundle.js"></script></head><body><div class="shell">` +
		strings.Repeat(" ", 3000) + `</div></body></html>`
	require.True(t, h.NeedsJS([]byte(page)))
}

func TestHeuristic_NeedsJS_StaticPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := `<html><head><title>Lesson 1</title><script>track()</script></head><body><article>` +
		strings.Repeat("Lesson content goes here. ", 40) + `</article></body></html>`
	require.False(t, h.NeedsJS([]byte(page)))
	require.False(t, (*Heuristic)(nil).NeedsJS([]byte(page)))
}
