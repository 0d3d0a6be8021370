package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in   string
		want string
	}{
		"plain":     {in: "downloading lecture", want: "downloading lecture"},
		"sentence":  {in: "done.", want: `done\.`},
		"link":      {in: "[a](b)", want: `\[a\]\(b\)`},
		"all":       {in: "_*[]()~>#+-=|{}.!", want: `\_\*\[\]\(\)\~\>\#\+\-\=\|\{\}\.\!`},
		"non-ascii": {in: "файл-1", want: `файл\-1`},
		"regex":     {in: `^https://lms\.example\.com/`, want: `^https://lms\\\.example\\\.com/`},
		"code":      {in: "`x`", want: "\\`x\\`"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Escape(tc.in))
		})
	}
}

func TestDefaultCatalogRenders(t *testing.T) {
	t.Parallel()

	c := Default()
	require.Equal(t, "3\\. saved intro\\.pdf\n", c.LogLine(3, "saved intro.pdf"))
	require.Equal(t, "log\n⏳ 42s left", c.Progress("log", 42))
	require.Equal(t, "log\n❌ Failed: bad password\\!", c.Final(KeyDoneError, "log", "bad password!"))
	require.Equal(t, "Abort", c.Text(KeyAbortButton))
	require.Equal(t, "That link does not look like a course page\\. Send a link matching ^https?://\\.\\+", c.WrongLink("^https?://.+"))
	require.NotEqual(t, c.Final(KeyDone, "x", ""), c.Final(KeyDoneInterrupted, "x", ""))
	require.NotEqual(t, c.Final(KeyDoneTimeout, "x", ""), c.Final(KeyDoneError, "x", ""))
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("btn_abort: Stop\nprogress: \"{{.Remaining}} | {{.Log}}\"\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Stop", c.Text(KeyAbortButton))
	require.Equal(t, "7 | tail", c.Progress("tail", 7))
	require.Equal(t, Default().Text(KeyStart), c.Text(KeyStart))
}

func TestLoadRejectsUnknownKeysAndBadTemplates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("greeting: hi\n"), 0o600))
	_, err := Load(unknown)
	require.ErrorContains(t, err, "unknown message key")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("done: \"{{.Log\"\n"), 0o600))
	_, err = Load(broken)
	require.ErrorContains(t, err, "parse message")

	c, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, c)
}
