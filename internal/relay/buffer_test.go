package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferNumbersLines(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0, nil)
	b.Add("login ok")
	b.Add("page 1")
	assert.Equal(t, "1. login ok\n2. page 1\n", b.String())
	assert.Equal(t, 2, b.Lines())
}

// TestBufferTruncatesFromFront ensures the newest text survives intact.
func TestBufferTruncatesFromFront(t *testing.T) {
	t.Parallel()

	b := NewBuffer(20, nil)
	for i := 0; i < 10; i++ {
		b.Add("entry")
		require.LessOrEqual(t, utf8.RuneCountInString(b.String()), 20)
	}
	assert.Equal(t, 20, b.Len())
	assert.True(t, strings.HasSuffix(b.String(), "10. entry\n"))
	assert.Equal(t, 10, b.Lines())
}

func TestBufferCountsRunes(t *testing.T) {
	t.Parallel()

	b := NewBuffer(6, func(_ int, entry string) string { return entry })
	b.Add("ééé")
	b.Add("жжж")
	assert.Equal(t, "éééжжж", b.String())
	b.Add("ü")
	assert.Equal(t, "ééжжжü", b.String())
	assert.Equal(t, 6, b.Len())
}
