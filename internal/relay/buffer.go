package relay

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Buffer accumulates numbered log lines and keeps at most cap characters,
// dropping the oldest text first.
type Buffer struct {
	cap    int
	format func(n int, entry string) string
	lines  int
	text   strings.Builder
	runes  int
}

// NewBuffer returns a Buffer holding at most limit runes. format renders one
// entry with its line number; nil joins them as "n. entry\n".
func NewBuffer(limit int, format func(int, string) string) *Buffer {
	if format == nil {
		format = func(n int, entry string) string {
			return strconv.Itoa(n) + ". " + entry + "\n"
		}
	}
	return &Buffer{cap: limit, format: format}
}

// Add appends entry as the next numbered line.
func (b *Buffer) Add(entry string) {
	b.lines++
	line := b.format(b.lines, entry)
	b.text.WriteString(line)
	b.runes += utf8.RuneCountInString(line)
	if b.cap > 0 && b.runes > b.cap {
		b.truncate()
	}
}

// String returns the retained text.
func (b *Buffer) String() string {
	return b.text.String()
}

// Len returns the retained size in runes.
func (b *Buffer) Len() int {
	return b.runes
}

// Lines returns how many entries have been added, including dropped ones.
func (b *Buffer) Lines() int {
	return b.lines
}

func (b *Buffer) truncate() {
	s := b.text.String()
	drop := b.runes - b.cap
	i := 0
	for drop > 0 {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		drop--
	}
	kept := s[i:]
	b.text.Reset()
	b.text.WriteString(kept)
	b.runes = b.cap
}
