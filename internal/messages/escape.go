package messages

import "strings"

// markdownSpecials are the characters MarkdownV2 requires to be escaped.
const markdownSpecials = "\\_*[]()~`>#+-=|{}.!"

// Escape prefixes every MarkdownV2 special character with a backslash.
func Escape(text string) string {
	if !strings.ContainsAny(text, markdownSpecials) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, r := range text {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
