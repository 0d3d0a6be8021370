package scrape

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Lesson 1: Intro!", want: "lesson-1-intro"},
		{in: "  ", want: "page"},
		{in: "Тема 2: Функции", want: "тема-2-функции"},
		{in: strings.Repeat("a", 90), want: strings.Repeat("a", maxSlug)},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, slug(tc.in), "slug(%q)", tc.in)
	}
}

func TestAttachmentName(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://lms.example.com/files/download.php")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="Week 1 slides.pdf"`)
	require.Equal(t, "Week 1 slides.pdf", attachmentName(u, h))

	h.Set("Content-Disposition", `attachment; filename="../../etc/passwd"`)
	require.Equal(t, "passwd", attachmentName(u, h))

	require.Equal(t, "download.php", attachmentName(u, http.Header{}))

	root, err := url.Parse("https://lms.example.com/")
	require.NoError(t, err)
	require.Equal(t, "download", attachmentName(root, http.Header{}))
}

func TestPageTitleFallbacks(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://lms.example.com/course/unit-3")
	require.NoError(t, err)

	doc := func(html string) *goquery.Document {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		require.NoError(t, err)
		return d
	}
	require.Equal(t, "Unit Three", pageTitle(doc(`<title> Unit
		Three </title>`), u))
	require.Equal(t, "Heading", pageTitle(doc(`<body><h1>Heading</h1></body>`), u))
	require.Equal(t, "unit-3", pageTitle(doc(`<body></body>`), u))
}

func TestKeyNormalises(t *testing.T) {
	t.Parallel()

	a, _ := url.Parse("https://LMS.example.com#frag")
	b, _ := url.Parse("https://lms.example.com/")
	require.Equal(t, key(b), key(a))
}
