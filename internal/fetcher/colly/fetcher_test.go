package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
)

const loginForm = `<html><body><form method="post"><input name="username"><input type="password" name="password"></form></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(loginForm))
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.PostForm.Get(FieldUsername) != "alice" || r.PostForm.Get(FieldPassword) != "secret" {
			_, _ = w.Write([]byte(loginForm))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		_, _ = w.Write([]byte(`<html><body>welcome</body></html>`))
	})
	mux.HandleFunc("/course", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>course</body></html>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionLoginCarriesCookies(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s := New(Config{UserAgent: "courier-test", Timeout: time.Second})

	if err := s.Login(context.Background(), srv.URL+"/login", "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	page, err := s.Fetch(context.Background(), srv.URL+"/course")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.StatusCode != http.StatusOK || string(page.Body) != `<html><body>course</body></html>` {
		t.Fatalf("unexpected page: %d %q", page.StatusCode, page.Body)
	}
	if !page.IsHTML() {
		t.Fatalf("expected html content type, got %q", page.ContentType())
	}
	if len(s.Cookies(srv.URL+"/course")) == 0 {
		t.Fatal("expected session cookie in jar")
	}
}

func TestSessionLoginRejected(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s := New(Config{Timeout: time.Second})

	err := s.Login(context.Background(), srv.URL+"/login", "alice", "wrong")
	if !errors.Is(err, ErrLoginRejected) {
		t.Fatalf("expected ErrLoginRejected, got %v", err)
	}
}

func TestSessionFetchKeepsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s := New(Config{Timeout: time.Second})

	page, err := s.Fetch(context.Background(), srv.URL+"/course")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", page.StatusCode)
	}
}

func TestSessionFetchCanceled(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Fetch(ctx, srv.URL+"/slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	var (
		page     Page
		fetchErr error
	)
	hooks := &stubHooks{}
	s.configureHooks(hooks, time.Now(), &page, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if page.StatusCode != http.StatusCreated || string(page.Body) != "body" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Header.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", page.Header)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base := mustParseURL(t, "https://lms.example.com/course/1/")
	cases := []struct {
		href string
		want string
		ok   bool
	}{
		{href: "lesson-2", want: "https://lms.example.com/course/1/lesson-2", ok: true},
		{href: "/files/a.pdf#page=2", want: "https://lms.example.com/files/a.pdf", ok: true},
		{href: "#top"},
		{href: "mailto:tutor@example.com"},
		{href: "  "},
	}
	for _, tc := range cases {
		got, ok := Resolve(base, tc.href)
		if ok != tc.ok {
			t.Fatalf("Resolve(%q) ok = %v, want %v", tc.href, ok, tc.ok)
		}
		if ok && got.String() != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.href, got, tc.want)
		}
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
