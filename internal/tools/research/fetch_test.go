package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mosaic/internal/tools"
)

func newTestDeps() *Deps {
	return &Deps{MaxBodyBytes: 2 << 20, Timeout: 5 * time.Second}
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	for _, u := range []string{"about:blank", "ftp://host/file", "not a url", "file:///etc/passwd"} {
		_, err := d.executeFetch(context.Background(), map[string]any{"url": u})
		if !errors.Is(err, tools.ErrInvalidURL) {
			t.Errorf("fetch(%q): got %v, want ErrInvalidURL", u, err)
		}
	}
}

func TestFetchPlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain body")
	}))
	defer srv.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	if out.Text != "plain body" {
		t.Errorf("got %q", out.Text)
	}
}

func TestFetchHTMLToMarkdown(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Docs</title><script>evil()</script></head>
<body><h1>Heading</h1><p>Some paragraph text that is long enough to keep.</p>
<ul><li>first</li><li>second</li></ul>
<a href="https://example.com/next">next page</a></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	for _, want := range []string{"# Heading", "- first", "[next page", "](https://example.com/next)"} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("markdown missing %q:\n%s", want, out.Text)
		}
	}
	if strings.Contains(out.Text, "evil()") {
		t.Errorf("script content leaked:\n%s", out.Text)
	}
}

func TestFetchRawMode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>raw</p></body></html>")
	}))
	defer srv.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{
		"url": srv.URL,
		"raw": true,
	})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	if !strings.Contains(out.Text, "<p>raw</p>") {
		t.Errorf("raw mode converted anyway: %q", out.Text)
	}
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDeps()
	_, err := d.executeFetch(context.Background(), map[string]any{"url": srv.URL})
	if !errors.Is(err, tools.ErrHTTP) {
		t.Errorf("got %v, want ErrHTTP", err)
	}
}

func TestFetchFollowsRedirect(t *testing.T) {
	t.Parallel()

	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "landed")
	}))
	defer final.Close()

	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirect.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{"url": redirect.URL})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	if out.Text != "landed" {
		t.Errorf("got %q", out.Text)
	}
}

func TestFetchPagination(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{
		"url":        srv.URL,
		"max_length": 40,
	})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	if !strings.HasPrefix(out.Text, strings.Repeat("x", 40)) {
		t.Errorf("first page wrong: %q", out.Text)
	}
	if !strings.Contains(out.Text, "start_index=40") {
		t.Errorf("continuation hint missing: %q", out.Text)
	}

	out, err = d.executeFetch(context.Background(), map[string]any{
		"url":         srv.URL,
		"max_length":  100,
		"start_index": 40,
	})
	if err != nil {
		t.Fatalf("executeFetch page 2: %v", err)
	}
	if out.Text != strings.Repeat("x", 60) {
		t.Errorf("second page = %d chars, want 60", len(out.Text))
	}

	out, err = d.executeFetch(context.Background(), map[string]any{
		"url":         srv.URL,
		"start_index": 500,
	})
	if err != nil {
		t.Fatalf("executeFetch past end: %v", err)
	}
	if !strings.Contains(out.Text, "No more content") {
		t.Errorf("past-end read = %q", out.Text)
	}
}

func TestFetchSPAFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	d := newTestDeps()
	out, err := d.executeFetch(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("executeFetch: %v", err)
	}
	if !strings.Contains(out.Text, `id="root"`) {
		t.Errorf("SPA fallback did not return raw document: %q", out.Text)
	}
}
