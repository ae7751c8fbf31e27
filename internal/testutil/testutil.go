// Package testutil provides fakes and fixtures shared by the engine tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"

	"github.com/fknorr/studip-client/internal/cache"
	"github.com/fknorr/studip-client/internal/cache/migrations"
	"github.com/fknorr/studip-client/internal/studip"
)

// NewTestCache creates an in-memory cache with the full schema applied.
// It is closed automatically when the test completes.
func NewTestCache(t *testing.T) *cache.Cache {
	t.Helper()

	db, err := cache.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	schema, err := migrations.Schema()
	if err != nil {
		db.Close()
		t.Fatalf("failed to load schema: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	c := cache.NewFromDB(db)
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

// FakeWeb serves canned pages from a URL map and records every request.
// Clones share the page map and the request log, mirroring how real clones
// share the session.
type FakeWeb struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []string

	// DownloadBody is returned for every Download call.
	DownloadBody string
}

var _ studip.Web = (*FakeWeb)(nil)

func NewFakeWeb(pages map[string]string) *FakeWeb {
	return &FakeWeb{pages: pages}
}

// SetPage installs or replaces a canned page.
func (w *FakeWeb) SetPage(url, body string) {
	w.mu.Lock()
	w.pages[url] = body
	w.mu.Unlock()
}

// Requests returns the URLs requested so far, in order, across all clones.
func (w *FakeWeb) Requests() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

// CountRequests returns how many requests matched pred.
func (w *FakeWeb) CountRequests(pred func(url string) bool) int {
	n := 0
	for _, r := range w.Requests() {
		if pred(r) {
			n++
		}
	}
	return n
}

func (w *FakeWeb) GetText(ctx context.Context, url string) (string, error) {
	return w.lookup(ctx, url)
}

func (w *FakeWeb) PostForm(ctx context.Context, url string, form url.Values) (string, error) {
	return w.lookup(ctx, url)
}

func (w *FakeWeb) Download(ctx context.Context, url string, out io.Writer) error {
	if _, err := w.lookup(ctx, url); err != nil {
		return err
	}
	_, err := io.WriteString(out, w.DownloadBody)
	return err
}

func (w *FakeWeb) Clone() studip.Web { return w }

func (w *FakeWeb) lookup(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, url)
	page, ok := w.pages[url]
	if !ok {
		return "", fmt.Errorf("404 not found: %s", url)
	}
	return page, nil
}

// ScriptedPrompter answers prompts from fixed scripts. An exhausted script
// yields the default choice and empty strings.
type ScriptedPrompter struct {
	Choices   []byte
	Lines     []string
	Passwords []string

	// Prompts records every prompt text seen, in order.
	Prompts []string
}

var _ studip.Prompter = (*ScriptedPrompter)(nil)

func (p *ScriptedPrompter) Choice(prompt string, options string, def byte) (byte, error) {
	p.Prompts = append(p.Prompts, prompt)
	if len(p.Choices) == 0 {
		return def, nil
	}
	c := p.Choices[0]
	p.Choices = p.Choices[1:]
	return c, nil
}

func (p *ScriptedPrompter) ReadLine(prompt string) (string, error) {
	p.Prompts = append(p.Prompts, prompt)
	if len(p.Lines) == 0 {
		return "", nil
	}
	line := p.Lines[0]
	p.Lines = p.Lines[1:]
	return line, nil
}

func (p *ScriptedPrompter) ReadPassword(prompt string) (string, error) {
	p.Prompts = append(p.Prompts, prompt)
	if len(p.Passwords) == 0 {
		return "", nil
	}
	pw := p.Passwords[0]
	p.Passwords = p.Passwords[1:]
	return pw, nil
}
