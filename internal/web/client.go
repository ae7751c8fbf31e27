// Package web provides the cookie-session HTTP client the sync engine talks
// to the portal with.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/fknorr/studip-client/internal/studip"
)

// Client wraps http.Client with a cookie jar and remembers which site roots
// it has talked to, so Clone can snapshot the session cookies into an
// independent client for a pool worker.
type Client struct {
	http *http.Client

	mu    sync.Mutex
	roots map[string]*url.URL
}

var _ studip.Web = (*Client)(nil)

// NewClient builds a session client. timeout bounds each whole request
// unless the caller's context expires first; zero means no limit.
func NewClient(timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &Client{
		http:  &http.Client{Jar: jar, Timeout: timeout},
		roots: map[string]*url.URL{},
	}, nil
}

// GetText fetches a page and returns its body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	return c.doText(req)
}

// PostForm submits a form and returns the response body as a string.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doText(req)
}

// Download streams a response body into w.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response from %s: %w", rawURL, err)
	}
	return nil
}

// Clone returns an independent client whose jar holds a snapshot of the
// session cookies for every site root this client has contacted. The clone
// shares nothing mutable with its parent.
func (c *Client) Clone() studip.Web {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New only fails on bad options; ours are fixed.
		panic(err)
	}

	c.mu.Lock()
	for _, root := range c.roots {
		jar.SetCookies(root, c.http.Jar.Cookies(root))
	}
	roots := make(map[string]*url.URL, len(c.roots))
	for k, v := range c.roots {
		roots[k] = v
	}
	c.mu.Unlock()

	return &Client{
		http:  &http.Client{Jar: jar, Timeout: c.http.Timeout},
		roots: roots,
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.rememberRoot(req.URL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL, resp.Status)
	}
	return resp, nil
}

func (c *Client) doText(req *http.Request) (string, error) {
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", req.URL, err)
	}
	return string(body), nil
}

func (c *Client) rememberRoot(u *url.URL) {
	root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	c.mu.Lock()
	c.roots[root.String()] = root
	c.mu.Unlock()
}
