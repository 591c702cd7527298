// Package portal is the authenticated session client for the careers site.
// The session is a cookie jar created at login and threaded through every
// fetch; nothing here is stored in package state.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"
)

const (
	maxFetchAttempts = 3
	backoffBase      = 1 * time.Second
)

type Credentials struct {
	Username string
	Password string
}

type Config struct {
	BaseURL       string
	LoginPath     string
	BoardPath     string // printf pattern taking the page index
	DetailPattern string
	UserAgent     string
	Timeout       time.Duration
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *HostLimiter

	// read by concurrent fetch workers while Login and expiry detection
	// write it
	loggedIn atomic.Bool
}

func New(cfg Config, limiter *HostLimiter) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("portal: base url is required")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login.html"
	}
	if cfg.BoardPath == "" {
		cfg.BoardPath = "/job_board-%d.html"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
	}, nil
}

// BoardPageURL builds the URL for a zero-based board page index.
func (c *Client) BoardPageURL(page int) string {
	return c.cfg.BaseURL + fmt.Sprintf(c.cfg.BoardPath, page)
}

// DetailPattern is the substring detail-page anchors must contain.
func (c *Client) DetailPattern() string { return c.cfg.DetailPattern }

// FetchBoardPage returns the HTML of one listing page. The caller must have
// logged in first.
func (c *Client) FetchBoardPage(ctx context.Context, page int) (string, error) {
	if !c.loggedIn.Load() {
		return "", ErrSessionExpired
	}
	return c.get(ctx, c.BoardPageURL(page))
}

// FetchDetail returns the HTML of one detail page.
func (c *Client) FetchDetail(ctx context.Context, url string) (string, error) {
	if !c.loggedIn.Load() {
		return "", ErrSessionExpired
	}
	return c.get(ctx, url)
}

// Logout drops the server-side session; errors are best-effort only.
func (c *Client) Logout(ctx context.Context) {
	if !c.loggedIn.Load() {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/logout", nil)
	if err == nil {
		c.decorate(req)
		if res, err := c.hc.Do(req); err == nil {
			_ = res.Body.Close()
		}
	}
	c.loggedIn.Store(false)
}

// get fetches one page with bounded retries. Timeouts and 5xx answers back
// off exponentially; 404 and session expiry surface as typed errors so the
// orchestrator can decide.
func (c *Client) get(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffBase << (attempt - 1)
			log.Printf("[portal] retrying %s in %s (attempt %d/%d)", url, wait, attempt+1, maxFetchAttempts)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.WaitURL(ctx, url); err != nil {
				return "", err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", &FetchError{URL: url, Err: err}
		}
		c.decorate(req)

		res, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4<<20))
		_ = res.Body.Close()

		switch {
		case res.StatusCode == http.StatusNotFound:
			return "", ErrNotFound
		case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
			c.loggedIn.Store(false)
			return "", ErrSessionExpired
		case res.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", res.StatusCode)
			continue
		case res.StatusCode >= 400:
			return "", &FetchError{URL: url, Err: fmt.Errorf("status %d", res.StatusCode)}
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		// A 200 that is really the login page means the cookie died.
		if landedOnLogin(res.Request.URL.Path, c.cfg.LoginPath, string(body)) {
			c.loggedIn.Store(false)
			return "", ErrSessionExpired
		}

		return string(body), nil
	}

	return "", &FetchError{URL: url, Err: lastErr}
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-AR,es;q=0.9,en;q=0.8")
}

func landedOnLogin(finalPath, loginPath, body string) bool {
	if strings.Contains(finalPath, strings.TrimSuffix(loginPath, ".html")) {
		return true
	}
	low := strings.ToLower(body)
	return strings.Contains(low, `type="password"`) && strings.Contains(low, "<form")
}
