package portal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Login opens the login page, fills the form it finds there and submits it.
// Credentials only live for the duration of this call. Rejected credentials
// come back as *AuthError; transient trouble as *FetchError.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	loginURL := c.cfg.BaseURL + c.cfg.LoginPath

	if c.limiter != nil {
		if err := c.limiter.WaitURL(ctx, loginURL); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return &FetchError{URL: loginURL, Err: err}
	}
	c.decorate(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return &FetchError{URL: loginURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusForbidden {
		return &AuthError{Reason: "login page refused (403), likely anti-bot"}
	}
	if res.StatusCode >= 400 {
		return &FetchError{URL: loginURL, Err: fmt.Errorf("status %d", res.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return &FetchError{URL: loginURL, Err: fmt.Errorf("parse login page: %w", err)}
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		return &AuthError{Reason: "no login form on login page"}
	}

	userField := firstInputName(form, "username", "user", "email")
	passField := firstInputName(form, "password", "pass")
	if userField == "" || passField == "" {
		return &AuthError{Reason: "login form missing username/password fields"}
	}

	data := url.Values{}
	data.Set(userField, creds.Username)
	data.Set(passField, creds.Password)

	if name, token := csrfToken(doc); token != "" {
		data.Set(name, token)
	}

	// hidden inputs the server expects back
	form.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" || data.Has(name) {
			return
		}
		val, _ := s.Attr("value")
		data.Set(name, val)
	})

	action, _ := form.Attr("action")
	postURL := resolveAction(c.cfg.BaseURL, loginURL, action)

	if c.limiter != nil {
		if err := c.limiter.WaitURL(ctx, postURL); err != nil {
			return err
		}
	}

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(data.Encode()))
	if err != nil {
		return &FetchError{URL: postURL, Err: err}
	}
	c.decorate(postReq)
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("Referer", loginURL)

	postRes, err := c.hc.Do(postReq)
	if err != nil {
		return &FetchError{URL: postURL, Err: err}
	}
	defer postRes.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(postRes.Body, 1<<20))

	if !loginSucceeded(postRes, c.cfg.LoginPath, string(body)) {
		return &AuthError{Reason: "credentials rejected"}
	}

	c.loggedIn.Store(true)
	log.Printf("[portal] login ok user=%s", creds.Username)
	return nil
}

func firstInputName(form *goquery.Selection, names ...string) string {
	for _, n := range names {
		if form.Find(fmt.Sprintf(`input[name=%q]`, n)).Length() > 0 {
			return n
		}
	}
	return ""
}

// csrfToken probes the usual hiding spots for an anti-forgery token.
func csrfToken(doc *goquery.Document) (name, value string) {
	for _, n := range []string{"csrf_token", "_token", "authenticity_token"} {
		if v, ok := doc.Find(fmt.Sprintf(`input[name=%q]`, n)).Attr("value"); ok && v != "" {
			return n, v
		}
	}
	if v, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok && v != "" {
		return "csrf_token", v
	}
	return "", ""
}

func resolveAction(baseURL, loginURL, action string) string {
	action = strings.TrimSpace(action)
	switch {
	case action == "":
		return loginURL
	case strings.HasPrefix(action, "http"):
		return action
	case strings.HasPrefix(action, "/"):
		return baseURL + action
	default:
		return baseURL + "/" + action
	}
}

// loginSucceeded applies the same heuristics the portal gives us: a redirect
// away from the login page, or telltale words in the response body.
func loginSucceeded(res *http.Response, loginPath, body string) bool {
	finalPath := res.Request.URL.Path
	low := strings.ToLower(body)

	if !strings.Contains(finalPath, strings.TrimSuffix(loginPath, ".html")) &&
		!strings.Contains(strings.ToLower(finalPath), "login") {
		return true
	}

	for _, ind := range []string{"dashboard", "welcome", "profile", "logout"} {
		if strings.Contains(low, ind) {
			return true
		}
	}
	for _, ind := range []string{"invalid", "incorrect", "error", "failed"} {
		if strings.Contains(low, ind) {
			return false
		}
	}

	return res.StatusCode == http.StatusOK && !strings.Contains(strings.ToLower(finalPath), "login")
}
