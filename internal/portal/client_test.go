package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

const loginForm = `<html><body>
<form action="/do_login" method="post">
  <input type="hidden" name="csrf_token" value="tok-123">
  <input type="text" name="username">
  <input type="password" name="password">
</form>
</body></html>`

// fakePortal mimics the careers site: cookie session, csrf-guarded login,
// board pages behind auth.
type fakePortal struct {
	drops     atomic.Int32 // rejected fetches while dropAuth is set
	dropAuth  atomic.Bool  // when set, every cookie is treated as stale
	boardHTML string
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginForm)
	})

	mux.HandleFunc("/do_login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("csrf_token") != "tok-123" {
			http.Error(w, "csrf mismatch", http.StatusForbidden)
			return
		}
		if r.PostFormValue("username") != "maria" || r.PostFormValue("password") != "s3cret" {
			fmt.Fprint(w, `<html><body>Usuario o clave invalid</body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/dashboard.html", http.StatusFound)
	})

	mux.HandleFunc("/dashboard.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Bienvenida</body></html>`)
	})

	mux.HandleFunc("/job_board-0.html", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			http.Redirect(w, r, "/login.html", http.StatusFound)
			return
		}
		fmt.Fprint(w, p.boardHTML)
	})

	mux.HandleFunc("/job_board-1.html", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

func (p *fakePortal) authed(r *http.Request) bool {
	if p.dropAuth.Load() {
		p.drops.Add(1)
		return false
	}
	c, err := r.Cookie("session")
	return err == nil && c.Value == "ok"
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:       baseURL,
		LoginPath:     "/login.html",
		BoardPath:     "/job_board-%d.html",
		DetailPattern: "job_offer",
	}, NewHostLimiter(100, 10))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestLoginSuccess(t *testing.T) {
	p := &fakePortal{boardHTML: "<html><body>board</body></html>"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	html, err := c.FetchBoardPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("board fetch after login: %v", err)
	}
	if html == "" {
		t.Error("empty board page")
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	p := &fakePortal{}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Login(context.Background(), Credentials{Username: "maria", Password: "wrong"})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestFetchWithoutLogin(t *testing.T) {
	p := &fakePortal{}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchBoardPage(context.Background(), 0); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSessionExpiryDetected(t *testing.T) {
	p := &fakePortal{boardHTML: "<html><body>board</body></html>"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	// server drops the session; the redirect to the login page must surface
	// as ErrSessionExpired, not as a parsed board page
	p.dropAuth.Store(true)
	if _, err := c.FetchBoardPage(context.Background(), 0); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// the client remembers the dead session
	if _, err := c.FetchBoardPage(context.Background(), 0); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("second fetch err = %v, want ErrSessionExpired", err)
	}
}

func TestConcurrentFetchesAfterExpiry(t *testing.T) {
	p := &fakePortal{boardHTML: "<html><body>board</body></html>"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	// several workers hit the stale session at once; the shared session
	// flag is written by expiry detection while the others read it
	p.dropAuth.Store(true)
	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.FetchBoardPage(context.Background(), 0)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("worker %d: err = %v, want ErrSessionExpired", i, err)
		}
	}

	// a fresh login brings the same client back
	p.dropAuth.Store(false)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("re-login: %v", err)
	}
	if _, err := c.FetchBoardPage(context.Background(), 0); err != nil {
		t.Fatalf("fetch after re-login: %v", err)
	}
}

func TestPastLastPageIs404(t *testing.T) {
	p := &fakePortal{boardHTML: "<html><body>board</body></html>"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := c.FetchBoardPage(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginForm)
	})
	mux.HandleFunc("/do_login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/dashboard.html", http.StatusFound)
	})
	mux.HandleFunc("/dashboard.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Bienvenida</body></html>")
	})
	mux.HandleFunc("/job_board-0.html", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "<html><body>board</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Login(context.Background(), Credentials{Username: "maria", Password: "s3cret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := c.FetchBoardPage(context.Background(), 0); err != nil {
		t.Fatalf("retried fetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 (one failure, one retry)", hits.Load())
	}
}
