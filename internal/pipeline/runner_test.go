package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"postulamatic-engine/internal/cfemail"
	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/dispatch"
	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/generate"
	"postulamatic-engine/internal/portal"
	"postulamatic-engine/internal/rank"
	"postulamatic-engine/internal/store"
)

const fakeBase = "https://portal.example"

type fakeClient struct {
	mu             sync.Mutex
	boardPages     []string          // index = page
	details        map[string]string // url -> html
	loginCalls     int
	failLogin      bool
	expireAfter    int  // fetches answered before every later one expires; -1 disables
	recoverOnLogin bool // a re-login clears the expiry, like a fresh cookie would
	fetches        int
}

func (f *fakeClient) Login(_ context.Context, _ portal.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.failLogin {
		return &portal.AuthError{Reason: "credentials rejected"}
	}
	if f.recoverOnLogin && f.loginCalls > 1 {
		f.expireAfter = -1
	}
	return nil
}

func (f *fakeClient) expired() bool {
	if f.expireAfter < 0 {
		return false
	}
	return f.fetches > f.expireAfter
}

func (f *fakeClient) FetchBoardPage(_ context.Context, page int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.expired() {
		return "", portal.ErrSessionExpired
	}
	if page >= len(f.boardPages) {
		return "", portal.ErrNotFound
	}
	// rows must be served inside a table: the HTML5 parser drops stray <tr>
	return "<table>" + f.boardPages[page] + "</table>", nil
}

func (f *fakeClient) FetchDetail(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.expired() {
		return "", portal.ErrSessionExpired
	}
	html, ok := f.details[url]
	if !ok {
		return "", portal.ErrNotFound
	}
	return html, nil
}

func (f *fakeClient) BoardPageURL(page int) string {
	return fmt.Sprintf(fakeBase+"/job_board-%d.html", page)
}

func (f *fakeClient) DetailPattern() string { return "job_offer" }

func (f *fakeClient) Logout(_ context.Context) {}

type recordingSender struct {
	mu   sync.Mutex
	sent []dispatch.Mail
}

func (s *recordingSender) Send(_ context.Context, m dispatch.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func boardRow(title, href string) string {
	return fmt.Sprintf(`<tr><td><a href=%q><strong>%s</strong></a><br><small>resumen</small></td></tr>`, href, title)
}

func detailPage(title, summary, email string) string {
	token := cfemail.Encode(0x5a, email)
	return fmt.Sprintf(`<html><body><h1>%s</h1><p><small>%s</small></p>
<a href="/cdn-cgi/l/email-protection" data-cfemail="%s">[email protected]</a></body></html>`,
		title, summary, token)
}

func testRunner(t *testing.T, fc *fakeClient) (*Runner, *recordingSender, *sql.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var cfg config.Config
	cfg.App.UserID = "maria"
	cfg.Portal.Username = "maria"
	cfg.Portal.MaxPages = 10
	cfg.Portal.FetchWorkers = 2
	cfg.Resume.Skills = []string{"python", "django", "sql"}
	cfg.Resume.Highlights = "Desarrolladora backend con 4 años en Python y Django."
	cfg.Matching.Threshold = 60
	cfg.Dispatch.DailyLimit = 20

	gen, err := generate.NewTemplateGenerator("", "")
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	sender := &recordingSender{}
	d := &dispatch.Dispatcher{
		DB:         db.Pool,
		Sender:     sender,
		Generator:  gen,
		UserID:     "maria",
		DailyLimit: cfg.Dispatch.DailyLimit,
		MinPause:   time.Millisecond,
		MaxPause:   2 * time.Millisecond,
		From:       "maria@example.com",
	}
	d.SetPacing(func(_ context.Context, _ time.Duration) error { return nil },
		rand.New(rand.NewSource(1)))

	r := &Runner{
		Cfg:    cfg,
		DB:     db.Pool,
		Client: fc,
		Creds: func(_ context.Context) (portal.Credentials, error) {
			return portal.Credentials{Username: "maria", Password: "s3cret"}, nil
		},
		Scorer:     rank.WeightedScorer{SkillsWeight: 70, SeniorityWeight: 30},
		Dispatcher: d,
	}
	return r, sender, db.Pool
}

func TestRunHappyPath(t *testing.T) {
	fc := &fakeClient{
		expireAfter: -1,
		boardPages: []string{
			boardRow("Desarrollador Python Django", fakeBase+"/job_offer-1.html") +
				boardRow("Diseñador Gráfico", fakeBase+"/job_offer-2.html") +
				`<tr><td><a href="/somewhere">no title row</a></td></tr>`,
		},
		details: map[string]string{
			fakeBase + "/job_offer-1.html": detailPage(
				"Desarrollador Python Django",
				"Buscamos dev con Python, Django y SQL.",
				"rrhh@empresa-a.example"),
			fakeBase + "/job_offer-2.html": detailPage(
				"Diseñador Gráfico",
				"Manejo de Photoshop y Figma excluyente.",
				"rrhh@empresa-b.example"),
		},
	}

	r, sender, db := testRunner(t, fc)
	rl, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rl.Scraped != 2 {
		t.Errorf("scraped = %d, want 2", rl.Scraped)
	}
	// the python job matches the resume; the design job does not
	if rl.Matched != 1 || rl.Sent != 1 {
		t.Errorf("matched=%d sent=%d, want 1/1", rl.Matched, rl.Sent)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sender.sent))
	}
	if got := sender.sent[0].To; got != "rrhh@empresa-a.example" {
		t.Errorf("recipient = %q", got)
	}

	logs, err := store.ListRunLogs(context.Background(), db, "maria", 10)
	if err != nil {
		t.Fatalf("list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("run logs = %d, want 1", len(logs))
	}
	if logs[0].Fatal {
		t.Errorf("run marked fatal: %v", logs[0].Errors)
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	fc := &fakeClient{
		expireAfter: -1,
		boardPages: []string{
			boardRow("Desarrollador Python", fakeBase+"/job_offer-1.html"),
		},
		details: map[string]string{
			fakeBase + "/job_offer-1.html": detailPage(
				"Desarrollador Python", "Python y SQL.", "rrhh@empresa.example"),
		},
	}

	r, sender, _ := testRunner(t, fc)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rl2, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// the application went terminal on run one; run two must not resend
	if rl2.Sent != 0 {
		t.Errorf("second run sent = %d, want 0", rl2.Sent)
	}
	if len(sender.sent) != 1 {
		t.Errorf("total mails = %d, want 1", len(sender.sent))
	}
}

func TestRunReloginOnce(t *testing.T) {
	fc := &fakeClient{
		// first fetch ok, every later one expires until the re-login resets
		// nothing: the fake keeps expiring, so the run must abort on the
		// second expiry
		expireAfter: 1,
		boardPages: []string{
			boardRow("Desarrollador Python", fakeBase+"/job_offer-1.html"),
		},
		details: map[string]string{
			fakeBase + "/job_offer-1.html": detailPage(
				"Desarrollador Python", "Python.", "rrhh@empresa.example"),
		},
	}

	r, _, db := testRunner(t, fc)
	rl, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("want fatal error after second session expiry")
	}
	if fc.loginCalls != 2 {
		t.Errorf("login calls = %d, want 2 (initial + one re-login)", fc.loginCalls)
	}
	if !rl.Fatal {
		t.Error("run log not marked fatal")
	}

	// the run log must exist even for an aborted run
	logs, err := store.ListRunLogs(context.Background(), db, "maria", 10)
	if err != nil {
		t.Fatalf("list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("run logs = %d, want 1", len(logs))
	}
}

func TestRunResumesAfterRelogin(t *testing.T) {
	fc := &fakeClient{
		// the second fetch hits a dead session; the re-login hands out a
		// working one and the run carries on to the end
		expireAfter:    1,
		recoverOnLogin: true,
		boardPages: []string{
			boardRow("Desarrollador Python", fakeBase+"/job_offer-1.html"),
		},
		details: map[string]string{
			fakeBase + "/job_offer-1.html": detailPage(
				"Desarrollador Python", "Python, Django y SQL.", "rrhh@empresa.example"),
		},
	}

	r, sender, db := testRunner(t, fc)
	rl, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fc.loginCalls != 2 {
		t.Errorf("login calls = %d, want 2 (initial + one re-login)", fc.loginCalls)
	}
	if rl.Fatal {
		t.Errorf("run marked fatal: %v", rl.Errors)
	}
	if rl.Scraped != 1 || rl.Sent != 1 {
		t.Errorf("scraped=%d sent=%d, want 1/1", rl.Scraped, rl.Sent)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d mails, want 1", len(sender.sent))
	}

	logs, err := store.ListRunLogs(context.Background(), db, "maria", 10)
	if err != nil {
		t.Fatalf("list run logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Fatal {
		t.Errorf("run logs = %+v, want one non-fatal entry", logs)
	}
}

func TestRunRejectedCredentialsAreFatal(t *testing.T) {
	fc := &fakeClient{expireAfter: -1, failLogin: true}

	r, _, db := testRunner(t, fc)
	rl, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("want error for rejected credentials")
	}
	if !rl.Fatal {
		t.Error("run log not marked fatal")
	}
	logs, _ := store.ListRunLogs(context.Background(), db, "maria", 10)
	if len(logs) != 1 {
		t.Errorf("run logs = %d, want 1", len(logs))
	}
}

func TestRunSkipsBelowThreshold(t *testing.T) {
	fc := &fakeClient{
		expireAfter: -1,
		boardPages: []string{
			boardRow("Contador Público", fakeBase+"/job_offer-1.html"),
		},
		details: map[string]string{
			fakeBase + "/job_offer-1.html": detailPage(
				"Contador Público", "Experiencia en liquidación de sueldos y Excel.", "rrhh@empresa.example"),
		},
	}

	r, sender, db := testRunner(t, fc)
	rl, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rl.Matched != 0 || rl.Sent != 0 {
		t.Errorf("matched=%d sent=%d, want 0/0", rl.Matched, rl.Sent)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d mails for a non-match", len(sender.sent))
	}

	apps, err := store.ListApplications(context.Background(), db, "maria", 10)
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("applications = %d, want 1", len(apps))
	}
	if apps[0].Status != domain.StatusSkipped {
		t.Errorf("status = %s, want SKIPPED", apps[0].Status)
	}
}
