// Package pipeline orchestrates one full run: login, scrape the board,
// score postings against the resume and dispatch the matches. A run always
// leaves a run_logs row behind, even when it dies early.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/dispatch"
	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/events"
	"postulamatic-engine/internal/portal"
	"postulamatic-engine/internal/rank"
	"postulamatic-engine/internal/scrape"
	"postulamatic-engine/internal/store"
)

// PortalClient is what the runner needs from the session layer. *portal.Client
// satisfies it; tests substitute a fake.
type PortalClient interface {
	Login(ctx context.Context, creds portal.Credentials) error
	FetchBoardPage(ctx context.Context, page int) (string, error)
	FetchDetail(ctx context.Context, url string) (string, error)
	BoardPageURL(page int) string
	DetailPattern() string
	Logout(ctx context.Context)
}

// CredentialSource hands out portal credentials on demand. Each login call
// fetches fresh so the password never sits in the runner between logins.
type CredentialSource func(ctx context.Context) (portal.Credentials, error)

type Runner struct {
	Cfg        config.Config
	DB         *sql.DB
	Client     PortalClient
	Creds      CredentialSource
	Scorer     rank.Scorer
	Dispatcher *dispatch.Dispatcher
	Hub        *events.Hub

	mu       sync.Mutex
	relogged bool
	expired  bool // second expiry observed, session is gone for good
}

// errSessionGone marks the second session expiry in a run; it aborts the run.
var errSessionGone = errors.New("session expired twice, aborting run")

type candidate struct {
	posting domain.JobPosting
	skipped int // malformed rows folded into the tally
}

// Run executes one full pipeline pass. The returned RunLog mirrors what was
// persisted to run_logs.
func (r *Runner) Run(ctx context.Context) (domain.RunLog, error) {
	r.mu.Lock()
	r.relogged = false
	r.expired = false
	r.mu.Unlock()

	rl := domain.RunLog{
		RunID:     uuid.NewString(),
		UserID:    r.Cfg.UserID(),
		StartedAt: time.Now().UTC(),
	}
	r.publish(rl.RunID, events.TypeRunStarted, nil)
	log.Printf("[pipeline] run %s started user=%s", rl.RunID, rl.UserID)

	runErr := r.run(ctx, &rl)

	rl.FinishedAt = time.Now().UTC()
	if runErr != nil {
		rl.Fatal = true
		rl.Errors = append(rl.Errors, runErr.Error())
	}

	// the run log is written no matter how the run ended
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.AppendRunLog(logCtx, r.DB, rl); err != nil {
		log.Printf("[pipeline] run %s: append run log: %v", rl.RunID, err)
	}
	r.publish(rl.RunID, events.TypeRunFinished, rl)
	log.Printf("[pipeline] run %s finished scraped=%d matched=%d sent=%d failed=%d skipped=%d fatal=%v",
		rl.RunID, rl.Scraped, rl.Matched, rl.Sent, rl.Failed, rl.Skipped, rl.Fatal)

	return rl, runErr
}

func (r *Runner) run(ctx context.Context, rl *domain.RunLog) error {
	creds, err := r.Creds(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if err := r.Client.Login(ctx, creds); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer r.Client.Logout(ctx)

	listings, err := r.collectListings(ctx, rl)
	if err != nil {
		return err
	}

	postings, err := r.fetchDetails(ctx, rl, listings)
	if err != nil {
		return err
	}

	apps := r.queueMatches(ctx, rl, postings)

	return r.dispatchAll(ctx, rl, apps)
}

// collectListings walks board pages until a 404, an empty page or the
// configured cap.
func (r *Runner) collectListings(ctx context.Context, rl *domain.RunLog) ([]domain.RawListing, error) {
	maxPages := r.Cfg.Portal.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	var all []domain.RawListing
	for page := 0; page < maxPages; page++ {
		html, err := r.fetchWithRelogin(ctx, func(ctx context.Context) (string, error) {
			return r.Client.FetchBoardPage(ctx, page)
		})
		switch {
		case errors.Is(err, portal.ErrNotFound):
			return all, nil // past the last page
		case errors.Is(err, errSessionGone):
			return all, err
		case err != nil:
			rl.Errors = append(rl.Errors, fmt.Sprintf("board page %d: %v", page, err))
			log.Printf("[pipeline] board page %d: %v", page, err)
			return all, nil // pagination can no longer be trusted
		}

		listings, skipped, err := scrape.ParseBoardPage(html, r.Client.BoardPageURL(page), r.Client.DetailPattern())
		if err != nil {
			rl.Errors = append(rl.Errors, fmt.Sprintf("parse board page %d: %v", page, err))
			continue
		}
		rl.Skipped += skipped
		if len(listings) == 0 {
			return all, nil
		}
		all = append(all, listings...)
		log.Printf("[pipeline] board page %d: %d listings, %d rows skipped", page, len(listings), skipped)
	}
	return all, nil
}

// fetchDetails resolves every listing to a stored posting, a few pages at a
// time. One bad detail page never sinks the run.
func (r *Runner) fetchDetails(ctx context.Context, rl *domain.RunLog, listings []domain.RawListing) ([]domain.JobPosting, error) {
	workers := r.Cfg.Portal.FetchWorkers
	if workers <= 0 {
		workers = 3
	}

	results := make([]*candidate, len(listings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, l := range listings {
		g.Go(func() error {
			html, err := r.fetchWithRelogin(gctx, func(ctx context.Context) (string, error) {
				return r.Client.FetchDetail(ctx, l.DetailURL)
			})
			switch {
			case errors.Is(err, errSessionGone):
				return err
			case errors.Is(err, portal.ErrNotFound):
				results[i] = &candidate{skipped: 1}
				return nil
			case err != nil:
				log.Printf("[pipeline] detail %s: %v", l.DetailURL, err)
				results[i] = &candidate{skipped: 1}
				return nil
			}

			detail, err := scrape.ParseDetail(html)
			if err != nil {
				log.Printf("[pipeline] parse detail %s: %v", l.DetailURL, err)
				results[i] = &candidate{skipped: 1}
				return nil
			}
			results[i] = &candidate{posting: scrape.Normalize(l, detail)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var postings []domain.JobPosting
	for _, c := range results {
		if c == nil {
			continue
		}
		if c.skipped > 0 {
			rl.Skipped += c.skipped
			continue
		}
		stored, created, err := store.UpsertPosting(ctx, r.DB, c.posting)
		if err != nil {
			rl.Errors = append(rl.Errors, fmt.Sprintf("store posting %s: %v", c.posting.SourceURL, err))
			continue
		}
		rl.Scraped++
		if created {
			r.publish("", events.TypePostingFound, map[string]any{
				"external_id": stored.ExternalID,
				"title":       stored.Title,
			})
		}
		postings = append(postings, stored)
	}
	return postings, nil
}

// queueMatches scores every posting and makes an application row for each.
// Below-threshold matches are recorded as skipped so a later threshold change
// still has the score on file.
func (r *Runner) queueMatches(ctx context.Context, rl *domain.RunLog, postings []domain.JobPosting) []queued {
	resume := domain.Resume{
		Skills:     r.Cfg.Resume.Skills,
		Highlights: r.Cfg.Resume.Highlights,
		FileRef:    r.Cfg.Resume.File,
	}
	threshold := r.Cfg.Matching.Threshold

	var out []queued
	for _, p := range postings {
		res := r.Scorer.Score(resume, p)

		recipient := ""
		if len(p.Emails) > 0 {
			recipient = p.Emails[0]
		}

		app, created, err := store.CreateOrGetApplication(ctx, r.DB, rl.UserID, p.ID, res.Score, recipient)
		if err != nil {
			rl.Errors = append(rl.Errors, fmt.Sprintf("create application for %s: %v", p.ExternalID, err))
			continue
		}
		if !created && app.Status != domain.StatusQueued {
			// already decided on an earlier run
			continue
		}

		if res.Score < threshold {
			reason := fmt.Sprintf("score %d below threshold %d", res.Score, threshold)
			if err := store.UpdateApplicationStatus(ctx, r.DB, app.ID, domain.StatusSkipped, reason); err != nil {
				rl.Errors = append(rl.Errors, fmt.Sprintf("skip application %d: %v", app.ID, err))
				continue
			}
			rl.Skipped++
			r.publish(rl.RunID, events.TypeAppSkipped, map[string]any{"application_id": app.ID, "reason": reason})
			continue
		}

		rl.Matched++
		r.publish(rl.RunID, events.TypeAppQueued, map[string]any{
			"application_id": app.ID,
			"score":          res.Score,
			"title":          p.Title,
		})
		out = append(out, queued{app: app, posting: p})
	}
	return out
}

type queued struct {
	app     domain.Application
	posting domain.JobPosting
}

// dispatchAll sends queued applications one at a time, in queue order.
func (r *Runner) dispatchAll(ctx context.Context, rl *domain.RunLog, apps []queued) error {
	if len(apps) > 0 {
		day := store.DayKey(time.Now())
		if sent, err := store.SentToday(ctx, r.DB, rl.UserID, day); err == nil {
			log.Printf("[pipeline] dispatching %d applications, %d/%d already sent today",
				len(apps), sent, r.Cfg.Dispatch.DailyLimit)
		}
	}

	for _, q := range apps {
		if err := ctx.Err(); err != nil {
			rl.Errors = append(rl.Errors, fmt.Sprintf("dispatch interrupted: %v", err))
			return err
		}

		st, err := r.Dispatcher.Dispatch(ctx, q.app, q.posting)
		if err != nil {
			rl.Errors = append(rl.Errors, fmt.Sprintf("dispatch application %d: %v", q.app.ID, err))
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		switch st {
		case domain.StatusSent:
			rl.Sent++
			r.publish(rl.RunID, events.TypeAppSent, map[string]any{"application_id": q.app.ID})
		case domain.StatusFailed:
			rl.Failed++
			r.publish(rl.RunID, events.TypeAppFailed, map[string]any{"application_id": q.app.ID})
		case domain.StatusSkipped:
			rl.Skipped++
			r.publish(rl.RunID, events.TypeAppSkipped, map[string]any{"application_id": q.app.ID})
		}
	}
	return nil
}

// fetchWithRelogin retries one fetch across a single mid-run session expiry.
// The second expiry in a run is fatal; the portal is telling us something.
func (r *Runner) fetchWithRelogin(ctx context.Context, fetch func(ctx context.Context) (string, error)) (string, error) {
	body, err := fetch(ctx)
	if !errors.Is(err, portal.ErrSessionExpired) {
		return body, err
	}

	if err := r.relogin(ctx); err != nil {
		return "", err
	}

	body, err = fetch(ctx)
	if errors.Is(err, portal.ErrSessionExpired) {
		r.mu.Lock()
		r.expired = true
		r.mu.Unlock()
		return "", errSessionGone
	}
	return body, err
}

// relogin performs at most one re-authentication per run, even when several
// workers hit the expiry at once.
func (r *Runner) relogin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expired {
		return errSessionGone
	}
	if r.relogged {
		// someone else already re-authenticated; caller just retries
		return nil
	}

	log.Printf("[pipeline] session expired mid-run, logging in again")
	creds, err := r.Creds(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if err := r.Client.Login(ctx, creds); err != nil {
		r.expired = true
		return fmt.Errorf("re-login: %w", err)
	}
	r.relogged = true
	return nil
}

func (r *Runner) publish(runID, typ string, data any) {
	if r.Hub == nil {
		return
	}
	r.Hub.Publish(events.Make(runID, typ, data))
}
