// Package dispatch drives queued applications through the status machine
// and out over SMTP, one at a time, under the daily quota.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"

	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/generate"
	"postulamatic-engine/internal/store"
)

// Dispatcher sends one application at a time. It is not safe for concurrent
// use; the pipeline runs exactly one per user and per process.
type Dispatcher struct {
	DB        *sql.DB
	Sender    Sender
	Generator generate.Generator

	UserID     string
	DailyLimit int
	MinPause   time.Duration
	MaxPause   time.Duration
	DryRun     bool

	// sender identity, applied to every outgoing mail
	From     string
	FromName string

	// generator inputs shared by every application in the run
	CandidateName    string
	ResumeHighlights string
	attachmentRef    string

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	sentInRun int
}

// SetPacing overrides the sleep and randomness sources. Tests use it to
// observe pauses without waiting them out.
func (d *Dispatcher) SetPacing(sleep func(ctx context.Context, dur time.Duration) error, rng *rand.Rand) {
	d.sleep = sleep
	d.rng = rng
}

func (d *Dispatcher) pause() time.Duration {
	if d.MaxPause <= d.MinPause {
		return d.MinPause
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d.MinPause + time.Duration(d.rng.Int63n(int64(d.MaxPause-d.MinPause)+1))
}

func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) error {
	if d.sleep != nil {
		return d.sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch moves one queued application to a terminal state. The returned
// status is the state the application ended in; err is non-nil only for
// infrastructure failures (a broken DB) or a cancelled context, never for a
// failed send, which is recorded on the application itself. Cancellation
// leaves the application in its last-reached state.
func (d *Dispatcher) Dispatch(ctx context.Context, app domain.Application, job domain.JobPosting) (domain.Status, error) {
	if app.Status != domain.StatusQueued {
		return app.Status, nil
	}
	if app.Recipient == "" {
		if err := d.mark(ctx, app.ID, domain.StatusSkipped, "no contact email"); err != nil {
			return app.Status, err
		}
		return domain.StatusSkipped, nil
	}

	if d.DryRun {
		return d.rehearse(ctx, app, job)
	}

	day := store.DayKey(time.Now())
	reserved, count, err := store.ReserveDailySend(ctx, d.DB, d.UserID, day, d.DailyLimit)
	if err != nil {
		return app.Status, err
	}
	if !reserved {
		if err := d.mark(ctx, app.ID, domain.StatusSkipped, "quota exhausted"); err != nil {
			return app.Status, err
		}
		log.Printf("[dispatch] quota exhausted user=%s day=%s limit=%d", d.UserID, day, d.DailyLimit)
		return domain.StatusSkipped, nil
	}

	if err := d.mark(ctx, app.ID, domain.StatusGenerating, ""); err != nil {
		return app.Status, d.releaseAnd(ctx, day, err)
	}

	draft, err := d.Generator.Generate(ctx, d.generatorInput(job))
	if err != nil {
		if rerr := d.fail(ctx, app.ID, day, fmt.Sprintf("generation error: %v", err)); rerr != nil {
			return domain.StatusGenerating, rerr
		}
		return domain.StatusFailed, nil
	}
	if err := store.SetApplicationDraft(ctx, d.DB, app.ID, draft); err != nil {
		return domain.StatusGenerating, d.releaseAnd(ctx, day, err)
	}

	if err := d.mark(ctx, app.ID, domain.StatusSending, ""); err != nil {
		return domain.StatusGenerating, d.releaseAnd(ctx, day, err)
	}

	// pause between consecutive sends so the traffic pattern stays human
	if d.sentInRun > 0 {
		p := d.pause()
		log.Printf("[dispatch] pausing %s before next send", p.Round(time.Second))
		if err := d.wait(ctx, p); err != nil {
			// cancelled mid-pause: the application keeps its last state
			// and the unused quota slot goes back. The release cannot run
			// on the dead context.
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			return domain.StatusSending, d.releaseAnd(rctx, day, err)
		}
	}

	mail := Mail{
		From:       d.From,
		FromName:   d.FromName,
		To:         app.Recipient,
		Subject:    draft.Subject,
		Body:       draft.Body,
		Attachment: draft.Attachment,
	}
	if err := d.Sender.Send(ctx, mail); err != nil {
		if rerr := d.fail(ctx, app.ID, day, err.Error()); rerr != nil {
			return domain.StatusSending, rerr
		}
		log.Printf("[dispatch] send failed to=%s job=%q err=%v", app.Recipient, job.Title, err)
		return domain.StatusFailed, nil
	}

	if err := d.mark(ctx, app.ID, domain.StatusSent, ""); err != nil {
		return domain.StatusSending, err
	}
	d.sentInRun++
	log.Printf("[dispatch] sent to=%s job=%q count_today=%d", app.Recipient, job.Title, count)
	return domain.StatusSent, nil
}

// rehearse is the dry-run path: generate and log, but leave the application
// queued, the quota untouched and the SMTP sender idle.
func (d *Dispatcher) rehearse(ctx context.Context, app domain.Application, job domain.JobPosting) (domain.Status, error) {
	draft, err := d.Generator.Generate(ctx, d.generatorInput(job))
	if err != nil {
		log.Printf("[dispatch] dry-run: generation error job=%q err=%v", job.Title, err)
		return domain.StatusQueued, nil
	}
	log.Printf("[dispatch] dry-run: would send to=%s subject=%q job=%q", app.Recipient, draft.Subject, job.Title)
	return domain.StatusQueued, nil
}

func (d *Dispatcher) generatorInput(job domain.JobPosting) generate.Input {
	return generate.Input{
		JobTitle:         job.Title,
		JobSummary:       job.Summary,
		ResumeHighlights: d.ResumeHighlights,
		CandidateName:    d.CandidateName,
		AttachmentRef:    d.attachmentRef,
	}
}

// AttachmentRef is the CV file path attached to every mail in the run.
func (d *Dispatcher) SetAttachment(ref string) { d.attachmentRef = ref }

func (d *Dispatcher) mark(ctx context.Context, appID int64, to domain.Status, detail string) error {
	return store.UpdateApplicationStatus(ctx, d.DB, appID, to, detail)
}

// fail records the failure and gives the quota slot back.
func (d *Dispatcher) fail(ctx context.Context, appID int64, day, msg string) error {
	if err := d.mark(ctx, appID, domain.StatusFailed, msg); err != nil {
		return err
	}
	return store.ReleaseDailySend(ctx, d.DB, d.UserID, day)
}

func (d *Dispatcher) releaseAnd(ctx context.Context, day string, err error) error {
	_ = store.ReleaseDailySend(ctx, d.DB, d.UserID, day)
	return err
}
