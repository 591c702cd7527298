package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postulamatic-engine/internal/domain"
)

// CreateOrGetApplication makes the (user, posting) pair durable. If an
// application already exists it is returned untouched, so a re-run never
// silently overwrites a terminal outcome.
func CreateOrGetApplication(ctx context.Context, db *sql.DB, userID string, postingID int64, score int, recipient string) (domain.Application, bool, error) {
	res, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO applications(user_id, posting_id, score, status, recipient, created_at)
VALUES(?,?,?,?,?,?);`,
		userID, postingID, score, string(domain.StatusQueued), recipient,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return domain.Application{}, false, fmt.Errorf("create application: %w", err)
	}
	n, _ := res.RowsAffected()

	app, err := getApplicationByPair(ctx, db, userID, postingID)
	if err != nil {
		return domain.Application{}, false, err
	}
	return app, n > 0, nil
}

// UpdateApplicationStatus moves an application through the state machine,
// refusing transitions the graph does not allow.
func UpdateApplicationStatus(ctx context.Context, db *sql.DB, appID int64, to domain.Status, detail string) error {
	var cur string
	if err := db.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = ?;`, appID).Scan(&cur); err != nil {
		return fmt.Errorf("load application %d: %w", appID, err)
	}
	from, err := domain.ParseStatus(cur)
	if err != nil {
		return err
	}
	if !domain.IsTransitionAllowed(from, to) {
		return fmt.Errorf("application %d: transition %s -> %s not allowed", appID, from, to)
	}

	switch to {
	case domain.StatusSent:
		_, err = db.ExecContext(ctx, `
UPDATE applications SET status = ?, sent_at = ? WHERE id = ?;`,
			string(to), time.Now().UTC().Format(time.RFC3339), appID)
	case domain.StatusFailed:
		_, err = db.ExecContext(ctx, `
UPDATE applications SET status = ?, error_msg = ? WHERE id = ?;`,
			string(to), detail, appID)
	case domain.StatusSkipped:
		_, err = db.ExecContext(ctx, `
UPDATE applications SET status = ?, skip_reason = ? WHERE id = ?;`,
			string(to), detail, appID)
	default:
		_, err = db.ExecContext(ctx, `
UPDATE applications SET status = ? WHERE id = ?;`, string(to), appID)
	}
	if err != nil {
		return fmt.Errorf("update application %d status: %w", appID, err)
	}
	return nil
}

// SetApplicationDraft stores the generated content before sending.
func SetApplicationDraft(ctx context.Context, db *sql.DB, appID int64, d domain.Draft) error {
	_, err := db.ExecContext(ctx, `
UPDATE applications SET subject = ?, body = ?, attachment = ? WHERE id = ?;`,
		d.Subject, d.Body, d.Attachment, appID)
	return err
}

// RequeueApplication is the manual-intervention path: an operator resets a
// terminal application back to QUEUED for the next run.
func RequeueApplication(ctx context.Context, db *sql.DB, appID int64) error {
	var cur string
	if err := db.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = ?;`, appID).Scan(&cur); err != nil {
		return fmt.Errorf("load application %d: %w", appID, err)
	}
	from, err := domain.ParseStatus(cur)
	if err != nil {
		return err
	}
	if !domain.IsTerminal(from) {
		return fmt.Errorf("application %d is %s, only terminal applications can be requeued", appID, from)
	}
	if from == domain.StatusSent {
		return fmt.Errorf("application %d was already sent", appID)
	}
	_, err = db.ExecContext(ctx, `
UPDATE applications SET status = ?, error_msg = '', skip_reason = '' WHERE id = ?;`,
		string(domain.StatusQueued), appID)
	return err
}

func ListApplications(ctx context.Context, db *sql.DB, userID string, limit int) ([]domain.Application, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
SELECT a.id, a.user_id, a.posting_id, p.external_id, a.score, a.status, a.recipient,
       a.subject, a.body, a.attachment, a.skip_reason, a.error_msg, a.created_at, a.sent_at
FROM applications a
JOIN job_postings p ON p.id = a.posting_id
WHERE a.user_id = ?
ORDER BY a.created_at DESC
LIMIT ?;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func getApplicationByPair(ctx context.Context, db *sql.DB, userID string, postingID int64) (domain.Application, error) {
	row := db.QueryRowContext(ctx, `
SELECT a.id, a.user_id, a.posting_id, p.external_id, a.score, a.status, a.recipient,
       a.subject, a.body, a.attachment, a.skip_reason, a.error_msg, a.created_at, a.sent_at
FROM applications a
JOIN job_postings p ON p.id = a.posting_id
WHERE a.user_id = ? AND a.posting_id = ?;`, userID, postingID)
	return scanApplication(row)
}

func scanApplication(r rowScanner) (domain.Application, error) {
	var a domain.Application
	var status, createdAt string
	var sentAt sql.NullString
	if err := r.Scan(&a.ID, &a.UserID, &a.PostingID, &a.ExternalID, &a.Score, &status,
		&a.Recipient, &a.Subject, &a.Body, &a.Attachment, &a.SkipReason, &a.ErrorMsg,
		&createdAt, &sentAt); err != nil {
		return a, err
	}
	a.Status = domain.Status(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if sentAt.Valid {
		if t, err := time.Parse(time.RFC3339, sentAt.String); err == nil {
			a.SentAt = &t
		}
	}
	return a, nil
}
