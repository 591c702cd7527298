package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"postulamatic-engine/internal/domain"
)

// UpsertPosting inserts a posting on first observation and refreshes the
// mutable fields (title, summary, emails, raw html) on every later one.
// external_id and first_seen never change. Returns the stored row and
// whether it was newly created.
func UpsertPosting(ctx context.Context, db *sql.DB, p domain.JobPosting) (domain.JobPosting, bool, error) {
	if p.ExternalID == "" {
		return domain.JobPosting{}, false, fmt.Errorf("upsert posting: missing external_id")
	}
	now := time.Now().UTC()
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}

	emailsB, _ := json.Marshal(p.Emails)

	res, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO job_postings(external_id, title, summary, emails, source_url, raw_html, first_seen, updated_at)
VALUES(?,?,?,?,?,?,?,?);`,
		p.ExternalID, p.Title, p.Summary, string(emailsB), p.SourceURL, p.RawHTML,
		p.FirstSeen.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return domain.JobPosting{}, false, fmt.Errorf("insert posting: %w", err)
	}

	n, _ := res.RowsAffected()
	created := n > 0
	if !created {
		_, err = db.ExecContext(ctx, `
UPDATE job_postings
SET title = ?, summary = ?, emails = ?, raw_html = ?, updated_at = ?
WHERE external_id = ?;`,
			p.Title, p.Summary, string(emailsB), p.RawHTML, now.Format(time.RFC3339), p.ExternalID,
		)
		if err != nil {
			return domain.JobPosting{}, false, fmt.Errorf("refresh posting: %w", err)
		}
	}

	stored, err := GetPostingByExternalID(ctx, db, p.ExternalID)
	if err != nil {
		return domain.JobPosting{}, false, err
	}
	return stored, created, nil
}

func GetPostingByExternalID(ctx context.Context, db *sql.DB, externalID string) (domain.JobPosting, error) {
	row := db.QueryRowContext(ctx, `
SELECT id, external_id, title, summary, emails, source_url, raw_html, first_seen, updated_at
FROM job_postings
WHERE external_id = ?;`, externalID)
	return scanPosting(row)
}

func ListPostings(ctx context.Context, db *sql.DB, limit int) ([]domain.JobPosting, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, external_id, title, summary, emails, source_url, raw_html, first_seen, updated_at
FROM job_postings
ORDER BY first_seen DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(r rowScanner) (domain.JobPosting, error) {
	var p domain.JobPosting
	var emailsJSON, firstSeen, updatedAt string
	if err := r.Scan(&p.ID, &p.ExternalID, &p.Title, &p.Summary, &emailsJSON,
		&p.SourceURL, &p.RawHTML, &firstSeen, &updatedAt); err != nil {
		return p, err
	}
	_ = json.Unmarshal([]byte(emailsJSON), &p.Emails)
	p.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}
