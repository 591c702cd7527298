package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"postulamatic-engine/internal/domain"
)

// AppendRunLog writes the run record exactly once; a duplicate run_id is an
// error, not an update.
func AppendRunLog(ctx context.Context, db *sql.DB, rl domain.RunLog) error {
	errsB, _ := json.Marshal(rl.Errors)
	fatal := 0
	if rl.Fatal {
		fatal = 1
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO run_logs(run_id, user_id, started_at, finished_at, scraped, skipped, matched, sent, failed, fatal, errors)
VALUES(?,?,?,?,?,?,?,?,?,?,?);`,
		rl.RunID, rl.UserID,
		rl.StartedAt.UTC().Format(time.RFC3339), rl.FinishedAt.UTC().Format(time.RFC3339),
		rl.Scraped, rl.Skipped, rl.Matched, rl.Sent, rl.Failed, fatal, string(errsB),
	)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

func ListRunLogs(ctx context.Context, db *sql.DB, userID string, limit int) ([]domain.RunLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, run_id, user_id, started_at, finished_at, scraped, skipped, matched, sent, failed, fatal, errors
FROM run_logs
WHERE user_id = ?
ORDER BY started_at DESC
LIMIT ?;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunLog
	for rows.Next() {
		var rl domain.RunLog
		var started, finished, errsJSON string
		var fatal int
		if err := rows.Scan(&rl.ID, &rl.RunID, &rl.UserID, &started, &finished,
			&rl.Scraped, &rl.Skipped, &rl.Matched, &rl.Sent, &rl.Failed, &fatal, &errsJSON); err != nil {
			return nil, err
		}
		rl.StartedAt, _ = time.Parse(time.RFC3339, started)
		rl.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		rl.Fatal = fatal != 0
		_ = json.Unmarshal([]byte(errsJSON), &rl.Errors)
		out = append(out, rl)
	}
	return out, rows.Err()
}
