package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DayKey is the calendar-day bucket for quota accounting, UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SentToday reads the day's counter without touching it. Used as the
// queue-time guard; the binding increment happens in ReserveDailySend.
func SentToday(ctx context.Context, db *sql.DB, userID, day string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
SELECT sent_count FROM daily_quota WHERE user_id = ? AND day = ?;`, userID, day).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	return n, nil
}

// ReserveDailySend atomically increments the day's counter iff it is still
// below limit. The check and the increment happen in one conditional UPDATE
// inside a transaction, so a restarted run racing a live one cannot both
// take the last slot.
func ReserveDailySend(ctx context.Context, db *sql.DB, userID, day string, limit int) (bool, int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO daily_quota(user_id, day, sent_count) VALUES(?,?,0);`,
		userID, day); err != nil {
		return false, 0, fmt.Errorf("init quota row: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE daily_quota SET sent_count = sent_count + 1
WHERE user_id = ? AND day = ? AND sent_count < ?;`,
		userID, day, limit)
	if err != nil {
		return false, 0, fmt.Errorf("reserve quota: %w", err)
	}
	n, _ := res.RowsAffected()

	var count int
	if err := tx.QueryRowContext(ctx, `
SELECT sent_count FROM daily_quota WHERE user_id = ? AND day = ?;`,
		userID, day).Scan(&count); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return n > 0, count, nil
}

// ReleaseDailySend gives a reserved slot back when the send it was held for
// failed. It only ever lowers the counter, so the quota invariant holds.
func ReleaseDailySend(ctx context.Context, db *sql.DB, userID, day string) error {
	_, err := db.ExecContext(ctx, `
UPDATE daily_quota SET sent_count = sent_count - 1
WHERE user_id = ? AND day = ? AND sent_count > 0;`,
		userID, day)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}
