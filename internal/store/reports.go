package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrReportNotFound = errors.New("report not found")

type Report struct {
	Filename  string `json:"filename"`
	Kind      string `json:"kind"` // opportunities | matchmaking
	JobID     string `json:"job_id"`
	CreatedAt string `json:"created_at"`
}

// RegisterReport indexes a generated artifact. Downloads are only served
// for filenames present in this table.
func RegisterReport(ctx context.Context, db *sql.DB, filename, kind, jobID string) error {
	_, err := db.ExecContext(ctx, `
INSERT OR REPLACE INTO reports(filename, kind, job_id, created_at)
VALUES(?,?,?,?);`,
		filename, kind, jobID, time.Now().UTC().Format(time.RFC3339))
	return err
}

func LookupReport(ctx context.Context, db *sql.DB, filename string) (Report, error) {
	var r Report
	err := db.QueryRowContext(ctx, `
SELECT filename, kind, job_id, created_at
FROM reports
WHERE filename = ?;`, filename).Scan(&r.Filename, &r.Kind, &r.JobID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrReportNotFound
	}
	if err != nil {
		return Report{}, err
	}
	return r, nil
}

func ListReports(ctx context.Context, db *sql.DB, limit int) ([]Report, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
SELECT filename, kind, job_id, created_at
FROM reports
ORDER BY created_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.Filename, &r.Kind, &r.JobID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CleanupOldReports drops index rows for artifacts past the retention
// window. Files on disk are removed by the caller.
func CleanupOldReports(db *sql.DB) (removed []string, err error) {
	// created_at is RFC3339; datetime() normalizes it before comparing
	rows, err := db.Query(`
SELECT filename FROM reports
WHERE datetime(created_at) < datetime('now', '-1 months');
`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(removed) > 0 {
		if _, err := db.Exec(`
DELETE FROM reports
WHERE datetime(created_at) < datetime('now', '-1 months');
`); err != nil {
			return nil, err
		}
	}
	return removed, nil
}
