package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// KnownFingerprints returns which of the given fingerprints already exist
// in seen_opportunities. Batched so a large run stays one query per chunk.
func KnownFingerprints(ctx context.Context, db *sql.DB, fps []string) (map[string]bool, error) {
	known := make(map[string]bool, len(fps))
	const chunk = 200
	for start := 0; start < len(fps); start += chunk {
		end := start + chunk
		if end > len(fps) {
			end = len(fps)
		}
		batch := fps[start:end]

		placeholders := ""
		args := make([]any, 0, len(batch))
		for i, fp := range batch {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, fp)
		}

		rows, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT fingerprint FROM seen_opportunities WHERE fingerprint IN (%s);`, placeholders), args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, err
			}
			known[fp] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return known, nil
}

type SeenRecord struct {
	Fingerprint string
	URL         string
	Title       string
	SourceName  string
}

// RecordSeen inserts fingerprints from this run, keeping the original
// first_seen for anything already present.
func RecordSeen(ctx context.Context, db *sql.DB, recs []SeenRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO seen_opportunities(fingerprint, url, title, source_name, first_seen)
VALUES(?,?,?,?,?)
ON CONFLICT(fingerprint) DO NOTHING;`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Fingerprint, r.URL, r.Title, r.SourceName, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func CleanupOldSeen(db *sql.DB) (deleted int64, err error) {
	// first_seen is RFC3339; datetime() normalizes it before comparing
	res, err := db.Exec(`
DELETE FROM seen_opportunities
WHERE datetime(first_seen) < datetime('now', '-6 months');
`)
	if err != nil {
		return 0, fmt.Errorf("cleanup seen opportunities: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
