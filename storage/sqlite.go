package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fleamarket-radar/models"
)

// sqliteTimeLayout is a fixed-width UTC layout so that string comparison of
// stored timestamps matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the Store used for local runs and the test harness, backed by a
// single database file. Semantics match the Postgres store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the SQLite database at the given path and runs
// schema migrations. Intermediate directories are created automatically.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			source      TEXT    NOT NULL,
			product_id  TEXT    NOT NULL,
			title       TEXT    NOT NULL,
			price       INTEGER NOT NULL,
			category    TEXT    NOT NULL DEFAULT '',
			status      TEXT    NOT NULL,
			url         TEXT    NOT NULL DEFAULT '',
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL,
			sold_at     TEXT,
			UNIQUE (source, product_id)
		);

		CREATE INDEX IF NOT EXISTS idx_products_cohort  ON products(source, category, created_at);
		CREATE INDEX IF NOT EXISTS idx_products_created ON products(created_at);

		CREATE TABLE IF NOT EXISTS notification_log (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			source           TEXT    NOT NULL,
			product_id       TEXT    NOT NULL,
			title            TEXT    NOT NULL,
			price            INTEGER NOT NULL,
			discount_percent INTEGER NOT NULL,
			notified_at      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notification_recent ON notification_log(source, product_id, notified_at);
	`)
	return err
}

func (s *SQLite) Upsert(l *models.Listing) error {
	now := time.Now().UTC()
	nowStr := now.Format(sqliteTimeLayout)

	var soldAt interface{}
	if l.Status == models.StatusSold {
		soldAt = nowStr
	}

	_, err := s.db.Exec(`
		INSERT INTO products (source, product_id, title, price, category, status, url, created_at, updated_at, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (source, product_id) DO UPDATE SET
			title      = excluded.title,
			price      = excluded.price,
			category   = excluded.category,
			status     = excluded.status,
			url        = excluded.url,
			updated_at = excluded.updated_at,
			sold_at    = CASE WHEN excluded.status = 'sold' AND products.status <> 'sold'
				THEN excluded.updated_at ELSE products.sold_at END
	`, l.Source, l.ProductID, l.Title, l.Price, l.Category, l.Status, l.URL, nowStr, soldAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s/%s: %w", l.Source, l.ProductID, err)
	}
	return nil
}

func (s *SQLite) QueryCohort(source models.Source, category string, windowDays int) ([]*models.Listing, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(sqliteTimeLayout)
	rows, err := s.db.Query(`
		SELECT source, product_id, title, price, category, status, url, created_at, updated_at, sold_at
		FROM products
		WHERE source = $1 AND category = $2 AND created_at > $3
		ORDER BY created_at DESC
	`, source, category, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query cohort %s/%s: %w", source, category, err)
	}
	defer rows.Close()

	return scanListingsSQLite(rows)
}

func (s *SQLite) DistinctCohorts(windowDays int) ([]Cohort, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(sqliteTimeLayout)
	rows, err := s.db.Query(`
		SELECT DISTINCT source, category FROM products
		WHERE category <> '' AND created_at > $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: distinct cohorts: %w", err)
	}
	defer rows.Close()

	var cohorts []Cohort
	for rows.Next() {
		var c Cohort
		if err := rows.Scan(&c.Source, &c.Category); err != nil {
			return nil, fmt.Errorf("sqlite: scan cohort: %w", err)
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, rows.Err()
}

func (s *SQLite) PurgeOlderThan(days int) (int64, error) {
	return s.purgeBefore(time.Now().UTC().AddDate(0, 0, -days))
}

// purgeBefore deletes listings created strictly before the cutoff. A row
// created exactly at the cutoff survives.
func (s *SQLite) purgeBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM products WHERE created_at < $1`,
		cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) FetchAnalysisRows(windowDays int) ([]*models.AnalysisRow, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(sqliteTimeLayout)
	rows, err := s.db.Query(`
		SELECT category, status, price, title, created_at, sold_at
		FROM products
		WHERE created_at > $1
		ORDER BY created_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch analysis rows: %w", err)
	}
	defer rows.Close()

	var out []*models.AnalysisRow
	for rows.Next() {
		var (
			r          models.AnalysisRow
			createdStr string
			soldStr    sql.NullString
		)
		if err := rows.Scan(&r.Category, &r.Status, &r.Price, &r.Title, &createdStr, &soldStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan analysis row: %w", err)
		}
		createdAt, err := time.Parse(sqliteTimeLayout, createdStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at %q: %w", createdStr, err)
		}
		r.CreatedAt = createdAt.Format("2006-01-02 15:04")
		if soldStr.Valid {
			soldAt, err := time.Parse(sqliteTimeLayout, soldStr.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse sold_at %q: %w", soldStr.String, err)
			}
			h := soldAt.Sub(createdAt).Hours()
			r.HoursToSell = &h
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLite) TopSoldKeywords(source models.Source, windowDays, minSold, limit int) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(sqliteTimeLayout)
	rows, err := s.db.Query(`
		SELECT category FROM products
		WHERE source = $1 AND status = 'sold' AND category <> '' AND created_at > $2
		GROUP BY category
		HAVING COUNT(*) > $3
		ORDER BY COUNT(*) DESC
		LIMIT $4
	`, source, cutoff, minSold, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: top sold keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

func (s *SQLite) ClaimNotification(rec *models.NotificationRecord, cooldown time.Duration) (int64, bool, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-cooldown).Format(sqliteTimeLayout)

	res, err := s.db.Exec(`
		INSERT INTO notification_log (source, product_id, title, price, discount_percent, notified_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM notification_log
			WHERE source = $1 AND product_id = $2 AND notified_at > $7
		)
	`, rec.Source, rec.ProductID, rec.Title, rec.Price, rec.DiscountPercent,
		now.Format(sqliteTimeLayout), cutoff)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: claim notification %s/%s: %w", rec.Source, rec.ProductID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: claim notification rows: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: claim notification id: %w", err)
	}
	rec.ID = id
	rec.NotifiedAt = now
	return id, true, nil
}

func (s *SQLite) ReleaseNotification(id int64) error {
	_, err := s.db.Exec(`DELETE FROM notification_log WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sqlite: release notification %d: %w", id, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanListingsSQLite(rows *sql.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var createdStr, updatedStr string
		var soldStr sql.NullString
		if err := rows.Scan(
			&l.Source, &l.ProductID, &l.Title, &l.Price, &l.Category,
			&l.Status, &l.URL, &createdStr, &updatedStr, &soldStr,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan listing: %w", err)
		}

		var err error
		if l.CreatedAt, err = time.Parse(sqliteTimeLayout, createdStr); err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at %q: %w", createdStr, err)
		}
		if l.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedStr); err != nil {
			return nil, fmt.Errorf("sqlite: parse updated_at %q: %w", updatedStr, err)
		}
		if soldStr.Valid {
			t, err := time.Parse(sqliteTimeLayout, soldStr.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse sold_at %q: %w", soldStr.String, err)
			}
			l.SoldAt = &t
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
