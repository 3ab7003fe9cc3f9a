package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fleamarket-radar/models"
)

// Postgres is the production Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use store.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pg := &Postgres{db: db}
	if err := pg.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pg, nil
}

func (pg *Postgres) migrate() error {
	_, err := pg.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id          SERIAL PRIMARY KEY,
			source      VARCHAR(16) NOT NULL,
			product_id  VARCHAR(64) NOT NULL,
			title       TEXT        NOT NULL,
			price       INTEGER     NOT NULL,
			category    TEXT        NOT NULL DEFAULT '',
			status      VARCHAR(16) NOT NULL,
			url         TEXT        NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sold_at     TIMESTAMPTZ,
			UNIQUE (source, product_id)
		);

		CREATE INDEX IF NOT EXISTS idx_products_cohort  ON products(source, category, created_at);
		CREATE INDEX IF NOT EXISTS idx_products_created ON products(created_at);

		CREATE TABLE IF NOT EXISTS notification_log (
			id               SERIAL PRIMARY KEY,
			source           VARCHAR(16) NOT NULL,
			product_id       VARCHAR(64) NOT NULL,
			title            TEXT        NOT NULL,
			price            INTEGER     NOT NULL,
			discount_percent INTEGER     NOT NULL,
			notified_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_notification_recent ON notification_log(source, product_id, notified_at);
	`)
	return err
}

// Upsert applies one listing observation via the (source, product_id) natural
// key. sold_at is written only on the OnSale→Sold edge.
func (pg *Postgres) Upsert(l *models.Listing) error {
	now := time.Now().UTC()
	var soldAt *time.Time
	if l.Status == models.StatusSold {
		soldAt = &now
	}

	_, err := pg.db.Exec(`
		INSERT INTO products (source, product_id, title, price, category, status, url, created_at, updated_at, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (source, product_id) DO UPDATE SET
			title      = EXCLUDED.title,
			price      = EXCLUDED.price,
			category   = EXCLUDED.category,
			status     = EXCLUDED.status,
			url        = EXCLUDED.url,
			updated_at = EXCLUDED.updated_at,
			sold_at    = CASE WHEN EXCLUDED.status = 'sold' AND products.status <> 'sold'
				THEN EXCLUDED.updated_at ELSE products.sold_at END
	`, l.Source, l.ProductID, l.Title, l.Price, l.Category, l.Status, l.URL, now, soldAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s/%s: %w", l.Source, l.ProductID, err)
	}
	return nil
}

func (pg *Postgres) QueryCohort(source models.Source, category string, windowDays int) ([]*models.Listing, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := pg.db.Query(`
		SELECT source, product_id, title, price, category, status, url, created_at, updated_at, sold_at
		FROM products
		WHERE source = $1 AND category = $2 AND created_at > $3
		ORDER BY created_at DESC
	`, source, category, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: query cohort %s/%s: %w", source, category, err)
	}
	defer rows.Close()

	return scanListingsPG(rows)
}

func (pg *Postgres) DistinctCohorts(windowDays int) ([]Cohort, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := pg.db.Query(`
		SELECT DISTINCT source, category FROM products
		WHERE category <> '' AND created_at > $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: distinct cohorts: %w", err)
	}
	defer rows.Close()

	var cohorts []Cohort
	for rows.Next() {
		var c Cohort
		if err := rows.Scan(&c.Source, &c.Category); err != nil {
			return nil, fmt.Errorf("postgres: scan cohort: %w", err)
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, rows.Err()
}

func (pg *Postgres) PurgeOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := pg.db.Exec(`DELETE FROM products WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge: %w", err)
	}
	return res.RowsAffected()
}

func (pg *Postgres) FetchAnalysisRows(windowDays int) ([]*models.AnalysisRow, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := pg.db.Query(`
		SELECT category, status, price, title, created_at, sold_at
		FROM products
		WHERE created_at > $1
		ORDER BY created_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch analysis rows: %w", err)
	}
	defer rows.Close()

	var out []*models.AnalysisRow
	for rows.Next() {
		var (
			r         models.AnalysisRow
			createdAt time.Time
			soldAt    sql.NullTime
		)
		if err := rows.Scan(&r.Category, &r.Status, &r.Price, &r.Title, &createdAt, &soldAt); err != nil {
			return nil, fmt.Errorf("postgres: scan analysis row: %w", err)
		}
		r.CreatedAt = createdAt.UTC().Format("2006-01-02 15:04")
		if soldAt.Valid {
			h := soldAt.Time.Sub(createdAt).Hours()
			r.HoursToSell = &h
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (pg *Postgres) TopSoldKeywords(source models.Source, windowDays, minSold, limit int) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := pg.db.Query(`
		SELECT category FROM products
		WHERE source = $1 AND status = 'sold' AND category <> '' AND created_at > $2
		GROUP BY category
		HAVING COUNT(*) > $3
		ORDER BY COUNT(*) DESC
		LIMIT $4
	`, source, cutoff, minSold, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top sold keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

// ClaimNotification is a single conditional insert: it writes the record only
// when no record for the same (source, product_id) exists within the cooldown
// window, so two racing runs cannot both claim the same listing.
func (pg *Postgres) ClaimNotification(rec *models.NotificationRecord, cooldown time.Duration) (int64, bool, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-cooldown)

	var id int64
	err := pg.db.QueryRow(`
		INSERT INTO notification_log (source, product_id, title, price, discount_percent, notified_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM notification_log
			WHERE source = $1 AND product_id = $2 AND notified_at > $7
		)
		RETURNING id
	`, rec.Source, rec.ProductID, rec.Title, rec.Price, rec.DiscountPercent, now, cutoff).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: claim notification %s/%s: %w", rec.Source, rec.ProductID, err)
	}
	rec.ID = id
	rec.NotifiedAt = now
	return id, true, nil
}

func (pg *Postgres) ReleaseNotification(id int64) error {
	_, err := pg.db.Exec(`DELETE FROM notification_log WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: release notification %d: %w", id, err)
	}
	return nil
}

func (pg *Postgres) Close() error {
	return pg.db.Close()
}

func scanListingsPG(rows *sql.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var soldAt sql.NullTime
		if err := rows.Scan(
			&l.Source, &l.ProductID, &l.Title, &l.Price, &l.Category,
			&l.Status, &l.URL, &l.CreatedAt, &l.UpdatedAt, &soldAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		if soldAt.Valid {
			t := soldAt.Time
			l.SoldAt = &t
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
