package storage

import (
	"time"

	"fleamarket-radar/models"
)

// Cohort names one (source, category) peer-price reference group.
type Cohort struct {
	Source   models.Source
	Category string
}

// Ledger is the interface any listing storage backend must satisfy.
type Ledger interface {
	// Upsert inserts the listing if (source, product_id) is absent, otherwise
	// updates price, category, status, url and updated_at unconditionally.
	// sold_at is set only on the first observation whose status is Sold and
	// is never cleared or overwritten afterwards. Idempotent apart from
	// updated_at.
	Upsert(l *models.Listing) error

	// QueryCohort returns all listings of (source, category) created within
	// the trailing window, newest first.
	QueryCohort(source models.Source, category string, windowDays int) ([]*models.Listing, error)

	// DistinctCohorts returns every (source, category) pair observed within
	// the trailing window.
	DistinctCohorts(windowDays int) ([]Cohort, error)

	// PurgeOlderThan deletes listings created strictly before the retention
	// horizon and returns the number deleted. A listing created exactly at
	// the horizon is retained.
	PurgeOlderThan(days int) (int64, error)

	// FetchAnalysisRows returns the flattened analysis window, newest first.
	FetchAnalysisRows(windowDays int) ([]*models.AnalysisRow, error)

	// TopSoldKeywords returns the categories with more than minSold sold
	// listings for the source within the window, busiest first.
	TopSoldKeywords(source models.Source, windowDays, minSold, limit int) ([]string, error)
}

// NotificationLog records outbound bargain notifications and enforces the
// cooldown window.
type NotificationLog interface {
	// ClaimNotification atomically inserts the record unless a record for the
	// same (source, product_id) exists within the cooldown window. It returns
	// (id, true) when the claim was written and (0, false) when suppressed.
	// The single conditional insert is what prevents double-notifies across
	// concurrent runs.
	ClaimNotification(rec *models.NotificationRecord, cooldown time.Duration) (int64, bool, error)

	// ReleaseNotification deletes a claim written by ClaimNotification. The
	// gate calls it when the subsequent send fails, so no record remains for
	// a failed notification and the listing stays eligible.
	ReleaseNotification(id int64) error
}

// Store is the full persistence surface backing one pipeline run.
type Store interface {
	Ledger
	NotificationLog
	Close() error
}
