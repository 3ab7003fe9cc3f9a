package models

import "time"

// Source identifies the marketplace a listing was observed on.
type Source string

const (
	SourceMercari Source = "mercari"
	SourceYahoo   Source = "yahoo"
)

// DisplayName returns the human-readable site name used in notifications.
func (s Source) DisplayName() string {
	switch s {
	case SourceMercari:
		return "メルカリ"
	case SourceYahoo:
		return "ヤフーフリマ"
	default:
		return string(s)
	}
}

// Status is the sale state of a listing. The only modeled transition is
// OnSale → Sold: the stored status tracks the latest observation, but
// SoldAt is written once on that transition and never cleared.
type Status string

const (
	StatusOnSale Status = "on_sale"
	StatusSold   Status = "sold"
)

// RawItem holds one unprocessed extraction record as returned by a page
// fetcher, before any validation or normalization.
type RawItem struct {
	Source       Source
	Keyword      string
	RawTitle     string
	RawPriceText string
	IDOrHref     string
	URL          string
	SoldFlag     bool
	FetchedAt    time.Time
}

// Listing is one validated marketplace item observation, uniquely identified
// by (Source, ProductID). Prices are positive integers in JPY.
type Listing struct {
	Source    Source
	ProductID string
	Title     string
	Price     int
	Category  string
	Status    Status
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	SoldAt    *time.Time
}

// BargainCandidate is an on-sale listing priced below its cohort-derived
// threshold, together with the statistic it was measured against.
type BargainCandidate struct {
	Listing         *Listing
	CohortStat      float64
	CohortSize      int
	DiscountPercent int
}

// NotificationRecord is one notification event. It implements a cooldown,
// not a permanent dedup: the same (Source, ProductID) may be notified again
// once its most recent record is older than the cooldown window.
type NotificationRecord struct {
	ID              int64
	Source          Source
	ProductID       string
	Title           string
	Price           int
	DiscountPercent int
	NotifiedAt      time.Time
}

// AnalysisRow is the flattened form of a listing handed to the summarizer.
// HoursToSell is derived from sold_at − created_at and nil for unsold items.
type AnalysisRow struct {
	Category    string   `json:"category"`
	Status      Status   `json:"status"`
	Price       int      `json:"price"`
	Title       string   `json:"title"`
	HoursToSell *float64 `json:"hours_to_sell"`
	CreatedAt   string   `json:"created_at"`
}

// MarketSummary holds the counters substituted into the analysis prompt.
type MarketSummary struct {
	TotalItems  int
	SoldItems   int
	OnSaleItems int
	Categories  []string
}
