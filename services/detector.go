package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"fleamarket-radar/models"
	"fleamarket-radar/storage"
)

// DetectorConfig tunes the bargain cutoff. Historical runs used different
// statistic/threshold combinations, so all four knobs stay configurable.
type DetectorConfig struct {
	// CentralStatistic is "mean" or "median".
	CentralStatistic  string
	MinCohortSize     int
	DiscountThreshold float64
	PriceFloor        int
	WindowDays        int
}

// BargainDetector flags on-sale listings priced well below their
// (source, category) cohort over a trailing window.
type BargainDetector struct {
	ledger storage.Ledger
	cfg    DetectorConfig
	logger zerolog.Logger
}

func NewBargainDetector(ledger storage.Ledger, cfg DetectorConfig, logger zerolog.Logger) *BargainDetector {
	return &BargainDetector{ledger: ledger, cfg: cfg, logger: logger}
}

// Detect scans every cohort seen in the window and returns candidates
// grouped by cohort, in the ledger's cohort order.
func (d *BargainDetector) Detect() ([]*models.BargainCandidate, error) {
	cohorts, err := d.ledger.DistinctCohorts(d.cfg.WindowDays)
	if err != nil {
		return nil, fmt.Errorf("detector: list cohorts: %w", err)
	}

	var out []*models.BargainCandidate
	for _, c := range cohorts {
		listings, err := d.ledger.QueryCohort(c.Source, c.Category, d.cfg.WindowDays)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("source", string(c.Source)).
				Str("category", c.Category).
				Msg("cohort query failed, skipping")
			continue
		}
		out = append(out, d.DetectInCohort(listings)...)
	}

	d.logger.Info().
		Int("cohorts", len(cohorts)).
		Int("candidates", len(out)).
		Msg("bargain detection finished")
	return out, nil
}

// DetectInCohort applies the cutoff to a single cohort's listings. The
// statistic is computed over the positive prices of the whole cohort,
// sold rows included; only on-sale rows can become candidates.
func (d *BargainDetector) DetectInCohort(listings []*models.Listing) []*models.BargainCandidate {
	if len(listings) < d.cfg.MinCohortSize {
		return nil
	}

	var prices []int
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	stat := centralStat(prices, d.cfg.CentralStatistic)
	if stat <= 0 {
		return nil
	}
	cutoff := stat * d.cfg.DiscountThreshold

	var out []*models.BargainCandidate
	for _, l := range listings {
		if l.Status != models.StatusOnSale {
			continue
		}
		// Strict inequality: a price exactly at the cutoff is not a bargain.
		if float64(l.Price) >= cutoff || l.Price <= d.cfg.PriceFloor {
			continue
		}
		discount := int(math.Round((1 - float64(l.Price)/stat) * 100))
		out = append(out, &models.BargainCandidate{
			Listing:         l,
			CohortStat:      stat,
			CohortSize:      len(listings),
			DiscountPercent: discount,
		})
		d.logger.Debug().
			Str("product_id", l.ProductID).
			Int("price", l.Price).
			Float64("cohort_stat", stat).
			Int("discount_percent", discount).
			Msg("bargain candidate")
	}
	return out
}

func centralStat(prices []int, statistic string) float64 {
	if len(prices) == 0 {
		return 0
	}
	if statistic == "mean" {
		sum := 0
		for _, p := range prices {
			sum += p
		}
		return float64(sum) / float64(len(prices))
	}
	sorted := make([]int, len(prices))
	copy(sorted, prices)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return float64(sorted[mid])
}
