package services

import (
	"github.com/rs/zerolog"

	"fleamarket-radar/models"
	"fleamarket-radar/storage"
)

const defaultKeyword = "ゲーム"

// Auto mode mines keywords from what actually sold recently.
const (
	autoKeywordWindowDays = 7
	autoKeywordMinSold    = 10
	autoKeywordLimit      = 10
)

// ResolveKeywords picks the search keywords for a scrape run. Explicit
// configuration wins; auto mode falls back to the busiest recently sold
// categories; everything else falls back to the default keyword. Ledger
// errors in auto mode degrade to the default rather than failing the run.
func ResolveKeywords(configured []string, auto bool, ledger storage.Ledger, logger zerolog.Logger) []string {
	if len(configured) > 0 {
		return configured
	}
	if auto && ledger != nil {
		kws, err := ledger.TopSoldKeywords(models.SourceMercari, autoKeywordWindowDays, autoKeywordMinSold, autoKeywordLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("auto keyword lookup failed, using default")
		} else if len(kws) > 0 {
			logger.Info().Strs("keywords", kws).Msg("auto keywords from sold history")
			return kws
		}
	}
	return []string{defaultKeyword}
}
