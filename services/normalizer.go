package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"fleamarket-radar/models"
)

var (
	// nonDigitRE strips everything but digits from a raw price string.
	nonDigitRE = regexp.MustCompile(`[^0-9]`)
	// bracketRE removes bracketed/parenthesized/quoted annotations.
	bracketRE = regexp.MustCompile(`【[^】]*】|（[^）]*）|\([^)]*\)|\[[^\]]*\]|「[^」]*」|『[^』]*』`)
	// conditionRE removes condition and shipping tokens.
	conditionRE = regexp.MustCompile(`新品|中古|未使用品?|未開封|美品|送料無料|送料込み?`)
	// quantityRE removes quantity/set tokens such as 3点セット or 2個.
	quantityRE = regexp.MustCompile(`[0-9０-９]+(?:点|個|枚|本|冊|台)(?:セット)?|[0-9０-９]+(?:セット|set)`)
	// editionRE removes edition tokens.
	editionRE = regexp.MustCompile(`初回限定版|初回限定|初回版|限定版|限定|通常版|特典付き?`)
)

// Normalizer turns raw extraction records into validated Listing observations.
// Invalid items are skipped, never fatal.
type Normalizer struct {
	logger zerolog.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize processes raw items and returns validated listings. Items that
// fail validation are logged and dropped.
func (n *Normalizer) Normalize(raw []*models.RawItem) []*models.Listing {
	result := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		l, err := n.normalizeOne(r)
		if err != nil {
			n.logger.Warn().
				Str("stage", "normalize").
				Str("source", string(r.Source)).
				Str("keyword", r.Keyword).
				Str("ref", r.IDOrHref).
				Err(err).
				Msg("skipping invalid item")
			continue
		}
		result = append(result, l)
	}

	n.logger.Info().
		Str("stage", "normalize").
		Int("raw", len(raw)).
		Int("valid", len(result)).
		Int("dropped", len(raw)-len(result)).
		Msg("normalized batch")
	return result
}

func (n *Normalizer) normalizeOne(r *models.RawItem) (*models.Listing, error) {
	title := normalizeText(r.RawTitle)
	if title == "" {
		return nil, fmt.Errorf("missing title")
	}

	productID := productIDFromRef(r.IDOrHref)
	if productID == "" {
		return nil, fmt.Errorf("missing product id in %q", r.IDOrHref)
	}

	price, err := parsePrice(r.RawPriceText)
	if err != nil {
		return nil, err
	}

	status := models.StatusOnSale
	if r.SoldFlag {
		status = models.StatusSold
	}

	return &models.Listing{
		Source:    r.Source,
		ProductID: productID,
		Title:     title,
		Price:     price,
		Category:  ExtractCategory(title),
		Status:    status,
		URL:       r.URL,
	}, nil
}

// parsePrice strips every non-digit character and parses the remainder.
// "¥1,234" → 1234. Prices must be positive.
func parsePrice(raw string) (int, error) {
	digits := nonDigitRE.ReplaceAllString(raw, "")
	if digits == "" {
		return 0, fmt.Errorf("missing price in %q", raw)
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("unparsable price %q: %w", raw, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %d", price)
	}
	return price, nil
}

// productIDFromRef extracts the product ID from an item href or raw ID:
// the last path segment with any query string stripped.
func productIDFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	return ref
}

// ExtractCategory derives a stable category label from a listing title. It is
// a pure function: annotations, condition/shipping words, quantities and
// edition markers are stripped, then a short representative phrase is chosen.
func ExtractCategory(title string) string {
	cleaned := bracketRE.ReplaceAllString(title, " ")
	cleaned = conditionRE.ReplaceAllString(cleaned, " ")
	cleaned = quantityRE.ReplaceAllString(cleaned, " ")
	cleaned = editionRE.ReplaceAllString(cleaned, " ")
	cleaned = normalizeText(cleaned)

	fields := strings.Fields(cleaned)
	if len(fields) >= 2 {
		// Prefer a 3-token phrase, fall back to 2 tokens.
		for _, n := range []int{3, 2} {
			if n > len(fields) {
				n = len(fields)
			}
			candidate := strings.Join(fields[:n], " ")
			if rl := utf8.RuneCountInString(candidate); rl >= 5 && rl <= 30 {
				return candidate
			}
		}
	}

	if utf8.RuneCountInString(cleaned) > 20 {
		return string([]rune(cleaned)[:20])
	}
	return truncateRunes(cleaned, 30)
}

// normalizeText trims and collapses all internal whitespace to single spaces.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
