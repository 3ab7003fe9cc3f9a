package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"fleamarket-radar/config"
	"fleamarket-radar/models"
	"fleamarket-radar/utils"
)

const baseURL = "https://paypayfleamarket.yahoo.co.jp"

// Scraper fetches Yahoo flea market search results. A single search page
// mixes sold and on-sale items, flagged per card by a sold badge, so one
// fetch per keyword is enough.
type Scraper struct {
	allocCtx context.Context
	cfg      *config.Config
	logger   zerolog.Logger
	retry    *utils.RetryConfig
	seen     *utils.IDSet
}

func New(allocCtx context.Context, cfg *config.Config, logger zerolog.Logger) *Scraper {
	return &Scraper{
		allocCtx: allocCtx,
		cfg:      cfg,
		logger:   logger,
		retry: &utils.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		seen: utils.NewIDSet(),
	}
}

func (s *Scraper) Name() models.Source { return models.SourceYahoo }

type card struct {
	Href      string `json:"href"`
	Title     string `json:"title"`
	PriceText string `json:"priceText"`
	Sold      bool   `json:"sold"`
}

func (s *Scraper) Fetch(ctx context.Context, keyword string) ([]*models.RawItem, error) {
	searchURL := baseURL + "/search/" + url.PathEscape(keyword)

	var cards []card
	err := s.retry.Do("yahoo-search-"+keyword, func() error {
		ctx, cancel := chromedp.NewContext(s.allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, s.cfg.PageTimeout)
		defer cancelTimeout()

		err := chromedp.Run(ctx,
			chromedp.Navigate(searchURL),
			chromedp.WaitVisible(`[class*="Product_item"]`, chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(extractJS(s.cfg.ListingCap), &cards),
		)
		if err != nil {
			return fmt.Errorf("chromedp search: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]*models.RawItem, 0, len(cards))
	for _, c := range cards {
		if c.Href == "" || !s.seen.Add(string(models.SourceYahoo)+"|"+c.Href) {
			continue
		}
		itemURL := c.Href
		if !strings.HasPrefix(itemURL, "http") {
			itemURL = baseURL + itemURL
		}
		items = append(items, &models.RawItem{
			Source:       models.SourceYahoo,
			Keyword:      keyword,
			RawTitle:     c.Title,
			RawPriceText: c.PriceText,
			IDOrHref:     c.Href,
			URL:          itemURL,
			SoldFlag:     c.Sold,
			FetchedAt:    now,
		})
	}

	s.logger.Debug().
		Str("keyword", keyword).
		Int("cards", len(cards)).
		Int("items", len(items)).
		Msg("yahoo search extracted")
	return items, nil
}

func extractJS(limit int) string {
	return fmt.Sprintf(`
		(function() {
			var results = [];
			var elements = document.querySelectorAll('[class*="Product_item"]');

			for (var i = 0; i < elements.length && results.length < %d; i++) {
				var el = elements[i];
				var titleEl = el.querySelector('[class*="Product_name"]');
				var priceEl = el.querySelector('[class*="Product_price"]');
				var linkEl = el.querySelector('a');
				var soldEl = el.querySelector('[class*="sold"]');

				if (!titleEl || !priceEl || !linkEl) continue;

				results.push({
					href: linkEl.getAttribute('href') || '',
					title: titleEl.textContent.trim(),
					priceText: priceEl.textContent,
					sold: soldEl !== null
				});
			}
			return results;
		})()
	`, limit)
}
