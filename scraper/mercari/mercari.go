package mercari

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"fleamarket-radar/config"
	"fleamarket-radar/models"
	"fleamarket-radar/scraper"
	"fleamarket-radar/utils"
)

const baseURL = "https://jp.mercari.com"

// Scraper fetches mercari search results. Each keyword is fetched twice,
// once for items on sale and once with the sold filter, because the search
// page never mixes the two.
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

func (s *Scraper) Name() models.Source { return models.SourceMercari }

func (s *Scraper) Fetch(ctx context.Context, keyword string) ([]*models.RawItem, error) {
	onSale, err := s.search(keyword, false)
	if err != nil {
		return nil, err
	}

	time.Sleep(s.cfg.PolitenessDelay)

	sold, err := s.search(keyword, true)
	if err != nil {
		return nil, err
	}
	return append(onSale, sold...), nil
}

type card struct {
	Href      string `json:"href"`
	Title     string `json:"title"`
	PriceText string `json:"priceText"`
}

func (s *Scraper) search(keyword string, sold bool) ([]*models.RawItem, error) {
	searchURL := baseURL + "/search?keyword=" + url.QueryEscape(keyword)
	if sold {
		searchURL += "&status=sold"
	}

	var cards []card
	op := fmt.Sprintf("mercari-search-%s-sold=%t", keyword, sold)
	err := s.retry.Do(op, func() error {
		ctx, cancel := chromedp.NewContext(s.allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, s.cfg.PageTimeout)
		defer cancelTimeout()

		actions := []chromedp.Action{
			chromedp.Navigate(searchURL),
			chromedp.Sleep(3 * time.Second),
		}
		actions = append(actions, scraper.ScrollToBottom(s.cfg.MaxScrolls)...)
		actions = append(actions, chromedp.Evaluate(extractJS, &cards))

		if err := chromedp.Run(ctx, actions...); err != nil {
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
		if c.Href == "" || !s.seen.Add(string(models.SourceMercari)+"|"+c.Href+fmt.Sprintf("|%t", sold)) {
			continue
		}
		items = append(items, &models.RawItem{
			Source:       models.SourceMercari,
			Keyword:      keyword,
			RawTitle:     c.Title,
			RawPriceText: c.PriceText,
			IDOrHref:     c.Href,
			URL:          baseURL + c.Href,
			SoldFlag:     sold,
			FetchedAt:    now,
		})
	}

	s.logger.Debug().
		Str("keyword", keyword).
		Bool("sold", sold).
		Int("cards", len(cards)).
		Int("items", len(items)).
		Msg("mercari search extracted")
	return items, nil
}

// extractJS walks the item links on a search page. The title falls back
// through the thumbnail name node, the link's aria-label and the image alt
// text, in that order; the markup varies between rollouts.
const extractJS = `
	(function() {
		var results = [];
		var seen = {};
		var links = document.querySelectorAll('a[href^="/item/m"]');

		for (var i = 0; i < links.length; i++) {
			var link = links[i];
			var href = link.getAttribute('href');
			if (!href || seen[href]) continue;
			seen[href] = true;

			var title = '';
			var titleEl = link.querySelector('[data-testid="thumbnail-item-name"]');
			if (titleEl && titleEl.textContent) {
				title = titleEl.textContent.trim();
			}
			if (!title) {
				var ariaLabel = link.getAttribute('aria-label');
				if (ariaLabel) {
					title = ariaLabel.replace(/の画像.*/, '').trim();
				}
			}
			if (!title) {
				var img = link.querySelector('img');
				if (img && img.getAttribute('alt')) {
					title = img.getAttribute('alt').replace(/のサムネイル$/, '');
				}
			}

			var priceText = '';
			var priceEl = link.querySelector('.number__6b270ca7') ||
			              link.querySelector('[class*="number"]');
			if (priceEl) priceText = priceEl.textContent;

			results.push({ href: href, title: title, priceText: priceText });
		}
		return results;
	})()
`
