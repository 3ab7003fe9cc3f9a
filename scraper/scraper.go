// Package scraper holds the marketplace fetchers and the sequential runner
// that drives them.
package scraper

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"fleamarket-radar/models"
	"fleamarket-radar/utils"
)

// Source fetches raw listings for one keyword from one marketplace. The
// extraction fallback chains live inside each implementation; callers only
// see raw records.
type Source interface {
	Name() models.Source
	Fetch(ctx context.Context, keyword string) ([]*models.RawItem, error)
}

// Runner walks keywords and sources one at a time. Fetches are separated by
// a politeness delay; one failing source is logged and skipped so the rest
// of the run still completes.
type Runner struct {
	sources []Source
	pacer   *utils.Pacer
	logger  zerolog.Logger
}

func NewRunner(sources []Source, politeness time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		sources: sources,
		pacer:   utils.NewPacer(politeness),
		logger:  logger,
	}
}

// Run fetches every keyword from every source and returns the combined raw
// items in fetch order.
func (r *Runner) Run(ctx context.Context, keywords []string) []*models.RawItem {
	var all []*models.RawItem
	for _, kw := range keywords {
		for _, src := range r.sources {
			r.pacer.Wait()

			items, err := src.Fetch(ctx, kw)
			if err != nil {
				r.logger.Error().Err(err).
					Str("source", string(src.Name())).
					Str("keyword", kw).
					Msg("fetch failed, skipping")
				continue
			}
			r.logger.Info().
				Str("source", string(src.Name())).
				Str("keyword", kw).
				Int("items", len(items)).
				Msg("fetch done")
			all = append(all, items...)
		}
	}
	return all
}

// NewAllocator builds the shared headless-browser allocator every fetcher
// runs its tabs in. The returned cancel func tears the browser down.
func NewAllocator(ctx context.Context, chromeBin string, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	bin := findChromeBinary(chromeBin)
	if bin != "" {
		logger.Debug().Str("binary", bin).Msg("using browser binary")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	cancel := func() {
		cancelSilent()
		cancelAlloc()
	}
	return silentCtx, cancel
}

// ScrollToBottom pages the viewport down in fixed steps so lazy-loaded
// cards render before extraction.
func ScrollToBottom(maxScrolls int) []chromedp.Action {
	actions := make([]chromedp.Action, 0, maxScrolls*2)
	for i := 0; i < maxScrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollBy(0, 500)`, nil),
			chromedp.Sleep(500*time.Millisecond),
		)
	}
	actions = append(actions, chromedp.Sleep(2*time.Second))
	return actions
}

// findChromeBinary locates a Chrome/Chromium binary, preferring the
// configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
