package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleamarket-radar/models"
	"fleamarket-radar/storage"
	"fleamarket-radar/summarizer"
)

// ErrNoData means the analysis window held no listings. It is an
// informational outcome, not a failure.
var ErrNoData = errors.New("analyzer: no listings in window")

// categoryCap bounds the category list substituted into the prompt.
const categoryCap = 50

// tokenEstimateDivisor converts serialized bytes to a rough token count.
const tokenEstimateDivisor = 4

type AnalyzerConfig struct {
	WindowDays       int
	SampleCap        int // 0 = unlimited
	ChunkSize        int
	InterChunkDelay  time.Duration
	RateLimitBackoff time.Duration
	TokenCeiling     int // 0 = no ceiling
	PromptTemplate   string
}

// Analyzer drives the chunked market analysis: window read, counters,
// sampling, per-chunk summarizer calls with a single rate-limit retry, an
// optional reduce pass, and the dated report artifact.
type Analyzer struct {
	ledger  storage.Ledger
	summ    summarizer.Summarizer
	reports *storage.ReportWriter
	cfg     AnalyzerConfig
	logger  zerolog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

func NewAnalyzer(ledger storage.Ledger, summ summarizer.Summarizer, reports *storage.ReportWriter, cfg AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		ledger:  ledger,
		summ:    summ,
		reports: reports,
		cfg:     cfg,
		logger:  logger,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Run produces the market report and writes it to the dated artifact,
// returning the artifact path. A window with no data returns ErrNoData.
func (a *Analyzer) Run(ctx context.Context) (string, error) {
	rows, err := a.ledger.FetchAnalysisRows(a.cfg.WindowDays)
	if err != nil {
		return "", fmt.Errorf("analyzer: fetch window: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrNoData
	}

	summary := summarize(rows)
	sample := rows
	if a.cfg.SampleCap > 0 && len(sample) > a.cfg.SampleCap {
		sample = sample[:a.cfg.SampleCap]
	}

	if a.cfg.TokenCeiling > 0 {
		serialized, err := json.Marshal(sample)
		if err != nil {
			return "", fmt.Errorf("analyzer: serialize sample: %w", err)
		}
		estimate := len(serialized) / tokenEstimateDivisor
		if estimate > a.cfg.TokenCeiling {
			a.logger.Warn().
				Int("estimated_tokens", estimate).
				Int("ceiling", a.cfg.TokenCeiling).
				Msg("sample exceeds token ceiling, aborting analysis")
			return "", fmt.Errorf("analyzer: estimated %d tokens exceeds ceiling %d; lower SAMPLE_CAP or widen the ceiling", estimate, a.cfg.TokenCeiling)
		}
	}

	chunks := chunkRows(sample, a.cfg.ChunkSize)
	a.logger.Info().
		Int("rows", len(rows)).
		Int("sample", len(sample)).
		Int("chunks", len(chunks)).
		Msg("analysis window loaded")

	parts := make([]string, 0, len(chunks))
	offset := 0
	for i, chunk := range chunks {
		if i > 0 {
			a.logger.Debug().Dur("delay", a.cfg.InterChunkDelay).Msg("inter-chunk delay")
			a.sleep(a.cfg.InterChunkDelay)
		}

		prompt, err := a.chunkPrompt(summary, sample, chunk, i, len(chunks), offset)
		if err != nil {
			return "", err
		}
		text, err := a.summarizeWithRetry(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("analyzer: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, text)
		offset += len(chunk)
	}

	report := parts[0]
	if len(parts) > 1 {
		report, err = a.summarizeWithRetry(ctx, reducePrompt(parts))
		if err != nil {
			return "", fmt.Errorf("analyzer: reduce: %w", err)
		}
	}

	path, err := a.reports.Write(a.now(), report)
	if err != nil {
		return "", fmt.Errorf("analyzer: %w", err)
	}
	a.logger.Info().Str("path", path).Msg("analysis report written")
	return path, nil
}

// summarizeWithRetry submits one prompt. A rate-limited response gets a
// single retry after the configured backoff; every other error and a second
// rate limit are terminal.
func (a *Analyzer) summarizeWithRetry(ctx context.Context, prompt string) (string, error) {
	text, err := a.summ.Summarize(ctx, prompt)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, summarizer.ErrRateLimited) {
		return "", err
	}

	a.logger.Warn().Dur("backoff", a.cfg.RateLimitBackoff).Msg("rate limited, backing off for one retry")
	a.sleep(a.cfg.RateLimitBackoff)
	return a.summ.Summarize(ctx, prompt)
}

func (a *Analyzer) chunkPrompt(summary models.MarketSummary, sample, chunk []*models.AnalysisRow, index, count, offset int) (string, error) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return "", fmt.Errorf("analyzer: serialize chunk: %w", err)
	}

	vars := map[string]string{
		"total_items":      strconv.Itoa(summary.TotalItems),
		"sold_items":       strconv.Itoa(summary.SoldItems),
		"on_sale_items":    strconv.Itoa(summary.OnSaleItems),
		"categories_count": strconv.Itoa(len(summary.Categories)),
		"categories":       strings.Join(summary.Categories, ", "),
		"sample_data":      string(data),
		"sample_size":      strconv.Itoa(len(sample)),
		"chunk_index":      strconv.Itoa(index + 1),
		"chunk_count":      strconv.Itoa(count),
		"chunk_start":      strconv.Itoa(offset + 1),
		"chunk_end":        strconv.Itoa(offset + len(chunk)),
	}

	prompt := RenderPrompt(a.cfg.PromptTemplate, vars)
	if count > 1 {
		prompt += fmt.Sprintf(
			"\n\n※ これは全%d分割中の%d番目のデータ（%d〜%d件目）です。このチャンクの範囲だけを分析してください。",
			count, index+1, offset+1, offset+len(chunk))
	}
	return prompt, nil
}

func reducePrompt(parts []string) string {
	var b strings.Builder
	b.WriteString("以下は同じ市場データを分割して分析した個別の結果です。重複を取り除き、矛盾のない一つの最終レポートに統合してください。\n\n")
	for i, p := range parts {
		fmt.Fprintf(&b, "--- 分析結果 %d/%d ---\n%s\n\n", i+1, len(parts), p)
	}
	return b.String()
}

// summarize computes the prompt counters. Categories keep first-seen order
// and are capped to keep the prompt bounded.
func summarize(rows []*models.AnalysisRow) models.MarketSummary {
	s := models.MarketSummary{TotalItems: len(rows)}
	seen := make(map[string]bool)
	for _, r := range rows {
		switch r.Status {
		case models.StatusSold:
			s.SoldItems++
		case models.StatusOnSale:
			s.OnSaleItems++
		}
		if r.Category != "" && !seen[r.Category] && len(s.Categories) < categoryCap {
			seen[r.Category] = true
			s.Categories = append(s.Categories, r.Category)
		}
	}
	return s
}

func chunkRows(rows []*models.AnalysisRow, size int) [][]*models.AnalysisRow {
	if size <= 0 || len(rows) <= size {
		return [][]*models.AnalysisRow{rows}
	}
	var chunks [][]*models.AnalysisRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
