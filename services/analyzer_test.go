package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"fleamarket-radar/models"
	"fleamarket-radar/storage"
	"fleamarket-radar/summarizer"
)

type fakeAnalysisLedger struct {
	storage.Ledger
	rows []*models.AnalysisRow
	err  error
}

func (f *fakeAnalysisLedger) FetchAnalysisRows(windowDays int) ([]*models.AnalysisRow, error) {
	return f.rows, f.err
}

type scriptedSummarizer struct {
	prompts []string
	errs    []error
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return fmt.Sprintf("part-%d", i), nil
}

func analysisRows(n int) []*models.AnalysisRow {
	rows := make([]*models.AnalysisRow, n)
	for i := range rows {
		status := models.StatusOnSale
		if i%2 == 0 {
			status = models.StatusSold
		}
		rows[i] = &models.AnalysisRow{
			Category:  fmt.Sprintf("カテゴリ%d", i%3),
			Status:    status,
			Price:     1000 + i,
			Title:     fmt.Sprintf("商品%d", i),
			CreatedAt: "2026-08-30 12:00",
		}
	}
	return rows
}

func newTestAnalyzer(t *testing.T, rows []*models.AnalysisRow, summ summarizer.Summarizer, cfg AnalyzerConfig) (*Analyzer, *[]time.Duration) {
	t.Helper()
	reports, err := storage.NewReportWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = "全{{total_items}}件 / データ: {{sample_data}}"
	}
	a := NewAnalyzer(&fakeAnalysisLedger{rows: rows}, summ, reports, cfg, testLogger())

	var sleeps []time.Duration
	a.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	a.now = func() time.Time { return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC) }
	return a, &sleeps
}

func TestChunkRowsPartition(t *testing.T) {
	chunks := chunkRows(analysisRows(1000), 400)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d; want 3", len(chunks))
	}
	for i, want := range []int{400, 400, 200} {
		if len(chunks[i]) != want {
			t.Errorf("chunk %d size = %d; want %d", i, len(chunks[i]), want)
		}
	}
}

func TestChunkRowsSmallSample(t *testing.T) {
	if got := chunkRows(analysisRows(10), 400); len(got) != 1 || len(got[0]) != 10 {
		t.Errorf("small sample should stay one chunk, got %d chunks", len(got))
	}
	if got := chunkRows(analysisRows(10), 0); len(got) != 1 {
		t.Errorf("zero chunk size should stay one chunk, got %d chunks", len(got))
	}
}

func TestSummarizeCounters(t *testing.T) {
	rows := analysisRows(10)
	s := summarize(rows)
	if s.TotalItems != 10 || s.SoldItems != 5 || s.OnSaleItems != 5 {
		t.Errorf("counters = %+v", s)
	}
	if len(s.Categories) != 3 {
		t.Errorf("categories = %v; want 3 distinct", s.Categories)
	}
}

func TestSummarizeCategoryCap(t *testing.T) {
	rows := make([]*models.AnalysisRow, 80)
	for i := range rows {
		rows[i] = &models.AnalysisRow{
			Category: fmt.Sprintf("カテゴリ%d", i),
			Status:   models.StatusOnSale,
			Price:    100,
		}
	}
	if s := summarize(rows); len(s.Categories) != categoryCap {
		t.Errorf("categories = %d; want cap %d", len(s.Categories), categoryCap)
	}
}

func TestAnalyzerNoData(t *testing.T) {
	a, _ := newTestAnalyzer(t, nil, &scriptedSummarizer{}, AnalyzerConfig{WindowDays: 7, ChunkSize: 400})
	if _, err := a.Run(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v; want ErrNoData", err)
	}
}

func TestAnalyzerSingleChunkSkipsReduce(t *testing.T) {
	summ := &scriptedSummarizer{}
	a, sleeps := newTestAnalyzer(t, analysisRows(5), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, InterChunkDelay: time.Minute,
	})

	path, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(summ.prompts) != 1 {
		t.Errorf("summarizer calls = %d; want 1 (no reduce)", len(summ.prompts))
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times; want 0", len(*sleeps))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "part-0") {
		t.Errorf("report missing chunk output: %q", data)
	}
	if !strings.Contains(path, "analysis-2026-08-31.md") {
		t.Errorf("artifact path = %q; want dated filename", path)
	}
}

func TestAnalyzerMultiChunkReduceAndDelay(t *testing.T) {
	summ := &scriptedSummarizer{}
	a, sleeps := newTestAnalyzer(t, analysisRows(5), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 2, InterChunkDelay: time.Minute,
	})

	path, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// 3 chunks + 1 reduce.
	if len(summ.prompts) != 4 {
		t.Fatalf("summarizer calls = %d; want 4", len(summ.prompts))
	}
	// Delay between chunks only, never after the last.
	if len(*sleeps) != 2 {
		t.Errorf("slept %d times; want 2", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != time.Minute {
			t.Errorf("sleep = %v; want 1m", d)
		}
	}
	reduce := summ.prompts[3]
	if !strings.Contains(reduce, "part-0") || !strings.Contains(reduce, "part-2") {
		t.Errorf("reduce prompt missing chunk outputs: %q", reduce)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// The reduce output is the final report.
	if !strings.Contains(string(data), "part-3") {
		t.Errorf("report should hold the reduce output: %q", data)
	}
}

func TestAnalyzerChunkPromptSubstitution(t *testing.T) {
	summ := &scriptedSummarizer{}
	a, _ := newTestAnalyzer(t, analysisRows(5), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 2,
		PromptTemplate: "計{{total_items}}件 売却{{sold_items}}件 チャンク{{chunk_index}}/{{chunk_count}} ({{chunk_start}}-{{chunk_end}}) {{sample_data}}",
	})

	if _, err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := summ.prompts[0]
	for _, want := range []string{"計5件", "売却3件", "チャンク1/3", "(1-2)", `"category"`} {
		if !strings.Contains(first, want) {
			t.Errorf("first prompt missing %q:\n%s", want, first)
		}
	}
	last := summ.prompts[2]
	if !strings.Contains(last, "チャンク3/3") || !strings.Contains(last, "(5-5)") {
		t.Errorf("last prompt has wrong chunk metadata:\n%s", last)
	}
}

func TestAnalyzerRateLimitRetriesOnce(t *testing.T) {
	summ := &scriptedSummarizer{errs: []error{summarizer.ErrRateLimited}}
	a, sleeps := newTestAnalyzer(t, analysisRows(3), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, RateLimitBackoff: 90 * time.Second,
	})

	if _, err := a.Run(context.Background()); err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if len(summ.prompts) != 2 {
		t.Errorf("summarizer calls = %d; want 2", len(summ.prompts))
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 90*time.Second {
		t.Errorf("backoff sleeps = %v; want one 90s backoff", *sleeps)
	}
}

func TestAnalyzerSecondRateLimitFatal(t *testing.T) {
	summ := &scriptedSummarizer{errs: []error{summarizer.ErrRateLimited, summarizer.ErrRateLimited}}
	a, _ := newTestAnalyzer(t, analysisRows(3), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, RateLimitBackoff: time.Second,
	})

	if _, err := a.Run(context.Background()); !errors.Is(err, summarizer.ErrRateLimited) {
		t.Errorf("err = %v; want rate-limit failure", err)
	}
	if len(summ.prompts) != 2 {
		t.Errorf("summarizer calls = %d; want exactly 2 (one retry)", len(summ.prompts))
	}
}

func TestAnalyzerOtherErrorFatalImmediately(t *testing.T) {
	boom := errors.New("summarizer: generate: boom")
	summ := &scriptedSummarizer{errs: []error{boom}}
	a, sleeps := newTestAnalyzer(t, analysisRows(3), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, RateLimitBackoff: time.Second,
	})

	if _, err := a.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v; want wrapped original error", err)
	}
	if len(summ.prompts) != 1 {
		t.Errorf("summarizer calls = %d; want 1 (no retry)", len(summ.prompts))
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times; want 0", len(*sleeps))
	}
}

func TestAnalyzerTokenCeilingAborts(t *testing.T) {
	summ := &scriptedSummarizer{}
	a, _ := newTestAnalyzer(t, analysisRows(100), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, TokenCeiling: 10,
	})

	_, err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ceiling") {
		t.Fatalf("err = %v; want token-ceiling abort", err)
	}
	if len(summ.prompts) != 0 {
		t.Errorf("summarizer called %d times before abort", len(summ.prompts))
	}
}

func TestAnalyzerSampleCap(t *testing.T) {
	summ := &scriptedSummarizer{}
	a, _ := newTestAnalyzer(t, analysisRows(10), summ, AnalyzerConfig{
		WindowDays: 7, ChunkSize: 400, SampleCap: 4,
		PromptTemplate: "{{sample_size}}件 {{total_items}}",
	})

	if _, err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The sample is capped, the window counters are not.
	if !strings.Contains(summ.prompts[0], "4件 10") {
		t.Errorf("prompt = %q; want capped sample with full total", summ.prompts[0])
	}
}
