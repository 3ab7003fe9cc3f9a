package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleamarket-radar/models"
)

type fakeSource struct {
	name  models.Source
	calls []string
	err   error
}

func (f *fakeSource) Name() models.Source { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, keyword string) ([]*models.RawItem, error) {
	f.calls = append(f.calls, keyword)
	if f.err != nil {
		return nil, f.err
	}
	return []*models.RawItem{{Source: f.name, Keyword: keyword, RawTitle: "t", IDOrHref: "/item/x"}}, nil
}

func TestRunnerWalksKeywordsAndSources(t *testing.T) {
	m := &fakeSource{name: models.SourceMercari}
	y := &fakeSource{name: models.SourceYahoo}
	r := NewRunner([]Source{m, y}, time.Millisecond, zerolog.Nop())

	items := r.Run(context.Background(), []string{"ゲーム", "トレカ"})
	if len(items) != 4 {
		t.Errorf("items = %d; want 4", len(items))
	}
	if len(m.calls) != 2 || len(y.calls) != 2 {
		t.Errorf("calls = %d/%d; want 2 each", len(m.calls), len(y.calls))
	}
	if m.calls[0] != "ゲーム" || m.calls[1] != "トレカ" {
		t.Errorf("keyword order = %v", m.calls)
	}
}

func TestRunnerSkipsFailingSource(t *testing.T) {
	m := &fakeSource{name: models.SourceMercari, err: errors.New("navigation timeout")}
	y := &fakeSource{name: models.SourceYahoo}
	r := NewRunner([]Source{m, y}, time.Millisecond, zerolog.Nop())

	items := r.Run(context.Background(), []string{"ゲーム"})
	if len(items) != 1 {
		t.Errorf("items = %d; want 1 from the healthy source", len(items))
	}
}

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	if got := findChromeBinary("/opt/bin/chrome"); got != "/opt/bin/chrome" {
		t.Errorf("findChromeBinary = %q", got)
	}
}
