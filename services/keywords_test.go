package services

import (
	"errors"
	"reflect"
	"testing"

	"fleamarket-radar/models"
	"fleamarket-radar/storage"
)

type fakeKeywordLedger struct {
	storage.Ledger
	keywords []string
	err      error
}

func (f *fakeKeywordLedger) TopSoldKeywords(source models.Source, windowDays, minSold, limit int) ([]string, error) {
	return f.keywords, f.err
}

func TestResolveKeywordsExplicitWins(t *testing.T) {
	led := &fakeKeywordLedger{keywords: []string{"フィギュア"}}
	got := ResolveKeywords([]string{"カメラ", "レンズ"}, true, led, testLogger())
	if !reflect.DeepEqual(got, []string{"カメラ", "レンズ"}) {
		t.Errorf("got %v; want configured keywords", got)
	}
}

func TestResolveKeywordsAuto(t *testing.T) {
	led := &fakeKeywordLedger{keywords: []string{"トレカ", "ゲームソフト"}}
	got := ResolveKeywords(nil, true, led, testLogger())
	if !reflect.DeepEqual(got, []string{"トレカ", "ゲームソフト"}) {
		t.Errorf("got %v; want mined keywords", got)
	}
}

func TestResolveKeywordsAutoErrorFallsBack(t *testing.T) {
	led := &fakeKeywordLedger{err: errors.New("db down")}
	got := ResolveKeywords(nil, true, led, testLogger())
	if !reflect.DeepEqual(got, []string{defaultKeyword}) {
		t.Errorf("got %v; want default keyword", got)
	}
}

func TestResolveKeywordsAutoEmptyFallsBack(t *testing.T) {
	led := &fakeKeywordLedger{}
	got := ResolveKeywords(nil, true, led, testLogger())
	if !reflect.DeepEqual(got, []string{defaultKeyword}) {
		t.Errorf("got %v; want default keyword", got)
	}
}

func TestResolveKeywordsDefault(t *testing.T) {
	got := ResolveKeywords(nil, false, nil, testLogger())
	if !reflect.DeepEqual(got, []string{defaultKeyword}) {
		t.Errorf("got %v; want default keyword", got)
	}
}
