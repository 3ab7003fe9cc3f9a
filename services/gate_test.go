package services

import (
	"errors"
	"testing"
	"time"

	"fleamarket-radar/models"
)

type fakeLog struct {
	nextID int64
	byID   map[int64]string
	latest map[string]time.Time
	err    error
}

func newFakeLog() *fakeLog {
	return &fakeLog{byID: map[int64]string{}, latest: map[string]time.Time{}}
}

func (f *fakeLog) ClaimNotification(rec *models.NotificationRecord, cooldown time.Duration) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	key := string(rec.Source) + "|" + rec.ProductID
	if at, ok := f.latest[key]; ok && rec.NotifiedAt.Sub(at) < cooldown {
		return 0, false, nil
	}
	f.nextID++
	f.byID[f.nextID] = key
	f.latest[key] = rec.NotifiedAt
	return f.nextID, true, nil
}

func (f *fakeLog) ReleaseNotification(id int64) error {
	key, ok := f.byID[id]
	if !ok {
		return errors.New("no such claim")
	}
	delete(f.byID, id)
	delete(f.latest, key)
	return nil
}

type fakeNotifier struct {
	sent     []string
	failures int
}

func (f *fakeNotifier) Send(subject, htmlBody string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp: connection refused")
	}
	f.sent = append(f.sent, subject)
	return nil
}

func gateCandidate(id string) *models.BargainCandidate {
	return &models.BargainCandidate{
		Listing: &models.Listing{
			Source:    models.SourceMercari,
			ProductID: id,
			Title:     "ゲームソフト まとめ",
			Price:     800,
			Status:    models.StatusOnSale,
		},
		CohortStat:      1080,
		CohortSize:      11,
		DiscountPercent: 26,
	}
}

func TestGateSendsAndRecords(t *testing.T) {
	log := newFakeLog()
	n := &fakeNotifier{}
	g := NewNotificationGate(log, n, 24*time.Hour, testLogger())

	if sent := g.Process([]*models.BargainCandidate{gateCandidate("m1")}); sent != 1 {
		t.Fatalf("sent = %d; want 1", sent)
	}
	if len(n.sent) != 1 {
		t.Errorf("notifier calls = %d; want 1", len(n.sent))
	}
	if len(log.byID) != 1 {
		t.Errorf("records = %d; want 1", len(log.byID))
	}
}

func TestGateCooldownSuppressesRepeat(t *testing.T) {
	log := newFakeLog()
	n := &fakeNotifier{}
	g := NewNotificationGate(log, n, 24*time.Hour, testLogger())

	cands := []*models.BargainCandidate{gateCandidate("m1")}
	g.Process(cands)
	if sent := g.Process(cands); sent != 0 {
		t.Errorf("second pass sent = %d; want 0", sent)
	}
	if len(n.sent) != 1 {
		t.Errorf("notifier calls = %d; want 1", len(n.sent))
	}
}

func TestGateReleasesClaimOnSendFailure(t *testing.T) {
	log := newFakeLog()
	n := &fakeNotifier{failures: 1}
	g := NewNotificationGate(log, n, 24*time.Hour, testLogger())

	cands := []*models.BargainCandidate{gateCandidate("m1")}
	if sent := g.Process(cands); sent != 0 {
		t.Fatalf("failed send counted: sent = %d", sent)
	}
	if len(log.byID) != 0 {
		t.Fatalf("record kept for failed send")
	}

	// The listing stays eligible once delivery works again.
	if sent := g.Process(cands); sent != 1 {
		t.Errorf("retry pass sent = %d; want 1", sent)
	}
}

func TestGateContinuesPastFailure(t *testing.T) {
	log := newFakeLog()
	n := &fakeNotifier{failures: 1}
	g := NewNotificationGate(log, n, 24*time.Hour, testLogger())

	cands := []*models.BargainCandidate{gateCandidate("m1"), gateCandidate("m2")}
	if sent := g.Process(cands); sent != 1 {
		t.Errorf("sent = %d; want 1", sent)
	}
}

func TestGateNilNotifier(t *testing.T) {
	log := newFakeLog()
	g := NewNotificationGate(log, nil, 24*time.Hour, testLogger())

	if sent := g.Process([]*models.BargainCandidate{gateCandidate("m1")}); sent != 0 {
		t.Errorf("sent = %d; want 0", sent)
	}
	if len(log.byID) != 0 {
		t.Errorf("claim written with no notifier configured")
	}
}

func TestGateClaimErrorSkipsCandidate(t *testing.T) {
	log := newFakeLog()
	log.err = errors.New("db: connection reset")
	n := &fakeNotifier{}
	g := NewNotificationGate(log, n, 24*time.Hour, testLogger())

	if sent := g.Process([]*models.BargainCandidate{gateCandidate("m1")}); sent != 0 {
		t.Errorf("sent = %d; want 0", sent)
	}
	if len(n.sent) != 0 {
		t.Errorf("send attempted despite claim error")
	}
}
