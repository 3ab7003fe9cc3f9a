package services

import (
	"time"

	"github.com/rs/zerolog"

	"fleamarket-radar/models"
	"fleamarket-radar/notifier"
	"fleamarket-radar/storage"
)

// NotificationGate sits between the detector and the notifier. It claims a
// notification record before sending, so a second run inside the cooldown
// window is suppressed, and releases the claim again if the send fails.
type NotificationGate struct {
	log      storage.NotificationLog
	notifier notifier.Notifier
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewNotificationGate wires the gate. A nil notifier means credentials are
// not configured; candidates are then logged and dropped without claiming.
func NewNotificationGate(log storage.NotificationLog, n notifier.Notifier, cooldown time.Duration, logger zerolog.Logger) *NotificationGate {
	return &NotificationGate{log: log, notifier: n, cooldown: cooldown, logger: logger}
}

// Process runs every candidate through the claim/send sequence and returns
// the number of notifications actually delivered. Send failures are logged
// and swallowed so one broken delivery never blocks the remaining
// candidates.
func (g *NotificationGate) Process(cands []*models.BargainCandidate) int {
	if g.notifier == nil {
		if len(cands) > 0 {
			g.logger.Info().Int("candidates", len(cands)).
				Msg("notifier not configured, skipping alerts")
		}
		return 0
	}

	sent := 0
	for _, c := range cands {
		rec := &models.NotificationRecord{
			Source:          c.Listing.Source,
			ProductID:       c.Listing.ProductID,
			Title:           c.Listing.Title,
			Price:           c.Listing.Price,
			DiscountPercent: c.DiscountPercent,
			NotifiedAt:      time.Now().UTC(),
		}

		id, claimed, err := g.log.ClaimNotification(rec, g.cooldown)
		if err != nil {
			g.logger.Error().Err(err).
				Str("product_id", c.Listing.ProductID).
				Msg("notification claim failed")
			continue
		}
		if !claimed {
			g.logger.Debug().
				Str("product_id", c.Listing.ProductID).
				Msg("cooldown active, alert suppressed")
			continue
		}

		if err := g.notifier.Send(notifier.BargainSubject(c), notifier.BargainHTML(c)); err != nil {
			g.logger.Warn().Err(err).
				Str("product_id", c.Listing.ProductID).
				Msg("notification send failed")
			if rerr := g.log.ReleaseNotification(id); rerr != nil {
				g.logger.Error().Err(rerr).Int64("id", id).
					Msg("failed to release notification claim")
			}
			continue
		}
		sent++
	}

	g.logger.Info().Int("candidates", len(cands)).Int("sent", sent).
		Msg("notification pass finished")
	return sent
}
