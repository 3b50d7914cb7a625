package service

import (
	"context"
	"time"

	"doodles/internal/events"
	"doodles/internal/metrics"

	"github.com/sirupsen/logrus"
)

// notifier records ledger and job transitions as metrics and broker events.
// Publishing is best-effort: failures are logged and never surface to callers.
type notifier struct {
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *logrus.Logger
	now       func() time.Time
}

func (n *notifier) publish(ctx context.Context, e events.Event) {
	e.Timestamp = n.now()
	if err := n.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		n.log.WithError(err).WithField("event", e.Type).Warn("[Events] publish failed")
	}
}

func (n *notifier) deducted(ctx context.Context, userID, kind string, amount int) {
	n.metrics.CreditsDeducted.Add(float64(amount))
	n.publish(ctx, events.Event{Type: events.CreditsDeducted, UserID: userID, Kind: kind, Amount: amount})
}

func (n *notifier) refunded(ctx context.Context, userID, doodleID, kind, reason string, amount int) {
	n.metrics.CreditsRefunded.WithLabelValues(reason).Add(float64(amount))
	n.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"doodle_id": doodleID,
		"kind":      kind,
		"amount":    amount,
		"reason":    reason,
	}).Info("[Credits] refunded")
	n.publish(ctx, events.Event{
		Type:     events.CreditsRefunded,
		UserID:   userID,
		DoodleID: doodleID,
		Kind:     kind,
		Amount:   amount,
		Reason:   reason,
	})
}

func (n *notifier) granted(ctx context.Context, userID string, amount int) {
	n.metrics.CreditsGranted.Add(float64(amount))
	n.publish(ctx, events.Event{Type: events.CreditsGranted, UserID: userID, Amount: amount})
}

func (n *notifier) submitted(ctx context.Context, userID, doodleID, kind, runID string) {
	n.metrics.GenerationsSubmitted.WithLabelValues(kind).Inc()
	n.publish(ctx, events.Event{
		Type:     events.GenerationSubmitted,
		UserID:   userID,
		DoodleID: doodleID,
		Kind:     kind,
		RunID:    runID,
	})
}

func (n *notifier) finalized(ctx context.Context, userID, doodleID, kind, status string) {
	n.metrics.GenerationsFinalized.WithLabelValues(kind, status).Inc()
	n.publish(ctx, events.Event{
		Type:     events.GenerationFinalized,
		UserID:   userID,
		DoodleID: doodleID,
		Kind:     kind,
		Status:   status,
	})
}
