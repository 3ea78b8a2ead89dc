package alerts

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// RetryNotifier wraps a Notifier with a bounded number of attempts, the same
// wait shape the teacher's shuffled-read reconnect loop uses: no wait before
// the first two attempts, then a fixed 2s pause before each later attempt
// (see retryBackoff). Notify still returns the final attempt's error so the
// caller can record delivery failure; with the default 4 attempts it waits
// at most 4s in total between attempts.
type RetryNotifier struct {
	Notifier    Notifier
	MaxAttempts int // 0 defaults to 4
}

// NewRetryNotifier wraps next with the default retry budget.
func NewRetryNotifier(next Notifier) *RetryNotifier {
	return &RetryNotifier{Notifier: next, MaxAttempts: 4}
}

// Notify implements Notifier.
func (r *RetryNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	max := r.MaxAttempts
	if max <= 0 {
		max = 4
	}

	var err error
	for attempt := 0; attempt < max; attempt++ {
		if wait := retryBackoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err = r.Notifier.Notify(ctx, alert); err == nil {
			return nil
		}

		logging.Alert("alerts", alert.ID, alert.DeviceID).WithFields(log.Fields{
			"err":     err,
			"attempt": attempt,
		}).Warn("alert notification delivery failed (will retry)")
	}
	return err
}

// retryBackoff mirrors the teacher's shuffled-replay-read reconnect
// schedule: immediate on the first couple of attempts, then a fixed pause.
func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return 0
	default:
		return 2 * time.Second
	}
}
