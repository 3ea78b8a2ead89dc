package alerts

import (
	"context"

	"github.com/Buchi-dev/puretrack/internal/models"
)

// Notifier delivers a newly created alert to an external channel (email,
// chat, paging). Delivery is best-effort: a failure is logged and recorded
// via AlertRepository.SetEmailSent(false), never surfaced to the caller of
// Evaluate — alert creation must never block on delivery.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

// NopNotifier discards every alert. It is the default when no delivery
// channel is configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, *models.Alert) error { return nil }
