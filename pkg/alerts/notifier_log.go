package alerts

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// LogNotifier stands in for an email/chat/paging integration: it records
// every alert at info level via internal/logging and never fails.
// cmd/puretrack-bridge wires it, wrapped in a RetryNotifier, as its
// notifier — a visible trail of what would have gone out, without an
// external dependency to wire up.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, alert *models.Alert) error {
	logging.Alert("alerts", alert.ID, alert.DeviceID).WithFields(log.Fields{
		"parameter": alert.Parameter,
		"severity":  alert.Severity,
		"value":     alert.Value,
		"threshold": alert.Threshold,
	}).Info("alert notification")
	return nil
}
