// Package alerts implements C3, the Alert Engine: threshold evaluation
// against incoming readings, cooldown-based occurrence merging, and the
// acknowledge/resolve lifecycle, grounded on the repository-plus-service
// shape used throughout the store and readings packages.
package alerts

import (
	"context"
	"fmt"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/metrics"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// Emitter fans a lifecycle event out to interested subscribers (pkg/realtime).
// Evaluate/Acknowledge/Resolve never block on delivery: a nil Emitter is a
// valid no-op configuration.
type Emitter interface {
	AlertCreated(alert *models.Alert)
	AlertUpdated(alert *models.Alert)
	AlertResolved(alert *models.Alert)
}

type nopEmitter struct{}

func (nopEmitter) AlertCreated(*models.Alert)  {}
func (nopEmitter) AlertUpdated(*models.Alert)  {}
func (nopEmitter) AlertResolved(*models.Alert) {}

// Service implements C3 over a store.AlertRepository.
type Service struct {
	repo       *store.AlertRepository
	thresholds Thresholds
	cooldowns  Cooldowns
	cache      *openAlertCache
	notifier   Notifier
	emitter    Emitter
}

// New builds an alert Service with the given thresholds/cooldowns. A nil
// notifier defaults to NopNotifier; a nil emitter defaults to a no-op.
func New(repo *store.AlertRepository, thresholds Thresholds, cooldowns Cooldowns, notifier Notifier, emitter Emitter) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Service{
		repo:       repo,
		thresholds: thresholds,
		cooldowns:  cooldowns,
		cache:      newOpenAlertCache(4096),
		notifier:   notifier,
		emitter:    emitter,
	}
}

// Evaluate checks every channel of reading against thresholds, creating or
// merging an alert for each crossed channel. It returns the alerts that were
// created or merged (not every evaluated channel — clean readings yield an
// empty slice).
func (s *Service) Evaluate(ctx context.Context, deviceID string, reading *models.Reading) ([]*models.Alert, error) {
	var out []*models.Alert
	for _, ch := range models.AllChannels {
		value, valid := reading.Value(ch)
		if !valid {
			continue
		}
		sev, threshold, crossed := s.thresholds.Evaluate(ch, value)
		if !crossed {
			continue
		}
		alert, err := s.createOrMerge(ctx, deviceID, ch, sev, threshold, value, reading.Timestamp)
		if err != nil {
			return out, fmt.Errorf("evaluating %s crossing for device %s: %w", ch, deviceID, err)
		}
		out = append(out, alert)
	}
	return out, nil
}

// createOrMerge implements the insert-or-merge state machine: look for an
// existing open alert for (deviceId,parameter,severity) within the crossed
// severity's cooldown window; if found, fold the new reading in as a repeat
// occurrence; otherwise attempt to insert a new alert, retrying as a merge
// if a concurrent evaluation won the race. The race is surfaced via the
// partial unique index on (device_id,parameter,severity,dedup_window)
// WHERE acknowledged=0 AND is_deleted=0 — dedup_window is occurredAt
// floored to the cooldown duration, so two crossings racing within the same
// cooldown window collide on insert (and retry as a merge) while a crossing
// in a later window is free to open a new alert even though the previous
// one is still open and unacknowledged.
func (s *Service) createOrMerge(ctx context.Context, deviceID string, ch models.Channel, sev models.Severity, threshold, value float64, occurredAt time.Time) (*models.Alert, error) {
	cooldown := s.cooldowns.Duration(sev)
	cutoff := occurredAt.Add(-cooldown)

	if alertID, ok := s.cache.get(deviceID, ch, sev, cutoff); ok {
		if merged, err := s.repo.MergeOccurrence(ctx, alertID, value, occurredAt); err == nil {
			s.emitter.AlertUpdated(merged)
			return merged, nil
		}
		s.cache.evict(deviceID, ch, sev)
	}

	existing, err := s.repo.FindMostRecentOpenForParameter(ctx, deviceID, ch, sev, cutoff)
	if err == nil {
		merged, err := s.repo.MergeOccurrence(ctx, existing.ID, value, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("merging alert occurrence: %w", err)
		}
		s.cache.set(deviceID, ch, sev, merged.ID, existing.CreatedAt)
		s.emitter.AlertUpdated(merged)
		return merged, nil
	}
	if !perr.IsNotFound(err) {
		return nil, fmt.Errorf("looking up open alert: %w", err)
	}

	alert := &models.Alert{
		DeviceID:        deviceID,
		Parameter:       ch,
		Severity:        sev,
		Value:           value,
		Threshold:       threshold,
		CurrentValue:    value,
		Message:         fmt.Sprintf("%s crossed %s threshold (value=%.2f, threshold=%.2f)", ch, sev, value, threshold),
		Status:          models.AlertUnacknowledged,
		OccurrenceCount: 1,
		FirstOccurrence: occurredAt,
		LastOccurrence:  occurredAt,
		CreatedAt:       occurredAt,
		DedupWindow:     dedupWindow(occurredAt, cooldown),
	}
	if err := s.repo.Insert(ctx, alert); err != nil {
		if store.IsUniqueConstraint(err) {
			// Lost the creation race: the winner's row now satisfies
			// FindMostRecentOpenForParameter, so retry as a merge.
			again, findErr := s.repo.FindMostRecentOpenForParameter(ctx, deviceID, ch, sev, cutoff)
			if findErr != nil {
				return nil, fmt.Errorf("re-resolving alert after insert race: %w", findErr)
			}
			merged, err := s.repo.MergeOccurrence(ctx, again.ID, value, occurredAt)
			if err != nil {
				return nil, fmt.Errorf("merging after insert race: %w", err)
			}
			s.cache.set(deviceID, ch, sev, merged.ID, again.CreatedAt)
			s.emitter.AlertUpdated(merged)
			return merged, nil
		}
		return nil, fmt.Errorf("inserting alert: %w", err)
	}

	s.cache.set(deviceID, ch, sev, alert.ID, alert.CreatedAt)
	metrics.AlertsCreated.WithLabelValues(string(sev)).Inc()
	s.emitter.AlertCreated(alert)

	if err := s.notifier.Notify(ctx, alert); err != nil {
		logging.Alert("alerts", alert.ID, deviceID).WithError(err).Warn("alert notification delivery failed")
		_ = s.repo.SetEmailSent(ctx, alert.ID, false)
	} else {
		_ = s.repo.SetEmailSent(ctx, alert.ID, true)
	}

	return alert, nil
}

// Get returns an alert by id.
func (s *Service) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	return s.repo.Get(ctx, alertID)
}

// Acknowledge transitions an alert to acknowledged, evicting it from the
// cooldown cache since a fresh FindMostRecentOpenForParameter lookup is
// cheap relative to serving a stale merge target.
func (s *Service) Acknowledge(ctx context.Context, alertID, userID string) (*models.Alert, error) {
	alert, err := s.repo.Acknowledge(ctx, alertID, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.cache.evict(alert.DeviceID, alert.Parameter, alert.Severity)
	s.emitter.AlertUpdated(alert)
	return alert, nil
}

// Resolve transitions an alert to resolved.
func (s *Service) Resolve(ctx context.Context, alertID, userID, notes string) (*models.Alert, error) {
	alert, err := s.repo.Resolve(ctx, alertID, userID, notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.cache.evict(alert.DeviceID, alert.Parameter, alert.Severity)
	s.emitter.AlertResolved(alert)
	return alert, nil
}

// ResolveAll bulk-resolves every alert matching filter, emitting one
// alertResolved event per affected alert.
func (s *Service) ResolveAll(ctx context.Context, userID, notes string, filter store.AlertFilter) (int64, error) {
	ids, err := s.repo.ResolveAllIDs(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("listing resolve-all candidates: %w", err)
	}
	now := time.Now().UTC()
	n, err := s.repo.ResolveAll(ctx, userID, notes, filter, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		alert, err := s.repo.Get(ctx, id)
		if err != nil {
			continue
		}
		s.cache.evict(alert.DeviceID, alert.Parameter, alert.Severity)
		s.emitter.AlertResolved(alert)
	}
	return n, nil
}

// List returns a page of alerts matching filter.
func (s *Service) List(ctx context.Context, filter store.AlertFilter, page, limit int) ([]*models.Alert, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	return s.repo.List(ctx, filter, page, limit)
}

// Statistics aggregates alert counts, optionally scoped to one device.
func (s *Service) Statistics(ctx context.Context, deviceID string) (*store.Statistics, error) {
	return s.repo.Statistics(ctx, deviceID)
}

// SoftDelete removes a single alert from default views (operator action, not
// a device cascade).
func (s *Service) SoftDelete(ctx context.Context, alertID string) error {
	alert, err := s.repo.Get(ctx, alertID)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, alertID, time.Now().UTC()); err != nil {
		return err
	}
	s.cache.evict(alert.DeviceID, alert.Parameter, alert.Severity)
	return nil
}
