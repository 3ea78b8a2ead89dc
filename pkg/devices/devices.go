// Package devices implements C2, the Device Registry: registration,
// approval, presence tracking, command dispatch, and the soft-delete/
// recovery lifecycle, grounded on the repository-plus-service shape used
// throughout pkg/readings and pkg/alerts.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Buchi-dev/puretrack/pkg/broker"
	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// DeviceStatusEmitter fans a transition out to C5. A nil emitter is a valid
// no-op configuration.
type DeviceStatusEmitter interface {
	DeviceStatus(deviceID string, status models.DeviceStatus, snapshot *models.Device)
}

type nopEmitter struct{}

func (nopEmitter) DeviceStatus(string, models.DeviceStatus, *models.Device) {}

// Service implements C2 over a store.DeviceRepository. Command publishing
// goes through broker.Publisher, the same interface C4 implements, so the
// registry never imports a concrete transport.
type Service struct {
	repo      *store.DeviceRepository
	readings  *store.ReadingRepository
	alerts    *store.AlertRepository
	publisher broker.Publisher
	emitter   DeviceStatusEmitter

	offlineThreshold time.Duration
	recoveryWindow   time.Duration
}

// New builds a device registry Service. A nil publisher makes the
// best-effort lifecycle publishes (Approve/SoftDelete/Recover) a silent
// no-op and makes SendCommand fail with DependencyUnavailable; a nil emitter
// defaults to a no-op.
func New(repo *store.DeviceRepository, readings *store.ReadingRepository, alerts *store.AlertRepository, publisher broker.Publisher, emitter DeviceStatusEmitter) *Service {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Service{
		repo:             repo,
		readings:         readings,
		alerts:           alerts,
		publisher:        publisher,
		emitter:          emitter,
		offlineThreshold: 5 * time.Minute,
		recoveryWindow:   30 * 24 * time.Hour,
	}
}

// SetOfflineThreshold overrides the default 5-minute silence window that
// SweepOffline applies. Call once after New; it is not safe to change
// concurrently with a running sweep.
func (s *Service) SetOfflineThreshold(d time.Duration) { s.offlineThreshold = d }

// SetRecoveryWindow overrides the default 30-day tombstone grace period
// SoftDelete schedules a permanent purge against.
func (s *Service) SetRecoveryWindow(d time.Duration) { s.recoveryWindow = d }

// Register creates a brand-new device, failing with ConflictError if
// deviceId already exists and is not soft-deleted.
func (s *Service) Register(ctx context.Context, d *models.Device) (*models.Device, error) {
	if d.DeviceID == "" {
		return nil, perr.NewValidation("deviceId", "must not be empty")
	}
	if _, err := s.repo.GetByDeviceID(ctx, d.DeviceID, false); err == nil {
		return nil, perr.NewConflict("device %s already registered", d.DeviceID)
	} else if !perr.IsNotFound(err) {
		return nil, fmt.Errorf("checking existing device: %w", err)
	}

	d.Status = models.DeviceOffline
	d.RegistrationStatus = models.RegistrationPending
	if err := s.repo.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("inserting device: %w", err)
	}
	return d, nil
}

// AutoRegister is the idempotent upsert driven by C4's registration topic:
// updates metadata and marks the device online if it exists, otherwise
// inserts a new pending device already online.
func (s *Service) AutoRegister(ctx context.Context, d *models.Device) (*models.Device, error) {
	now := time.Now().UTC()
	existing, err := s.repo.GetByDeviceID(ctx, d.DeviceID, false)
	if err == nil {
		existing.Name = d.Name
		existing.Type = d.Type
		existing.FirmwareVersion = d.FirmwareVersion
		existing.MACAddress = d.MACAddress
		existing.IPAddress = d.IPAddress
		existing.Sensors = d.Sensors
		existing.Location = d.Location
		existing.Status = models.DeviceOnline
		existing.LastSeen = &now
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("updating auto-registered device: %w", err)
		}
		return existing, nil
	}
	if !perr.IsNotFound(err) {
		return nil, fmt.Errorf("checking existing device: %w", err)
	}

	d.Status = models.DeviceOnline
	d.RegistrationStatus = models.RegistrationPending
	d.LastSeen = &now
	if err := s.repo.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("inserting auto-registered device: %w", err)
	}
	return d, nil
}

// Approve transitions a device to registered, failing with ConflictError if
// already registered. Best-effort publishes a "go" command.
func (s *Service) Approve(ctx context.Context, deviceID string, extraMetadata map[string]string) (*models.Device, error) {
	d, err := s.repo.GetByDeviceID(ctx, deviceID, false)
	if err != nil {
		return nil, err
	}
	if d.RegistrationStatus == models.RegistrationRegistered {
		return nil, perr.NewConflict("device %s is already registered", deviceID)
	}

	now := time.Now().UTC()
	d.RegistrationStatus = models.RegistrationRegistered
	d.IsRegistered = true
	d.RegisteredAt = &now
	if extraMetadata != nil {
		if v, ok := extraMetadata["firmwareVersion"]; ok {
			d.FirmwareVersion = v
		}
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("updating approved device: %w", err)
	}

	s.publishBestEffort(ctx, deviceID, map[string]interface{}{"command": "go"})
	return d, nil
}

// UpdateHeartbeat atomically marks a device online from a presence reply.
func (s *Service) UpdateHeartbeat(ctx context.Context, deviceID string) error {
	return s.repo.UpdateHeartbeat(ctx, deviceID, time.Now().UTC())
}

// UpdateLastSeenOnly records traffic without flipping presence status, used
// for ordinary sensor-data messages.
func (s *Service) UpdateLastSeenOnly(ctx context.Context, deviceID string) error {
	return s.repo.UpdateLastSeenOnly(ctx, deviceID, time.Now().UTC())
}

// UpdateDeviceStatus sets presence explicitly (used by C4's status-topic
// handling when status != online) and emits a deviceStatus transition.
func (s *Service) UpdateDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	if err := s.repo.UpdateStatus(ctx, deviceID, status); err != nil {
		return err
	}
	d, err := s.repo.GetByDeviceID(ctx, deviceID, false)
	if err == nil {
		s.emitter.DeviceStatus(deviceID, status, d)
	}
	return nil
}

// SweepOffline flips every stale online device to offline, emitting a
// deviceStatus transition for each. Runs periodically via pkg/scheduler.
func (s *Service) SweepOffline(ctx context.Context) (int, error) {
	ids, err := s.repo.SweepOffline(ctx, s.offlineThreshold, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping offline devices: %w", err)
	}
	for _, id := range ids {
		d, err := s.repo.GetByDeviceID(ctx, id, false)
		if err != nil {
			continue
		}
		s.emitter.DeviceStatus(id, models.DeviceOffline, d)
	}
	return len(ids), nil
}

// SendCommand publishes {command, payload, timestamp} to the device's
// command topic, failing fast if the device is unknown, unregistered, or
// offline rather than publishing into the void.
func (s *Service) SendCommand(ctx context.Context, deviceID, command string, payload map[string]interface{}) error {
	d, err := s.repo.GetByDeviceID(ctx, deviceID, false)
	if err != nil {
		return err
	}
	if !d.IsRegistered {
		return perr.NewConflict("device %s is not registered", deviceID)
	}
	if d.Status != models.DeviceOnline {
		return perr.NewConflict("device %s is offline", deviceID)
	}
	if s.publisher == nil {
		return perr.NewDependencyUnavailable("broker", nil)
	}

	body, err := json.Marshal(map[string]interface{}{
		"command":   command,
		"payload":   payload,
		"timestamp": time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	if err := s.publisher.Publish(ctx, broker.CommandTopic(deviceID), body, broker.QoS1); err != nil {
		return perr.NewDependencyUnavailable("broker", err)
	}
	return nil
}

// publishBestEffort publishes a command topic message, logging (never
// propagating) a failure — used by Approve/SoftDelete/Recover, none of
// which should fail their own state transition over a broker hiccup.
func (s *Service) publishBestEffort(ctx context.Context, deviceID string, body map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		logging.Device("devices", deviceID).WithError(err).Warn("encoding best-effort command failed")
		return
	}
	if err := s.publisher.Publish(ctx, broker.CommandTopic(deviceID), encoded, broker.QoS1); err != nil {
		logging.Device("devices", deviceID).WithError(err).Warn("best-effort command publish failed")
	}
}

// SoftDelete tombstones a device with deletedAt and a
// scheduledPermanentDeletionAt one recovery window (30 days by default) out,
// and cascades the same deletedAt to its readings and alerts; the scheduled
// purge date is stored on the device row only. Each
// collection's update is atomic; the cascade as a whole is best-effort
// per-collection rather than wrapped in a single cross-table transaction.
func (s *Service) SoftDelete(ctx context.Context, deviceID string) error {
	now := time.Now().UTC()
	scheduled := now.Add(s.recoveryWindow)

	if err := s.repo.SoftDelete(ctx, deviceID, now, scheduled); err != nil {
		return err
	}
	if err := s.readings.CascadeSoftDelete(ctx, deviceID, now, scheduled); err != nil {
		logging.Device("devices", deviceID).WithError(err).Error("cascading reading soft-delete failed")
	}
	if err := s.alerts.CascadeSoftDelete(ctx, deviceID, now); err != nil {
		logging.Device("devices", deviceID).WithError(err).Error("cascading alert soft-delete failed")
	}

	s.publishBestEffort(ctx, deviceID, map[string]interface{}{"command": "deregister"})
	return nil
}

// Recover clears tombstones on a device and its cascade, failing with
// ForbiddenError if the 30-day recovery window has already elapsed.
func (s *Service) Recover(ctx context.Context, deviceID string) error {
	d, err := s.repo.Get(ctx, deviceID, true)
	if err != nil {
		return err
	}
	if !d.IsDeleted {
		return perr.NewConflict("device %s is not deleted", deviceID)
	}
	if d.ScheduledPermanentDeletionAt != nil && time.Now().UTC().After(*d.ScheduledPermanentDeletionAt) {
		return perr.NewForbidden("device %s's recovery window has expired", deviceID)
	}

	if err := s.repo.Recover(ctx, deviceID); err != nil {
		return err
	}
	if err := s.readings.CascadeRecover(ctx, deviceID); err != nil {
		logging.Device("devices", deviceID).WithError(err).Error("cascading reading recovery failed")
	}
	if err := s.alerts.CascadeRecover(ctx, deviceID); err != nil {
		logging.Device("devices", deviceID).WithError(err).Error("cascading alert recovery failed")
	}

	s.publishBestEffort(ctx, deviceID, map[string]interface{}{"command": "go"})
	return nil
}

// DevicePatch carries the subset of device metadata an operator may mutate
// via PATCH /devices/:id; nil fields are left unchanged.
type DevicePatch struct {
	Name            *string          `json:"name"`
	Type            *string          `json:"type"`
	FirmwareVersion *string          `json:"firmwareVersion"`
	MACAddress      *string          `json:"macAddress"`
	IPAddress       *string          `json:"ipAddress"`
	Sensors         []string         `json:"sensors"`
	Location        *models.Location `json:"location"`
}

// Update applies patch to the device's metadata and persists it.
func (s *Service) Update(ctx context.Context, idOrDeviceID string, patch DevicePatch) (*models.Device, error) {
	d, err := s.repo.Get(ctx, idOrDeviceID, false)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Type != nil {
		d.Type = *patch.Type
	}
	if patch.FirmwareVersion != nil {
		d.FirmwareVersion = *patch.FirmwareVersion
	}
	if patch.MACAddress != nil {
		d.MACAddress = *patch.MACAddress
	}
	if patch.IPAddress != nil {
		d.IPAddress = *patch.IPAddress
	}
	if patch.Sensors != nil {
		d.Sensors = patch.Sensors
	}
	if patch.Location != nil {
		d.Location = *patch.Location
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("updating device: %w", err)
	}
	return d, nil
}

// Statistics summarizes registry counts for the devices/stats endpoint.
func (s *Service) Statistics(ctx context.Context) (*store.DeviceStatistics, error) {
	return s.repo.Statistics(ctx)
}

// Get returns a device by internal id or external deviceId.
func (s *Service) Get(ctx context.Context, idOrDeviceID string) (*models.Device, error) {
	return s.repo.Get(ctx, idOrDeviceID, false)
}

// List returns a page of devices matching filter, excluding soft-deleted by
// default.
func (s *Service) List(ctx context.Context, filter store.DeviceFilter, page, limit int) ([]*models.Device, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, filter, page, limit)
}

// PermanentlyDeleteExpired purges device rows whose recovery window has
// passed, together with those devices' tombstoned readings. Their tombstoned
// alerts are not deleted. Run periodically via pkg/scheduler.
func (s *Service) PermanentlyDeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	expiring, _, err := s.repo.List(ctx, store.DeviceFilter{OnlyDeleted: true}, 1, 10000)
	if err != nil {
		return 0, fmt.Errorf("listing deleted devices: %w", err)
	}
	var ids []string
	for _, d := range expiring {
		if d.ScheduledPermanentDeletionAt != nil && d.ScheduledPermanentDeletionAt.Before(now) {
			ids = append(ids, d.DeviceID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := s.readings.PermanentlyDeleteForDevices(ctx, ids); err != nil {
		logging.Component("devices").WithError(err).Error("purging cascaded readings failed")
	}
	return s.repo.PermanentlyDeleteExpired(ctx, now)
}
