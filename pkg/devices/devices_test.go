package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// fakeEmitter records every deviceStatus push for assertion.
type fakeEmitter struct {
	pushes []string
}

func (f *fakeEmitter) DeviceStatus(deviceID string, status models.DeviceStatus, snapshot *models.Device) {
	f.pushes = append(f.pushes, deviceID+":"+string(status))
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeEmitter) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "file::memory:?cache=shared&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	emitter := &fakeEmitter{}
	svc := New(st.Devices, st.Readings, st.Alerts, nil, emitter)
	return svc, st, emitter
}

// TestRegisterThenApprove covers the round-trip property: registering then
// approving a device yields isRegistered=true.
func TestRegisterThenApprove(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	d, err := svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"})
	require.NoError(t, err)
	require.Equal(t, models.RegistrationPending, d.RegistrationStatus)
	require.False(t, d.IsRegistered)

	approved, err := svc.Approve(ctx, "D1", nil)
	require.NoError(t, err)
	require.True(t, approved.IsRegistered)
	require.Equal(t, models.RegistrationRegistered, approved.RegistrationStatus)

	fetched, err := svc.Get(ctx, "D1")
	require.NoError(t, err)
	require.True(t, fetched.IsRegistered)
}

// TestRegisterDuplicateConflicts ensures a duplicate deviceId is rejected
// rather than silently creating a second row (invariant 1's exclusivity
// depends on there being exactly one row per deviceId).
func TestRegisterDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Duplicate", Type: "multiprobe"})
	require.Error(t, err)
	require.True(t, perr.IsConflict(err))
}

// TestApproveTwiceConflicts ensures approving an already-registered device
// conflicts rather than re-stamping registeredAt.
func TestApproveTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "D1", nil)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "D1", nil)
	require.Error(t, err)
	require.True(t, perr.IsConflict(err))
}

// TestSweepOffline_FlipsStaleDeviceOffline covers a device whose lastSeen
// is older than the 5-minute offline threshold flipping to offline, with
// exactly one deviceStatus push and a sweep count of 1.
func TestSweepOffline_FlipsStaleDeviceOffline(t *testing.T) {
	ctx := context.Background()
	svc, st, emitter := newTestService(t)

	lastSeen := time.Now().UTC().Add(-10 * time.Minute)
	dev := &models.Device{
		DeviceID: "D2", Name: "Outlet probe", Type: "multiprobe",
		Status: models.DeviceOnline, RegistrationStatus: models.RegistrationRegistered,
		IsRegistered: true, LastSeen: &lastSeen,
	}
	require.NoError(t, st.Devices.Insert(ctx, dev))

	n, err := svc.SweepOffline(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"D2:offline"}, emitter.pushes)

	fetched, err := svc.Get(ctx, "D2")
	require.NoError(t, err)
	require.Equal(t, models.DeviceOffline, fetched.Status)
}

// TestSweepOffline_RecentDeviceUntouched ensures a device seen within the
// threshold is left alone and produces no push.
func TestSweepOffline_RecentDeviceUntouched(t *testing.T) {
	ctx := context.Background()
	svc, st, emitter := newTestService(t)

	lastSeen := time.Now().UTC().Add(-1 * time.Minute)
	dev := &models.Device{
		DeviceID: "D3", Name: "Recent probe", Type: "multiprobe",
		Status: models.DeviceOnline, LastSeen: &lastSeen,
	}
	require.NoError(t, st.Devices.Insert(ctx, dev))

	n, err := svc.SweepOffline(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, emitter.pushes)
}

// TestSoftDeleteCascadeAndRecover covers soft-deleting a device tombstoning
// it and cascading to its readings and alerts, default queries excluding
// them, and recovering within the window restoring all three.
func TestSoftDeleteCascadeAndRecover(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)

	dev, err := svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"})
	require.NoError(t, err)

	ph := 7.0
	require.NoError(t, st.Readings.Insert(ctx, &models.Reading{
		DeviceID: dev.DeviceID, PH: &ph, PHValid: true, Timestamp: time.Now().UTC(),
	}))
	alert := &models.Alert{
		DeviceID: dev.DeviceID, Parameter: models.ChannelPH, Severity: models.SeverityCritical,
		Value: 5.0, Threshold: 6.0, CurrentValue: 5.0, Status: models.AlertUnacknowledged,
		OccurrenceCount: 1, FirstOccurrence: time.Now().UTC(), LastOccurrence: time.Now().UTC(),
	}
	require.NoError(t, st.Alerts.Insert(ctx, alert))

	require.NoError(t, svc.SoftDelete(ctx, dev.DeviceID))

	_, err = svc.Get(ctx, dev.DeviceID)
	require.Error(t, err)
	require.True(t, perr.IsNotFound(err))

	deletedDev, err := st.Devices.Get(ctx, dev.DeviceID, true)
	require.NoError(t, err)
	require.True(t, deletedDev.IsDeleted)
	require.NotNil(t, deletedDev.ScheduledPermanentDeletionAt)
	require.WithinDuration(t, time.Now().UTC().Add(30*24*time.Hour), *deletedDev.ScheduledPermanentDeletionAt, time.Minute)

	readings, total, err := st.Readings.Query(ctx, store.ReadingFilter{DeviceID: dev.DeviceID}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.Empty(t, readings)

	// Case: recovering within the 30-day window restores device, readings,
	// and alerts to their prior non-deleted state.
	require.NoError(t, svc.Recover(ctx, dev.DeviceID))

	recovered, err := svc.Get(ctx, dev.DeviceID)
	require.NoError(t, err)
	require.False(t, recovered.IsDeleted)

	restoredReadings, total, err := st.Readings.Query(ctx, store.ReadingFilter{DeviceID: dev.DeviceID}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, restoredReadings, 1)

	restoredAlert, err := st.Alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.False(t, restoredAlert.IsDeleted)
}

// TestRecover_AfterWindowExpiredForbidden ensures recovery is rejected once
// the 30-day window has elapsed, leaving the device tombstoned.
func TestRecover_AfterWindowExpiredForbidden(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)

	dev, err := svc.Register(ctx, &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-31 * 24 * time.Hour)
	expired := past.Add(30 * 24 * time.Hour) // already elapsed
	require.NoError(t, st.Devices.SoftDelete(ctx, dev.DeviceID, past, expired))

	err = svc.Recover(ctx, dev.DeviceID)
	require.Error(t, err)
	var forbidden *perr.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	stillDeleted, err := st.Devices.Get(ctx, dev.DeviceID, true)
	require.NoError(t, err)
	require.True(t, stillDeleted.IsDeleted)
}
