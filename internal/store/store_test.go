package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Buchi-dev/puretrack/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), "file::memory:?cache=shared&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// TestCascadeSoftDeleteConsistency covers invariant 5: a soft-deleted reading
// always belongs to a device that is itself soft-deleted no later than the
// reading's own deletedAt, because the device's tombstone saga stamps both
// with the same timestamp.
func TestCascadeSoftDeleteConsistency(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	dev := &models.Device{DeviceID: "D1", Name: "Probe", Type: "multiprobe"}
	require.NoError(t, st.Devices.Insert(ctx, dev))

	ph := 7.0
	rd := &models.Reading{DeviceID: "D1", PH: &ph, PHValid: true, Timestamp: time.Now().UTC()}
	require.NoError(t, st.Readings.Insert(ctx, rd))

	alert := &models.Alert{
		DeviceID: "D1", Parameter: models.ChannelPH, Severity: models.SeverityWarning,
		Value: 8.6, Threshold: 8.5, CurrentValue: 8.6, Status: models.AlertUnacknowledged,
		OccurrenceCount: 1, FirstOccurrence: time.Now().UTC(), LastOccurrence: time.Now().UTC(),
	}
	require.NoError(t, st.Alerts.Insert(ctx, alert))

	deletedAt := time.Now().UTC()
	scheduled := deletedAt.Add(30 * 24 * time.Hour)
	require.NoError(t, st.Devices.SoftDelete(ctx, "D1", deletedAt, scheduled))
	require.NoError(t, st.Readings.CascadeSoftDelete(ctx, "D1", deletedAt, scheduled))
	require.NoError(t, st.Alerts.CascadeSoftDelete(ctx, "D1", deletedAt))

	gotDevice, err := st.Devices.Get(ctx, "D1", true)
	require.NoError(t, err)
	require.True(t, gotDevice.IsDeleted)

	gotReading, err := scanReadingByID(ctx, st, rd.ID)
	require.NoError(t, err)
	require.True(t, gotReading.IsDeleted)
	require.NotNil(t, gotReading.DeletedAt)
	require.NotNil(t, gotDevice.DeletedAt)
	require.False(t, gotDevice.DeletedAt.After(*gotReading.DeletedAt))

	gotAlert, err := st.Alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.True(t, gotAlert.IsDeleted)

	// Excluded from default (non-deleted) views.
	_, total, err := st.Readings.Query(ctx, ReadingFilter{DeviceID: "D1"}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 0, total)

	// Case: recovery clears every tombstone set by the cascade.
	require.NoError(t, st.Devices.Recover(ctx, "D1"))
	require.NoError(t, st.Readings.CascadeRecover(ctx, "D1"))
	require.NoError(t, st.Alerts.CascadeRecover(ctx, "D1"))

	_, total, err = st.Readings.Query(ctx, ReadingFilter{DeviceID: "D1"}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

// scanReadingByID is a small test-only helper: ReadingRepository exposes no
// single-row getter (reads always go through Query/QueryRange/Latest), so
// tests reach for the one that includes soft-deleted rows.
func scanReadingByID(ctx context.Context, st *Store, id string) (*models.Reading, error) {
	row := st.DB.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings WHERE id = ?`, id)
	return scanReading(row)
}

// TestOpenAlertUniqueIndexRejectsConcurrentDuplicate covers invariant 4's
// storage-level guard: the partial unique index on
// (device_id, parameter, severity, dedup_window) WHERE acknowledged=0 AND
// is_deleted=0 rejects a second open alert for the same key, which is what lets
// pkg/alerts retry an insert race as a merge instead of creating a duplicate.
func TestOpenAlertUniqueIndexRejectsConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.Devices.Insert(ctx, &models.Device{DeviceID: "D1", Name: "Probe", Type: "multiprobe"}))

	first := &models.Alert{
		DeviceID: "D1", Parameter: models.ChannelPH, Severity: models.SeverityCritical,
		Value: 5.0, Threshold: 6.0, CurrentValue: 5.0, Status: models.AlertUnacknowledged,
		OccurrenceCount: 1, FirstOccurrence: time.Now().UTC(), LastOccurrence: time.Now().UTC(),
	}
	require.NoError(t, st.Alerts.Insert(ctx, first))

	second := &models.Alert{
		DeviceID: "D1", Parameter: models.ChannelPH, Severity: models.SeverityCritical,
		Value: 4.9, Threshold: 6.0, CurrentValue: 4.9, Status: models.AlertUnacknowledged,
		OccurrenceCount: 1, FirstOccurrence: time.Now().UTC(), LastOccurrence: time.Now().UTC(),
	}
	err := st.Alerts.Insert(ctx, second)
	require.Error(t, err)
	require.True(t, IsUniqueConstraint(err))

	// Case: once the first alert is acknowledged it drops out of the partial
	// index's predicate, so a new open alert for the same key is allowed.
	_, err = st.Alerts.Acknowledge(ctx, first.ID, "U1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, st.Alerts.Insert(ctx, second))
}
