package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

func newTestService(t *testing.T) (*Service, *models.Device) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "file::memory:?cache=shared&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dev := &models.Device{DeviceID: "D1", Name: "Inlet probe", Type: "multiprobe"}
	require.NoError(t, st.Devices.Insert(ctx, dev))

	svc := New(st.Alerts, DefaultThresholds(), DefaultCooldowns(), NopNotifier{}, nil)
	return svc, dev
}

func reading(deviceID string, ph float64, ts time.Time) *models.Reading {
	v := 1.0
	turbidity, tds := v, 200.0
	return &models.Reading{
		DeviceID:    deviceID,
		PH:          &ph,
		PHValid:     true,
		Turbidity:   &turbidity,
		TurbidValid: true,
		TDS:         &tds,
		TDSValid:    true,
		Timestamp:   ts,
	}
}

// TestEvaluate_FirstCrossingCreatesAlertDuplicateMerges covers a first
// out-of-band pH reading creating a critical alert, and a second reading
// within the critical cooldown merging into it instead of creating a new one.
func TestEvaluate_FirstCrossingCreatesAlertDuplicateMerges(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	alerts, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 5.0, t0))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	require.Equal(t, models.ChannelPH, a.Parameter)
	require.Equal(t, models.SeverityCritical, a.Severity)
	require.Equal(t, 5.0, a.Value)
	require.Equal(t, 1, a.OccurrenceCount)
	require.True(t, a.FirstOccurrence.Equal(t0))
	require.True(t, a.LastOccurrence.Equal(t0))
	require.Equal(t, models.AlertUnacknowledged, a.Status)

	// Case: a second crossing two minutes later, well inside the 10-minute
	// critical cooldown, merges into the same alert rather than creating B.
	second, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 4.8, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, a.ID, second[0].ID)
	require.Equal(t, 2, second[0].OccurrenceCount)
	require.Equal(t, 4.8, second[0].CurrentValue)
	require.True(t, second[0].LastOccurrence.Equal(t0.Add(2*time.Minute)))
	require.True(t, second[0].FirstOccurrence.Equal(t0))
}

// TestEvaluate_PostCooldownCreatesSecondAlert covers the case where the
// critical cooldown has elapsed since the first alert's creation: the next
// crossing opens a second alert rather than merging into the first.
func TestEvaluate_PostCooldownCreatesSecondAlert(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 5.0, t0))
	require.NoError(t, err)
	a := first[0]

	second, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 4.7, t0.Add(11*time.Minute)))
	require.NoError(t, err)
	require.Len(t, second, 1)
	b := second[0]

	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, 1, b.OccurrenceCount)

	// A is still open (unacknowledged, not deleted) but it is no longer the
	// most recent open alert within the cooldown window — B is.
	stillOpen, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AlertUnacknowledged, stillOpen.Status)
	require.False(t, stillOpen.IsDeleted)
}

// TestAlertLifecycle_AcknowledgeThenResolve covers an alert acknowledged by
// one user, resolved by another with notes, where a second resolve attempt
// conflicts rather than silently succeeding.
func TestAlertLifecycle_AcknowledgeThenResolve(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	created, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 5.0, t0))
	require.NoError(t, err)
	a := created[0]

	acked, err := svc.Acknowledge(ctx, a.ID, "U1")
	require.NoError(t, err)
	require.Equal(t, models.AlertAcknowledged, acked.Status)
	require.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedAt)
	require.Equal(t, "U1", acked.AcknowledgedBy)

	resolved, err := svc.Resolve(ctx, a.ID, "U2", "valve replaced")
	require.NoError(t, err)
	require.Equal(t, models.AlertResolved, resolved.Status)
	require.Equal(t, "valve replaced", resolved.ResolutionNotes)
	require.Equal(t, "U2", resolved.ResolvedBy)
	// resolved implies acknowledged, with both timestamps set.
	require.True(t, resolved.Acknowledged)
	require.NotNil(t, resolved.AcknowledgedAt)
	require.NotNil(t, resolved.ResolvedAt)

	// Case: resolving an already-resolved alert conflicts, state unchanged.
	_, err = svc.Resolve(ctx, a.ID, "U2", "again")
	require.Error(t, err)
	require.True(t, perr.IsConflict(err))

	unchanged, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "valve replaced", unchanged.ResolutionNotes)
}

// TestAcknowledge_TwiceConflicts covers the round-trip property: acknowledging
// an already-acknowledged alert conflicts and leaves state untouched.
func TestAcknowledge_TwiceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	created, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 5.0, t0))
	require.NoError(t, err)
	a := created[0]

	first, err := svc.Acknowledge(ctx, a.ID, "U1")
	require.NoError(t, err)
	require.Equal(t, "U1", first.AcknowledgedBy)

	_, err = svc.Acknowledge(ctx, a.ID, "U2")
	require.Error(t, err)
	require.True(t, perr.IsConflict(err))

	stillU1, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "U1", stillU1.AcknowledgedBy)
}

// TestResolve_ThenAcknowledgeConflicts covers the round-trip property: once
// resolved, an alert can no longer be (re-)acknowledged.
func TestResolve_ThenAcknowledgeConflicts(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	created, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 5.0, t0))
	require.NoError(t, err)
	a := created[0]

	_, err = svc.Acknowledge(ctx, a.ID, "U1")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, a.ID, "U2", "fixed")
	require.NoError(t, err)

	_, err = svc.Acknowledge(ctx, a.ID, "U3")
	require.Error(t, err)
	require.True(t, perr.IsConflict(err))
}

// TestEvaluate_CleanReadingYieldsNoAlerts checks that a reading within all
// thresholds produces no alerts at all.
func TestEvaluate_CleanReadingYieldsNoAlerts(t *testing.T) {
	ctx := context.Background()
	svc, dev := newTestService(t)

	alerts, err := svc.Evaluate(ctx, dev.DeviceID, reading(dev.DeviceID, 7.0, time.Now().UTC()))
	require.NoError(t, err)
	require.Empty(t, alerts)
}
