package readings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file::memory:?cache=shared&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func phReading(deviceID string, ph float64, ts time.Time) *models.Reading {
	return &models.Reading{DeviceID: deviceID, PH: &ph, PHValid: true, Timestamp: ts}
}

// TestAggregate_BucketsByMinute covers four readings thirty seconds apart
// bucketing into two one-minute windows with the expected count and
// per-channel min/max/avg.
func TestAggregate_BucketsByMinute(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Devices.Insert(ctx, &models.Device{DeviceID: "D1", Name: "Probe", Type: "multiprobe"}))
	svc := New(st.Readings)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	values := []float64{7.0, 7.2, 7.4, 7.8}
	for i, v := range values {
		require.NoError(t, svc.Insert(ctx, phReading("D1", v, start.Add(time.Duration(i)*30*time.Second))))
	}

	buckets, err := svc.Aggregate(ctx, "D1", start, start.Add(2*time.Minute), GranularityMinute)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	require.Equal(t, 2, buckets[0].Count)
	b1 := buckets[0].Channels[models.ChannelPH]
	require.InDelta(t, 7.1, b1.Avg, 1e-9)
	require.Equal(t, 7.0, b1.Min)
	require.Equal(t, 7.2, b1.Max)

	require.Equal(t, 2, buckets[1].Count)
	b2 := buckets[1].Channels[models.ChannelPH]
	require.InDelta(t, 7.6, b2.Avg, 1e-9)
	require.Equal(t, 7.4, b2.Min)
	require.Equal(t, 7.8, b2.Max)

	// bucket counts sum to the total matching reading count.
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	require.Equal(t, len(values), total)
}

// TestInsert_IdempotentIngestYieldsAtMostTwoRows covers invariant 7: sending
// the same reading twice never produces more than two rows.
func TestInsert_IdempotentIngestYieldsAtMostTwoRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Devices.Insert(ctx, &models.Device{DeviceID: "D1", Name: "Probe", Type: "multiprobe"}))
	svc := New(st.Readings)

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rd := phReading("D1", 7.0, ts)
	require.NoError(t, svc.Insert(ctx, rd))

	dup := phReading("D1", 7.0, ts)
	require.NoError(t, svc.Insert(ctx, dup))

	_, total, err := svc.Query(ctx, store.ReadingFilter{DeviceID: "D1"}, 1, 10)
	require.NoError(t, err)
	require.LessOrEqual(t, total, 2)
	require.Equal(t, 2, total)
}

// TestInsert_ValidationRejectsMissingDeviceID ensures a malformed reading is
// rejected before it reaches the store.
func TestInsert_ValidationRejectsMissingDeviceID(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := New(st.Readings)

	err := svc.Insert(ctx, &models.Reading{Timestamp: time.Now().UTC()})
	require.Error(t, err)
	require.True(t, perr.IsValidation(err))
}

// TestStatistics_ComputesMinMaxAvg checks the statistics window matches
// direct min/max/avg over the same readings, the same contract Aggregate
// buckets enforce per-window (invariant 6).
func TestStatistics_ComputesMinMaxAvg(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Devices.Insert(ctx, &models.Device{DeviceID: "D1", Name: "Probe", Type: "multiprobe"}))
	svc := New(st.Readings)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{6.8, 7.0, 7.2} {
		require.NoError(t, svc.Insert(ctx, phReading("D1", v, start.Add(time.Duration(i)*time.Minute))))
	}

	stats, err := svc.Statistics(ctx, "D1", start, start.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.Equal(t, 3, stats.Count)
	ph := stats.Channels[models.ChannelPH]
	require.Equal(t, 6.8, ph.Min)
	require.Equal(t, 7.2, ph.Max)
	require.InDelta(t, 7.0, ph.Avg, 1e-9)
}
