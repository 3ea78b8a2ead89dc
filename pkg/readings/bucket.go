package readings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Buchi-dev/puretrack/internal/models"
)

// Granularity is a bucket width for aggregate().
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

// bucketKey returns the UTC-aligned start of the bucket containing t:
// hour = [HH:00, HH+1:00), week starts Monday 00:00 UTC, month = calendar
// month. Calendar months and weeks are not fixed-duration, so each
// granularity gets its own alignment rule rather than a single
// time.Truncate call.
func bucketKey(t time.Time, g Granularity) (time.Time, error) {
	t = t.UTC()
	switch g {
	case GranularityMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
	case GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC), nil
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case GranularityWeek:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// time.Weekday: Sunday=0 .. Saturday=6; align to Monday.
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset), nil
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("unknown granularity %q", g)
	}
}

// Bucket is one time-bucketed aggregate row.
type Bucket struct {
	Key            time.Time
	Representative time.Time
	Count          int
	Channels       map[models.Channel]ChannelStats
}

// Aggregate computes time-bucketed per-channel min/max/avg over [start,end]
// for deviceId, ordered ascending by bucket key. Empty buckets are omitted
// (invariant 6: bucket counts sum to the total matching reading count).
func (s *Service) Aggregate(ctx context.Context, deviceID string, start, end time.Time, g Granularity) ([]Bucket, error) {
	readings, err := s.repo.QueryRange(ctx, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying range for aggregate: %w", err)
	}

	type acc struct {
		count    int
		sums     map[models.Channel]float64
		mins     map[models.Channel]float64
		maxs     map[models.Channel]float64
		counts   map[models.Channel]int
		repTime  time.Time
	}
	buckets := map[time.Time]*acc{}
	var order []time.Time

	for _, rd := range readings {
		key, err := bucketKey(rd.Timestamp, g)
		if err != nil {
			return nil, err
		}
		b, ok := buckets[key]
		if !ok {
			b = &acc{
				sums: map[models.Channel]float64{}, mins: map[models.Channel]float64{},
				maxs: map[models.Channel]float64{}, counts: map[models.Channel]int{},
				repTime: rd.Timestamp,
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
		for _, ch := range models.AllChannels {
			v, valid := rd.Value(ch)
			if !valid {
				continue
			}
			if b.counts[ch] == 0 {
				b.mins[ch], b.maxs[ch] = v, v
			} else {
				if v < b.mins[ch] {
					b.mins[ch] = v
				}
				if v > b.maxs[ch] {
					b.maxs[ch] = v
				}
			}
			b.sums[ch] += v
			b.counts[ch]++
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]Bucket, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		channels := map[models.Channel]ChannelStats{}
		for _, ch := range models.AllChannels {
			if b.counts[ch] == 0 {
				continue
			}
			channels[ch] = ChannelStats{Min: b.mins[ch], Max: b.maxs[ch], Avg: b.sums[ch] / float64(b.counts[ch])}
		}
		out = append(out, Bucket{Key: key, Representative: b.repTime, Count: b.count, Channels: channels})
	}
	return out, nil
}
