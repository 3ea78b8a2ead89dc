// Package readings implements C1, the Reading Store: validation, bulk
// ingest, time-bounded queries, and statistics over the append-only sensor
// sample time-series.
package readings

import (
	"context"
	"fmt"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// Service implements C1 over a store.ReadingRepository.
type Service struct {
	repo *store.ReadingRepository
}

// New builds a readings Service.
func New(repo *store.ReadingRepository) *Service {
	return &Service{repo: repo}
}

// Insert validates and persists a single reading.
func (s *Service) Insert(ctx context.Context, rd *models.Reading) error {
	if err := validate(rd); err != nil {
		return err
	}
	return s.repo.Insert(ctx, rd)
}

func validate(rd *models.Reading) error {
	if rd.DeviceID == "" {
		return perr.NewValidation("deviceId", "must not be empty")
	}
	for _, check := range []struct {
		field      string
		value      *float64
		valid      bool
	}{
		{"pH", rd.PH, rd.PHValid},
		{"turbidity", rd.Turbidity, rd.TurbidValid},
		{"tds", rd.TDS, rd.TDSValid},
	} {
		if check.valid && check.value == nil {
			return perr.NewValidation(check.field, "marked valid but has no numeric value")
		}
	}
	if rd.Timestamp.IsZero() {
		rd.Timestamp = time.Now().UTC()
	}
	return nil
}

// BulkInsertResult reports how many of a batch were accepted.
type BulkInsertResult struct {
	Accepted int
	Rejected int
}

// BulkInsert is best-effort and unordered: each reading is validated and
// inserted independently; malformed rows are skipped without aborting the
// batch.
func (s *Service) BulkInsert(ctx context.Context, readings []*models.Reading) (*BulkInsertResult, error) {
	var valid []*models.Reading
	rejected := 0
	for _, rd := range readings {
		if err := validate(rd); err != nil {
			rejected++
			continue
		}
		valid = append(valid, rd)
	}
	accepted, err := s.repo.BulkInsert(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("bulk inserting readings: %w", err)
	}
	return &BulkInsertResult{Accepted: accepted, Rejected: rejected + (len(valid) - accepted)}, nil
}

// Latest returns the most recent non-deleted reading for deviceId, or nil
// (no error) if the device has none yet.
func (s *Service) Latest(ctx context.Context, deviceID string) (*models.Reading, error) {
	rd, err := s.repo.Latest(ctx, deviceID)
	if perr.IsNotFound(err) {
		return nil, nil
	}
	return rd, err
}

// Query returns a page of readings matching filter.
func (s *Service) Query(ctx context.Context, filter store.ReadingFilter, page, limit int) ([]*models.Reading, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	return s.repo.Query(ctx, filter, page, limit)
}

// ChannelStats is the min/max/avg summary for one channel.
type ChannelStats struct {
	Min, Max, Avg float64
}

// Statistics is the aggregate summary returned by the statistics operation.
type Statistics struct {
	Count      int
	Channels   map[models.Channel]ChannelStats
	Start, End time.Time
}

// Statistics computes count and per-channel min/max/avg over [start,end]
// (optionally scoped to one device), omitting channels with _valid=false
// samples only and channels with zero valid samples from the result. A
// zero-count window yields a nil Statistics.
func (s *Service) Statistics(ctx context.Context, deviceID string, start, end time.Time) (*Statistics, error) {
	readings, err := s.repo.QueryRange(ctx, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying range for statistics: %w", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}

	sums := map[models.Channel]float64{}
	mins := map[models.Channel]float64{}
	maxs := map[models.Channel]float64{}
	counts := map[models.Channel]int{}

	for _, rd := range readings {
		for _, ch := range models.AllChannels {
			v, valid := rd.Value(ch)
			if !valid {
				continue
			}
			if counts[ch] == 0 {
				mins[ch], maxs[ch] = v, v
			} else {
				if v < mins[ch] {
					mins[ch] = v
				}
				if v > maxs[ch] {
					maxs[ch] = v
				}
			}
			sums[ch] += v
			counts[ch]++
		}
	}

	channels := map[models.Channel]ChannelStats{}
	for _, ch := range models.AllChannels {
		if counts[ch] == 0 {
			continue
		}
		channels[ch] = ChannelStats{Min: mins[ch], Max: maxs[ch], Avg: sums[ch] / float64(counts[ch])}
	}

	return &Statistics{
		Count:    len(readings),
		Channels: channels,
		Start:    start,
		End:      end,
	}, nil
}

// DeleteOlderThan runs the 90-day retention sweep (createdAt clock).
func (s *Service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, cutoff)
}
