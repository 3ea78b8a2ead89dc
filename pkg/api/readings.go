package api

import (
	"encoding/json"
	"net/http"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
	"github.com/Buchi-dev/puretrack/pkg/readings"
)

func readingFilterFrom(r *http.Request, deviceID string) store.ReadingFilter {
	v := r.URL.Query()
	return store.ReadingFilter{
		DeviceID:  deviceID,
		Start:     optionalTime(v, "start"),
		End:       optionalTime(v, "end"),
		PH:        store.ChannelRange{Min: optionalFloat(v, "phMin"), Max: optionalFloat(v, "phMax")},
		Turbidity: store.ChannelRange{Min: optionalFloat(v, "turbidityMin"), Max: optionalFloat(v, "turbidityMax")},
		TDS:       store.ChannelRange{Min: optionalFloat(v, "tdsMin"), Max: optionalFloat(v, "tdsMax")},
	}
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) error {
	var q readingQuery
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 50, 1000)

	rows, total, err := s.readings.Query(r.Context(), readingFilterFrom(r, q.DeviceID), page, limit)
	if err != nil {
		return err
	}
	okPage(w, rows, page, limit, total)
	return nil
}

// statisticsWindow returns the [start,end] window from ?start&?end, defaulting
// to the last 24 hours when either bound is omitted.
func statisticsWindow(r *http.Request) (time.Time, time.Time) {
	v := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if t := optionalTime(v, "end"); t != nil {
		end = *t
	}
	if t := optionalTime(v, "start"); t != nil {
		start = *t
	}
	return start, end
}

func (s *Server) readingStatistics(w http.ResponseWriter, r *http.Request) error {
	deviceID := r.URL.Query().Get("deviceId")
	start, end := statisticsWindow(r)

	stats, err := s.readings.Statistics(r.Context(), deviceID, start, end)
	if err != nil {
		return err
	}
	ok(w, stats)
	return nil
}

func (s *Server) aggregatedReadings(w http.ResponseWriter, r *http.Request) error {
	v := r.URL.Query()
	deviceID := v.Get("deviceId")
	if deviceID == "" {
		return perr.NewValidation("deviceId", "required")
	}
	granularity := readings.Granularity(v.Get("granularity"))
	if granularity == "" {
		granularity = readings.GranularityHour
	}

	// Unlike statistics/summary, aggregation requires an explicit range —
	// it does not fall back to the 24h analytics default.
	start := optionalTime(v, "start")
	end := optionalTime(v, "end")
	if start == nil || end == nil {
		return perr.NewValidation("start/end", "both are required for aggregation")
	}

	buckets, err := s.readings.Aggregate(r.Context(), deviceID, *start, *end, granularity)
	if err != nil {
		return err
	}
	ok(w, buckets)
	return nil
}

func (s *Server) readingCount(w http.ResponseWriter, r *http.Request) error {
	deviceID := r.URL.Query().Get("deviceId")
	_, total, err := s.readings.Query(r.Context(), readingFilterFrom(r, deviceID), 1, 1)
	if err != nil {
		return err
	}
	ok(w, map[string]int{"count": total})
	return nil
}

func (s *Server) insertReading(w http.ResponseWriter, r *http.Request) error {
	var rd models.Reading
	if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}
	if err := s.readings.Insert(r.Context(), &rd); err != nil {
		return err
	}
	created(w, &rd)
	return nil
}

func (s *Server) bulkInsertReadings(w http.ResponseWriter, r *http.Request) error {
	var body []*models.Reading
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return perr.NewValidation("body", "invalid JSON, expected an array of readings")
	}
	result, err := s.readings.BulkInsert(r.Context(), body)
	if err != nil {
		return err
	}
	okMessage(w, "bulk insert complete", result)
	return nil
}

func (s *Server) deleteOldReadings(w http.ResponseWriter, r *http.Request) error {
	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	if t := optionalTime(r.URL.Query(), "before"); t != nil {
		cutoff = *t
	}
	n, err := s.readings.DeleteOlderThan(r.Context(), cutoff)
	if err != nil {
		return err
	}
	okMessage(w, "old readings deleted", map[string]int64{"deleted": n})
	return nil
}
