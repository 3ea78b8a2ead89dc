package api

import (
	"net/http"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
	"github.com/Buchi-dev/puretrack/pkg/readings"
)

// analyticsSummary is a dashboard-shaped snapshot over the trailing window
// (24h by default — see statisticsWindow), deliberately not derived from or
// sharing a cache with the explicit-range aggregation endpoints.
type analyticsSummary struct {
	Window       windowView             `json:"window"`
	Devices      *store.DeviceStatistics `json:"devices"`
	Alerts       *store.Statistics       `json:"alerts"`
	ReadingCount int                     `json:"readingCount"`
}

type windowView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) analyticsSummary(w http.ResponseWriter, r *http.Request) error {
	start, end := statisticsWindow(r)

	deviceStats, err := s.devices.Statistics(r.Context())
	if err != nil {
		return err
	}
	alertStats, err := s.alerts.Statistics(r.Context(), "")
	if err != nil {
		return err
	}
	_, readingTotal, err := s.readings.Query(r.Context(), store.ReadingFilter{Start: &start, End: &end}, 1, 1)
	if err != nil {
		return err
	}

	ok(w, analyticsSummary{
		Window:       windowView{Start: start, End: end},
		Devices:      deviceStats,
		Alerts:       alertStats,
		ReadingCount: readingTotal,
	})
	return nil
}

// analyticsTrends buckets readings by interval over an explicit
// range — the aggregation-endpoint half of §9's asymmetry, so it too
// requires start/end rather than defaulting.
func (s *Server) analyticsTrends(w http.ResponseWriter, r *http.Request) error {
	v := r.URL.Query()
	interval := readings.Granularity(v.Get("interval"))
	switch interval {
	case readings.GranularityMinute, readings.GranularityHour, readings.GranularityDay:
	case "":
		interval = readings.GranularityHour
	default:
		return perr.NewValidation("interval", "must be one of minute, hour, day")
	}

	start := optionalTime(v, "start")
	end := optionalTime(v, "end")
	if start == nil || end == nil {
		return perr.NewValidation("start/end", "both are required for trends")
	}

	deviceID := v.Get("deviceId")
	buckets, err := s.readings.Aggregate(r.Context(), deviceID, *start, *end, interval)
	if err != nil {
		return err
	}
	ok(w, buckets)
	return nil
}

// analyticsParameters reports which channels have carried at least one
// valid sample in the trailing window, for UI parameter pickers.
func (s *Server) analyticsParameters(w http.ResponseWriter, r *http.Request) error {
	start, end := statisticsWindow(r)
	deviceID := r.URL.Query().Get("deviceId")

	stats, err := s.readings.Statistics(r.Context(), deviceID, start, end)
	if err != nil {
		return err
	}

	var present []models.Channel
	if stats != nil {
		for _, ch := range models.AllChannels {
			if _, ok := stats.Channels[ch]; ok {
				present = append(present, ch)
			}
		}
	}
	ok(w, map[string]interface{}{"parameters": present})
	return nil
}
