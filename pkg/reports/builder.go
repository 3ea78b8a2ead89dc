package reports

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// maxReportReadings bounds how many readings a single report pulls into
// memory per device; readings past the cap are dropped before the stats are
// computed, and the bundle does not record that the cap was applied.
const maxReportReadings = 50000

// buildParams assembles the read-only data bundle for rep, dispatching on
// rep.Type. Only C1/C2/C3 read operations are invoked — no mutation.
func (s *Service) buildParams(ctx context.Context, rep *models.Report) (*Bundle, error) {
	switch rep.Type {
	case "water-quality":
		return s.buildWaterQuality(ctx, rep)
	case "device-status":
		return s.buildDeviceStatus(ctx, rep)
	case "compliance":
		return s.buildCompliance(ctx, rep)
	case "alert-summary":
		return s.buildAlertSummary(ctx, rep)
	default:
		return nil, fmt.Errorf("unknown report type %q", rep.Type)
	}
}

func windowFromParams(params map[string]interface{}) (start, end time.Time) {
	end = time.Now().UTC()
	start = end.Add(-24 * time.Hour)
	if v, ok := params["start"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v, ok := params["end"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}
	return start, end
}

func deviceIDsFromParams(params map[string]interface{}) []string {
	var ids []string
	switch v := params["deviceId"].(type) {
	case string:
		if v != "" {
			ids = append(ids, v)
		}
	}
	if raw, ok := params["deviceIds"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids
}

// computeChannelStats returns per-channel avg/min/max/median/stddev over
// valid samples only, for one device's readings in a window.
func computeChannelStats(readings []*models.Reading) map[models.Channel]ChannelStats {
	values := map[models.Channel][]float64{}
	for _, rd := range readings {
		for _, ch := range models.AllChannels {
			if v, ok := rd.Value(ch); ok {
				values[ch] = append(values[ch], v)
			}
		}
	}

	out := map[models.Channel]ChannelStats{}
	for ch, vs := range values {
		if len(vs) == 0 {
			continue
		}
		sorted := append([]float64(nil), vs...)
		sort.Float64s(sorted)

		var sum float64
		min, max := sorted[0], sorted[len(sorted)-1]
		for _, v := range vs {
			sum += v
		}
		avg := sum / float64(len(vs))

		var sqDiffSum float64
		for _, v := range vs {
			d := v - avg
			sqDiffSum += d * d
		}
		stddev := math.Sqrt(sqDiffSum / float64(len(vs)))

		median := sorted[len(sorted)/2]
		if len(sorted)%2 == 0 {
			median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
		}

		out[ch] = ChannelStats{Count: len(vs), Min: min, Max: max, Avg: avg, Median: median, StdDev: stddev}
	}
	return out
}

type waterQualityDeviceSection struct {
	Device   *models.Device                      `json:"device"`
	Stats    map[models.Channel]ChannelStats      `json:"stats"`
	Readings int                                  `json:"readingCount"`
}

type alertSummarySection struct {
	BySeverity map[models.Severity]int    `json:"bySeverity"`
	ByStatus   map[models.AlertStatus]int `json:"byStatus"`
	Total      int                        `json:"total"`
}

// buildWaterQuality assembles per-device readings/stats plus the windowed
// alert summary.
func (s *Service) buildWaterQuality(ctx context.Context, rep *models.Report) (*Bundle, error) {
	start, end := windowFromParams(rep.Parameters)
	deviceIDs := deviceIDsFromParams(rep.Parameters)
	if len(deviceIDs) == 0 {
		devices, _, err := s.devices.List(ctx, store.DeviceFilter{}, 1, 1000)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		for _, d := range devices {
			deviceIDs = append(deviceIDs, d.DeviceID)
		}
	}

	var sections []waterQualityDeviceSection
	for _, id := range deviceIDs {
		device, err := s.devices.Get(ctx, id)
		if err != nil {
			continue
		}
		readings, err := s.readings.QueryRange(ctx, id, start, end)
		if err != nil {
			return nil, fmt.Errorf("querying readings for %s: %w", id, err)
		}
		if len(readings) > maxReportReadings {
			readings = readings[:maxReportReadings]
		}
		sections = append(sections, waterQualityDeviceSection{
			Device:   device,
			Stats:    computeChannelStats(readings),
			Readings: len(readings),
		})
	}

	alerts, total, err := s.alerts.List(ctx, store.AlertFilter{Start: &start, End: &end}, 1, 10000)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	summary := summarizeAlerts(alerts, total)

	return &Bundle{
		Type:        rep.Type,
		Title:       rep.Title,
		GeneratedAt: time.Now().UTC(),
		Parameters:  rep.Parameters,
		Data: map[string]interface{}{
			"window":  map[string]time.Time{"start": start, "end": end},
			"devices": sections,
			"alerts":  summary,
		},
	}, nil
}

type deviceStatusSection struct {
	Device  *models.Device `json:"device"`
	Uptime  string         `json:"uptime"`
	Healthy bool           `json:"healthy"`
}

// buildDeviceStatus assembles a snapshot of every device with a derived
// healthy/issues flag.
func (s *Service) buildDeviceStatus(ctx context.Context, rep *models.Report) (*Bundle, error) {
	devices, _, err := s.devices.List(ctx, store.DeviceFilter{}, 1, 1000)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	now := time.Now().UTC()
	var sections []deviceStatusSection
	for _, d := range devices {
		uptime := "unknown"
		healthy := d.Status == models.DeviceOnline
		if d.LastSeen != nil {
			uptime = now.Sub(*d.LastSeen).Round(time.Second).String()
		}
		sections = append(sections, deviceStatusSection{Device: d, Uptime: uptime, Healthy: healthy})
	}

	return &Bundle{
		Type:        rep.Type,
		Title:       rep.Title,
		GeneratedAt: now,
		Parameters:  rep.Parameters,
		Data:        map[string]interface{}{"devices": sections},
	}, nil
}

type complianceDeviceSection struct {
	DeviceID    string                     `json:"deviceId"`
	Percentages map[models.Channel]float64 `json:"compliancePercentages"`
}

// buildCompliance assembles windowed violations grouped by severity, plus
// per-device compliance percentages per channel.
func (s *Service) buildCompliance(ctx context.Context, rep *models.Report) (*Bundle, error) {
	start, end := windowFromParams(rep.Parameters)

	alerts, total, err := s.alerts.List(ctx, store.AlertFilter{Start: &start, End: &end}, 1, 10000)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	bySeverity := map[models.Severity]int{}
	for _, a := range alerts {
		bySeverity[a.Severity]++
	}

	deviceIDs := deviceIDsFromParams(rep.Parameters)
	if len(deviceIDs) == 0 {
		devices, _, err := s.devices.List(ctx, store.DeviceFilter{}, 1, 1000)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		for _, d := range devices {
			deviceIDs = append(deviceIDs, d.DeviceID)
		}
	}

	var sections []complianceDeviceSection
	for _, id := range deviceIDs {
		readings, err := s.readings.QueryRange(ctx, id, start, end)
		if err != nil {
			continue
		}
		totals := map[models.Channel]int{}
		violations := map[models.Channel]int{}
		for _, rd := range readings {
			for _, ch := range models.AllChannels {
				if _, ok := rd.Value(ch); !ok {
					continue
				}
				totals[ch]++
			}
		}
		for _, a := range alerts {
			if a.DeviceID == id {
				violations[a.Parameter]++
			}
		}
		pct := map[models.Channel]float64{}
		for _, ch := range models.AllChannels {
			if totals[ch] == 0 {
				continue
			}
			inRange := totals[ch] - violations[ch]
			if inRange < 0 {
				inRange = 0
			}
			pct[ch] = (float64(inRange) / float64(totals[ch])) * 100
		}
		sections = append(sections, complianceDeviceSection{DeviceID: id, Percentages: pct})
	}

	return &Bundle{
		Type:        rep.Type,
		Title:       rep.Title,
		GeneratedAt: time.Now().UTC(),
		Parameters:  rep.Parameters,
		Data: map[string]interface{}{
			"window":        map[string]time.Time{"start": start, "end": end},
			"violationsBySeverity": bySeverity,
			"violationsTotal":      total,
			"devices":              sections,
		},
	}, nil
}

// buildAlertSummary assembles windowed alert rows grouped by status/severity.
func (s *Service) buildAlertSummary(ctx context.Context, rep *models.Report) (*Bundle, error) {
	start, end := windowFromParams(rep.Parameters)
	alerts, total, err := s.alerts.List(ctx, store.AlertFilter{Start: &start, End: &end}, 1, 10000)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}

	return &Bundle{
		Type:        rep.Type,
		Title:       rep.Title,
		GeneratedAt: time.Now().UTC(),
		Parameters:  rep.Parameters,
		Data: map[string]interface{}{
			"window":  map[string]time.Time{"start": start, "end": end},
			"alerts":  alerts,
			"summary": summarizeAlerts(alerts, total),
		},
	}, nil
}

func summarizeAlerts(alerts []*models.Alert, total int) alertSummarySection {
	out := alertSummarySection{
		BySeverity: map[models.Severity]int{},
		ByStatus:   map[models.AlertStatus]int{},
		Total:      total,
	}
	for _, a := range alerts {
		out.BySeverity[a.Severity]++
		out.ByStatus[a.Status]++
	}
	return out
}
