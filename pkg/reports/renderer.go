package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Buchi-dev/puretrack/internal/models"
)

// ExternalRenderer produces artifact bytes for formats this package cannot
// render itself (pdf, xlsx) from the bundle's JSON encoding. Production
// wiring of an actual PDF/XLSX engine is left to the embedding binary;
// rendering those formats is treated as an external collaborator's job.
type ExternalRenderer interface {
	RenderJSON(ctx context.Context, format models.ReportFormat, bundleJSON []byte) (data []byte, contentType string, err error)
}

// DefaultRenderer implements Renderer: csv directly via encoding/csv, and
// pdf/xlsx by delegating to an injected ExternalRenderer.
type DefaultRenderer struct {
	External ExternalRenderer // nil is valid if only csv reports are ever requested
}

// Render implements Renderer.
func (r *DefaultRenderer) Render(ctx context.Context, format models.ReportFormat, bundle Bundle) ([]byte, string, error) {
	switch format {
	case models.FormatCSV:
		return renderCSV(bundle)
	case models.FormatPDF, models.FormatXLSX:
		if r.External == nil {
			return nil, "", fmt.Errorf("no external renderer configured for format %q", format)
		}
		encoded, err := json.Marshal(bundle)
		if err != nil {
			return nil, "", fmt.Errorf("encoding bundle: %w", err)
		}
		return r.External.RenderJSON(ctx, format, encoded)
	default:
		return nil, "", fmt.Errorf("unsupported report format %q", format)
	}
}

// renderCSV flattens a bundle's per-channel device stats into rows. Bundles
// without water-quality device sections but with alert rows (e.g.
// alert-summary) are written as one row per alert (id, device, parameter,
// severity, status, createdAt); any other bundle yields a single
// title/generatedAt row.
func renderCSV(bundle Bundle) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	data, ok := bundle.Data.(map[string]interface{})
	if !ok {
		return nil, "", fmt.Errorf("bundle data is not a map, cannot render csv")
	}

	if sections, ok := data["devices"].([]waterQualityDeviceSection); ok {
		_ = w.Write([]string{"deviceId", "channel", "count", "min", "max", "avg", "median", "stddev"})
		for _, section := range sections {
			for ch, stats := range section.Stats {
				_ = w.Write([]string{
					section.Device.DeviceID, string(ch),
					strconv.Itoa(stats.Count),
					strconv.FormatFloat(stats.Min, 'f', 2, 64),
					strconv.FormatFloat(stats.Max, 'f', 2, 64),
					strconv.FormatFloat(stats.Avg, 'f', 2, 64),
					strconv.FormatFloat(stats.Median, 'f', 2, 64),
					strconv.FormatFloat(stats.StdDev, 'f', 2, 64),
				})
			}
		}
	} else if alerts, ok := data["alerts"].([]*models.Alert); ok {
		_ = w.Write([]string{"alertId", "deviceId", "parameter", "severity", "status", "createdAt"})
		for _, a := range alerts {
			_ = w.Write([]string{a.ID, a.DeviceID, string(a.Parameter), string(a.Severity), string(a.Status), a.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
		}
	} else {
		_ = w.Write([]string{"title", "generatedAt"})
		_ = w.Write([]string{bundle.Title, bundle.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), "text/csv", nil
}
