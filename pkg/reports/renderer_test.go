package reports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/Buchi-dev/puretrack/internal/models"
)

// TestRenderCSV_AlertSummarySnapshot locks down the csv writer's exact byte
// output for the alert-rows fallback branch of renderCSV. A snapshot catches
// an accidental column reorder or format-string change that a value-only
// assertion would miss.
func TestRenderCSV_AlertSummarySnapshot(t *testing.T) {
	bundle := Bundle{
		Type:        "alert-summary",
		Title:       "Weekly Alert Summary",
		GeneratedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"alerts": []*models.Alert{
				{
					ID:        "alert-1",
					DeviceID:  "device-1",
					Parameter: models.ChannelPH,
					Severity:  models.SeverityCritical,
					Status:    models.AlertUnacknowledged,
					CreatedAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
				},
				{
					ID:        "alert-2",
					DeviceID:  "device-2",
					Parameter: models.ChannelTurbidity,
					Severity:  models.SeverityWarning,
					Status:    models.AlertAcknowledged,
					CreatedAt: time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC),
				},
			},
		},
	}

	data, contentType, err := renderCSV(bundle)
	require.NoError(t, err)
	require.Equal(t, "text/csv", contentType)

	cupaloy.SnapshotT(t, string(data))
}

// stubExternalRenderer captures the bundleJSON handed to an ExternalRenderer
// so the test can assert on the encoded shape without depending on field
// ordering, the way a real pdf/xlsx engine would receive it.
type stubExternalRenderer struct {
	gotJSON []byte
}

func (s *stubExternalRenderer) RenderJSON(ctx context.Context, format models.ReportFormat, bundleJSON []byte) ([]byte, string, error) {
	s.gotJSON = bundleJSON
	return []byte("rendered"), "application/pdf", nil
}

// TestRender_PDFBundleEncoding verifies DefaultRenderer.Render marshals the
// full bundle (not a trimmed view) before delegating to the external
// renderer. jsondiff.Compare is used instead of a string-equality check so
// the assertion survives key reordering from encoding/json's map iteration.
func TestRender_PDFBundleEncoding(t *testing.T) {
	bundle := Bundle{
		Type:        "device-summary",
		Title:       "Device Summary",
		GeneratedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Parameters:  map[string]interface{}{"deviceId": "device-1"},
		Data:        map[string]interface{}{"readingCount": float64(42)},
	}

	stub := &stubExternalRenderer{}
	r := &DefaultRenderer{External: stub}

	data, contentType, err := r.Render(context.Background(), models.FormatPDF, bundle)
	require.NoError(t, err)
	require.Equal(t, "application/pdf", contentType)
	require.Equal(t, []byte("rendered"), data)

	expected, err := json.Marshal(map[string]interface{}{
		"type":        "device-summary",
		"title":       "Device Summary",
		"generatedAt": "2026-01-15T12:00:00Z",
		"parameters":  map[string]interface{}{"deviceId": "device-1"},
		"data":        map[string]interface{}{"readingCount": float64(42)},
	})
	require.NoError(t, err)

	opts := jsondiff.DefaultConsoleOptions()
	diff, explanation := jsondiff.Compare(stub.gotJSON, expected, &opts)
	require.Equal(t, jsondiff.FullMatch, diff, explanation)
}
