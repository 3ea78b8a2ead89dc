// Package reports implements C7, the Report Builder: request/persist a
// report in the `generating` state, assemble a read-only data bundle from
// C1/C2/C3, render it, and attach the stored artifact — or fail the report
// with a textual reason.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

// FileStore is the put/get seam for rendered artifacts, named in §1's
// external collaborators. Production wiring uses filestore_gcs.go; tests and
// local runs use filestore_fs.go.
type FileStore interface {
	Put(ctx context.Context, name string, contentType string, data []byte) (handle string, err error)
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// Renderer turns an assembled bundle into artifact bytes for one format.
// render is modeled as an external collaborator; pkg/reports owns only the
// contract and the bundle assembly.
type Renderer interface {
	Render(ctx context.Context, format models.ReportFormat, bundle Bundle) (data []byte, contentType string, err error)
}

// Bundle is the read-only data assembled for one report build, shaped
// differently per report Type (see buildParams).
type Bundle struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Parameters map[string]interface{} `json:"parameters"`
	Data       interface{}            `json:"data"`
}

// ReadingSource is the C1 seam the builder reads from — satisfied directly
// by *store.ReadingRepository, so the builder computes its own (richer,
// median/stddev-including) statistics rather than depending on
// pkg/readings.Service's summary shape.
type ReadingSource interface {
	QueryRange(ctx context.Context, deviceID string, start, end time.Time) ([]*models.Reading, error)
}

// ChannelStats is the per-channel summary for report bundles:
// avg/min/max/median/stddev over valid samples only.
type ChannelStats struct {
	Count                         int
	Min, Max, Avg, Median, StdDev float64
}

// DeviceSource is the C2 seam the builder reads from.
type DeviceSource interface {
	Get(ctx context.Context, idOrDeviceID string) (*models.Device, error)
	List(ctx context.Context, filter store.DeviceFilter, page, limit int) ([]*models.Device, int, error)
}

// AlertSource is the C3 seam the builder reads from.
type AlertSource interface {
	List(ctx context.Context, filter store.AlertFilter, page, limit int) ([]*models.Alert, int, error)
	Statistics(ctx context.Context, deviceID string) (*store.Statistics, error)
}

// Service implements C7 over a store.ReportRepository plus the C1/C2/C3 read
// seams and the injected FileStore/Renderer.
type Service struct {
	repo      *store.ReportRepository
	readings  ReadingSource
	devices   DeviceSource
	alerts    AlertSource
	fileStore FileStore
	renderer  Renderer
}

// New builds a report Service.
func New(repo *store.ReportRepository, readings ReadingSource, devices DeviceSource, alerts AlertSource, fileStore FileStore, renderer Renderer) *Service {
	return &Service{repo: repo, readings: readings, devices: devices, alerts: alerts, fileStore: fileStore, renderer: renderer}
}

// Create persists a Report in the generating state and returns it; the
// worker discovers it via ListGenerating and performs the actual build.
func (s *Service) Create(ctx context.Context, reportType, title string, format models.ReportFormat, parameters map[string]interface{}, generatedBy string) (*models.Report, error) {
	rep := &models.Report{
		Type:        reportType,
		Title:       title,
		Status:      models.ReportGenerating,
		Format:      format,
		Parameters:  parameters,
		GeneratedBy: generatedBy,
	}
	if err := s.repo.Insert(ctx, rep); err != nil {
		return nil, fmt.Errorf("creating report: %w", err)
	}
	return rep, nil
}

// Build runs the full workflow for one generating report: assemble the
// bundle, render it, store the artifact, and transition to completed or
// failed.
func (s *Service) Build(ctx context.Context, rep *models.Report) error {
	bundle, err := s.buildParams(ctx, rep)
	if err != nil {
		return s.fail(ctx, rep.ID, fmt.Sprintf("assembling bundle: %v", err))
	}

	data, contentType, err := s.renderer.Render(ctx, rep.Format, *bundle)
	if err != nil {
		return s.fail(ctx, rep.ID, fmt.Sprintf("rendering: %v", err))
	}

	filename := fmt.Sprintf("%s-%s.%s", rep.Type, rep.ID, rep.Format)
	handle, err := s.fileStore.Put(ctx, filename, contentType, data)
	if err != nil {
		return s.fail(ctx, rep.ID, fmt.Sprintf("storing artifact: %v", err))
	}

	file := models.ReportFile{Handle: handle, Filename: filename, Size: int64(len(data)), ContentType: contentType}
	if err := s.repo.MarkCompleted(ctx, rep.ID, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking report completed: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, reportID, reason string) error {
	if err := s.repo.MarkFailed(ctx, reportID, reason); err != nil {
		return fmt.Errorf("marking report failed: %w", err)
	}
	return fmt.Errorf("report %s failed: %s", reportID, reason)
}

// Get returns a report by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Report, error) {
	return s.repo.Get(ctx, id)
}

// Download returns the rendered artifact bytes for a completed report.
func (s *Service) Download(ctx context.Context, id string) ([]byte, *models.ReportFile, error) {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rep.Status != models.ReportCompleted || rep.File == nil {
		return nil, nil, fmt.Errorf("report %s is not ready for download", id)
	}
	data, err := s.fileStore.Get(ctx, rep.File.Handle)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching artifact: %w", err)
	}
	return data, rep.File, nil
}

// List returns a page of reports matching filter.
func (s *Service) List(ctx context.Context, filter store.ReportFilter, page, limit int) ([]*models.Report, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, filter, page, limit)
}

// Delete removes a report row and its stored artifact, if any.
func (s *Service) Delete(ctx context.Context, id string) error {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rep.File != nil {
		_ = s.fileStore.Delete(ctx, rep.File.Handle)
	}
	return s.repo.Delete(ctx, id)
}

// Statistics returns report counts grouped by status.
func (s *Service) Statistics(ctx context.Context) (map[models.ReportStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}

// SweepExpired deletes (file then row) every report whose expiresAt has
// passed. Run periodically via pkg/scheduler.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listing expired reports: %w", err)
	}
	count := 0
	for _, rep := range expired {
		if rep.File != nil {
			_ = s.fileStore.Delete(ctx, rep.File.Handle)
		}
		if err := s.repo.Delete(ctx, rep.ID); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// ListGenerating is exposed for the worker's polling loop.
func (s *Service) ListGenerating(ctx context.Context) ([]*models.Report, error) {
	return s.repo.ListGenerating(ctx)
}
