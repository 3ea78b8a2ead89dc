package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/google/uuid"
)

// ReportRepository persists Report rows.
type ReportRepository struct {
	db *sql.DB
}

// ReportFilter narrows List queries.
type ReportFilter struct {
	Type        string
	Status      models.ReportStatus
	GeneratedBy string
}

const reportColumns = `id, type, title, description, status, format, parameters,
	file_handle, file_name, file_size, file_type, generated_by, generated_at,
	error_message, created_at, expires_at`

func scanReport(row interface{ Scan(...interface{}) error }) (*models.Report, error) {
	var (
		rep                                         models.Report
		description, errorMessage                   sql.NullString
		fileHandle, fileName, fileType               sql.NullString
		fileSize                                     sql.NullInt64
		generatedAt                                  sql.NullString
		paramsJSON                                   string
		createdAt, expiresAt                         string
	)
	if err := row.Scan(
		&rep.ID, &rep.Type, &rep.Title, &description, &rep.Status, &rep.Format, &paramsJSON,
		&fileHandle, &fileName, &fileSize, &fileType, &rep.GeneratedBy, &generatedAt,
		&errorMessage, &createdAt, &expiresAt,
	); err != nil {
		return nil, err
	}
	rep.Description = description.String
	rep.ErrorMessage = errorMessage.String
	_ = json.Unmarshal([]byte(paramsJSON), &rep.Parameters)
	if fileHandle.Valid {
		rep.File = &models.ReportFile{
			Handle: fileHandle.String, Filename: fileName.String,
			Size: fileSize.Int64, ContentType: fileType.String,
		}
	}
	rep.GeneratedAt = parseNullTime(generatedAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rep.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, expiresAt); err == nil {
		rep.ExpiresAt = t
	}
	return &rep, nil
}

// Insert creates a report row in the `generating` state.
func (r *ReportRepository) Insert(ctx context.Context, rep *models.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	if rep.ExpiresAt.IsZero() {
		rep.ExpiresAt = rep.CreatedAt.Add(30 * 24 * time.Hour)
	}
	paramsJSON, _ := json.Marshal(rep.Parameters)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?, ?,?, ?,?,?)`,
		rep.ID, rep.Type, rep.Title, nullIfEmpty(rep.Description), rep.Status, rep.Format, string(paramsJSON),
		nil, nil, nil, nil,
		rep.GeneratedBy, formatNullTime(rep.GeneratedAt),
		nullIfEmpty(rep.ErrorMessage), formatTime(rep.CreatedAt), formatTime(rep.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

// Get returns a report by id.
func (r *ReportRepository) Get(ctx context.Context, id string) (*models.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	rep, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("report", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning report: %w", err)
	}
	return rep, nil
}

// MarkCompleted attaches the rendered file's handle and transitions to completed.
func (r *ReportRepository) MarkCompleted(ctx context.Context, id string, file models.ReportFile, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports SET status = ?, file_handle = ?, file_name = ?, file_size = ?, file_type = ?, generated_at = ?
		WHERE id = ?`,
		models.ReportCompleted, file.Handle, file.Filename, file.Size, file.ContentType, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("completing report: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("report", id)
	}
	return nil
}

// MarkFailed records the failure reason and transitions to failed.
func (r *ReportRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reports SET status = ?, error_message = ? WHERE id = ?`,
		models.ReportFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("failing report: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("report", id)
	}
	return nil
}

// List returns a page of reports matching filter, newest-first.
func (r *ReportRepository) List(ctx context.Context, f ReportFilter, page, limit int) ([]*models.Report, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if f.Type != "" {
		where += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.GeneratedBy != "" {
		where += " AND generated_by = ?"
		args = append(args, f.GeneratedBy)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting reports: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var out []*models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning report row: %w", err)
		}
		out = append(out, rep)
	}
	return out, total, rows.Err()
}

// ListGenerating returns every report still in the `generating` state, for
// the worker to discover newly-enqueued jobs without a separate queue.
func (r *ReportRepository) ListGenerating(ctx context.Context) ([]*models.Report, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE status = ? ORDER BY created_at ASC`, models.ReportGenerating)
	if err != nil {
		return nil, fmt.Errorf("listing generating reports: %w", err)
	}
	defer rows.Close()
	var out []*models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// ListExpired returns reports whose expiresAt has passed.
func (r *ReportRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Report, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("listing expired reports: %w", err)
	}
	defer rows.Close()
	var out []*models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Delete removes a report row outright (the file handle must already have
// been deleted from object storage by the caller).
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("report", id)
	}
	return nil
}

// CountByStatus returns totals grouped by status, for the statistics endpoint.
func (r *ReportRepository) CountByStatus(ctx context.Context) (map[models.ReportStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting reports by status: %w", err)
	}
	defer rows.Close()
	out := map[models.ReportStatus]int{}
	for rows.Next() {
		var status models.ReportStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
