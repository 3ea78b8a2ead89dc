package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/google/uuid"
)

// AlertRepository persists Alert rows.
type AlertRepository struct {
	db *sql.DB
}

// AlertFilter narrows List/ResolveAll queries.
type AlertFilter struct {
	DeviceID     string
	Severity     models.Severity
	Status       models.AlertStatus
	Parameter    models.Channel
	Acknowledged *bool
	Start, End   *time.Time
}

const alertColumns = `id, device_id, parameter, severity, value, threshold, current_value, message,
	status, acknowledged, acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution_notes,
	occurrence_count, first_occurrence, last_occurrence, email_sent, created_at, dedup_window, is_deleted, deleted_at`

func scanAlert(row interface{ Scan(...interface{}) error }) (*models.Alert, error) {
	var (
		a                                                     models.Alert
		ackAt, resolvedAt, createdAt, deletedAt               sql.NullString
		ackBy, resolvedBy, resolutionNotes                    sql.NullString
		firstOcc, lastOcc                                     string
	)
	if err := row.Scan(
		&a.ID, &a.DeviceID, &a.Parameter, &a.Severity, &a.Value, &a.Threshold, &a.CurrentValue, &a.Message,
		&a.Status, &a.Acknowledged, &ackAt, &ackBy, &resolvedAt, &resolvedBy, &resolutionNotes,
		&a.OccurrenceCount, &firstOcc, &lastOcc, &a.EmailSent, &createdAt, &a.DedupWindow, &a.IsDeleted, &deletedAt,
	); err != nil {
		return nil, err
	}
	a.AcknowledgedAt = parseNullTime(ackAt)
	a.AcknowledgedBy = ackBy.String
	a.ResolvedAt = parseNullTime(resolvedAt)
	a.ResolvedBy = resolvedBy.String
	a.ResolutionNotes = resolutionNotes.String
	a.DeletedAt = parseNullTime(deletedAt)
	if t, err := time.Parse(time.RFC3339Nano, firstOcc); err == nil {
		a.FirstOccurrence = t
	}
	if t, err := time.Parse(time.RFC3339Nano, lastOcc); err == nil {
		a.LastOccurrence = t
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

// Insert attempts to create a new open alert. Returns an error satisfying
// store.IsUniqueConstraint if a concurrent evaluation already won creation
// for the same (deviceId, parameter, severity, dedupWindow, open) tuple —
// the caller retries as a merge. Unlike CreatedAt/DedupWindow, which the
// caller always supplies (they anchor the cooldown math), a zero CreatedAt
// is still defaulted defensively.
func (r *AlertRepository) Insert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?)`,
		a.ID, a.DeviceID, a.Parameter, a.Severity, a.Value, a.Threshold, a.CurrentValue, a.Message,
		a.Status, a.Acknowledged, formatNullTime(a.AcknowledgedAt), nullIfEmpty(a.AcknowledgedBy),
		formatNullTime(a.ResolvedAt), nullIfEmpty(a.ResolvedBy), nullIfEmpty(a.ResolutionNotes),
		a.OccurrenceCount, formatTime(a.FirstOccurrence), formatTime(a.LastOccurrence), a.EmailSent,
		formatTime(a.CreatedAt), a.DedupWindow, a.IsDeleted, formatNullTime(a.DeletedAt),
	)
	return err
}

// FindMostRecentOpenForParameter returns the newest not-acknowledged,
// not-deleted alert for (deviceId,parameter,severity) created at/after
// cutoff, the lookup pkg/alerts uses to decide whether a threshold crossing
// merges into an existing alert or opens a new one. severity is part of
// the lookup key so a repeat crossing only ever merges into an open alert of
// the same severity it just crossed, matching the uniqueness index's grain.
func (r *AlertRepository) FindMostRecentOpenForParameter(ctx context.Context, deviceID string, parameter models.Channel, severity models.Severity, cutoff time.Time) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE device_id = ? AND parameter = ? AND severity = ? AND acknowledged = 0 AND is_deleted = 0 AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, deviceID, parameter, severity, formatTime(cutoff))
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("alert", fmt.Sprintf("%s/%s/%s", deviceID, parameter, severity))
	}
	if err != nil {
		return nil, fmt.Errorf("scanning open alert: %w", err)
	}
	return a, nil
}

// MergeOccurrence atomically folds a repeat crossing into an existing alert.
func (r *AlertRepository) MergeOccurrence(ctx context.Context, alertID string, currentValue float64, lastOccurrence time.Time) (*models.Alert, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET current_value = ?, last_occurrence = ?, occurrence_count = occurrence_count + 1
		WHERE id = ?`, currentValue, formatTime(lastOccurrence), alertID)
	if err != nil {
		return nil, fmt.Errorf("merging alert occurrence: %w", err)
	}
	return r.Get(ctx, alertID)
}

// Get returns an alert by id, including soft-deleted rows (callers that
// need the default-excludes-deleted view should check IsDeleted themselves
// or use List).
func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("alert", alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning alert: %w", err)
	}
	return a, nil
}

// Acknowledge performs a compare-and-set: only succeeds if the alert's
// current status is unacknowledged. Returns ConflictError otherwise.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID, userID string, now time.Time) (*models.Alert, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, acknowledged = 1, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND status = ? AND is_deleted = 0`,
		models.AlertAcknowledged, formatTime(now), userID, alertID, models.AlertUnacknowledged)
	if err != nil {
		return nil, fmt.Errorf("acknowledging alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		existing, getErr := r.Get(ctx, alertID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, perr.NewConflict("alert %s is already %s", alertID, existing.Status)
	}
	return r.Get(ctx, alertID)
}

// Resolve performs a compare-and-set: fails with ConflictError if already
// resolved. Sets acknowledged fields too if they were not already set.
func (r *AlertRepository) Resolve(ctx context.Context, alertID, userID, notes string, now time.Time) (*models.Alert, error) {
	existing, err := r.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if existing.Status == models.AlertResolved {
		return nil, perr.NewConflict("alert %s is already resolved", alertID)
	}

	ackAt := existing.AcknowledgedAt
	ackBy := existing.AcknowledgedBy
	if ackAt == nil {
		ackAt = &now
		ackBy = userID
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, acknowledged = 1, acknowledged_at = ?, acknowledged_by = ?,
			resolved_at = ?, resolved_by = ?, resolution_notes = ?
		WHERE id = ? AND status != ? AND is_deleted = 0`,
		models.AlertResolved, formatTime(*ackAt), ackBy, formatTime(now), userID, nullIfEmpty(notes),
		alertID, models.AlertResolved)
	if err != nil {
		return nil, fmt.Errorf("resolving alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, perr.NewConflict("alert %s is already resolved", alertID)
	}
	return r.Get(ctx, alertID)
}

// ResolveAll bulk-resolves every alert matching filter that is not already
// resolved, returning the count affected.
func (r *AlertRepository) ResolveAll(ctx context.Context, userID, notes string, f AlertFilter, now time.Time) (int64, error) {
	where, args := f.whereClauseExcludingAck()
	where += " AND status != ?"
	args = append(args, models.AlertResolved)

	q := fmt.Sprintf(`
		UPDATE alerts SET status = ?, acknowledged = 1,
			acknowledged_at = COALESCE(acknowledged_at, ?), acknowledged_by = COALESCE(NULLIF(acknowledged_by,''), ?),
			resolved_at = ?, resolved_by = ?, resolution_notes = ?
		%s`, where)
	fullArgs := append([]interface{}{models.AlertResolved, formatTime(now), userID, formatTime(now), userID, nullIfEmpty(notes)}, args...)

	res, err := r.db.ExecContext(ctx, q, fullArgs...)
	if err != nil {
		return 0, fmt.Errorf("bulk-resolving alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResolveAllIDs returns the ids that a ResolveAll call (with the same
// filter, evaluated just before the update) would affect — used by
// pkg/alerts to emit one alertResolved event per affected alert.
func (r *AlertRepository) ResolveAllIDs(ctx context.Context, f AlertFilter) ([]string, error) {
	where, args := f.whereClauseExcludingAck()
	where += " AND status != ?"
	args = append(args, models.AlertResolved)

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM alerts "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resolve-all candidates: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (f AlertFilter) whereClauseExcludingAck() (string, []interface{}) {
	where := "WHERE is_deleted = 0"
	var args []interface{}
	if f.DeviceID != "" {
		where += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.Severity != "" {
		where += " AND severity = ?"
		args = append(args, f.Severity)
	}
	if f.Parameter != "" {
		where += " AND parameter = ?"
		args = append(args, f.Parameter)
	}
	return where, args
}

func (f AlertFilter) whereClause() (string, []interface{}) {
	where, args := f.whereClauseExcludingAck()
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Acknowledged != nil {
		where += " AND acknowledged = ?"
		args = append(args, *f.Acknowledged)
	}
	if f.Start != nil {
		where += " AND created_at >= ?"
		args = append(args, formatTime(*f.Start))
	}
	if f.End != nil {
		where += " AND created_at <= ?"
		args = append(args, formatTime(*f.End))
	}
	return where, args
}

// List returns a page of alerts matching filter, newest-first.
func (r *AlertRepository) List(ctx context.Context, f AlertFilter, page, limit int) ([]*models.Alert, int, error) {
	where, args := f.whereClause()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting alerts: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// CountUnacknowledged returns the number of open, not-deleted alerts.
func (r *AlertRepository) CountUnacknowledged(ctx context.Context, deviceID string) (int, error) {
	q := `SELECT COUNT(*) FROM alerts WHERE acknowledged = 0 AND is_deleted = 0`
	var args []interface{}
	if deviceID != "" {
		q += " AND device_id = ?"
		args = append(args, deviceID)
	}
	var count int
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&count)
	return count, err
}

// Statistics computes totals grouped by severity, status, and parameter.
type Statistics struct {
	Total       int
	BySeverity  map[models.Severity]int
	ByStatus    map[models.AlertStatus]int
	ByParameter map[models.Channel]int
}

// Statistics aggregates alert counts, optionally scoped to one device.
func (r *AlertRepository) Statistics(ctx context.Context, deviceID string) (*Statistics, error) {
	q := `SELECT severity, status, parameter FROM alerts WHERE is_deleted = 0`
	var args []interface{}
	if deviceID != "" {
		q += " AND device_id = ?"
		args = append(args, deviceID)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alert statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{
		BySeverity:  map[models.Severity]int{},
		ByStatus:    map[models.AlertStatus]int{},
		ByParameter: map[models.Channel]int{},
	}
	for rows.Next() {
		var sev models.Severity
		var status models.AlertStatus
		var param models.Channel
		if err := rows.Scan(&sev, &status, &param); err != nil {
			return nil, err
		}
		stats.Total++
		stats.BySeverity[sev]++
		stats.ByStatus[status]++
		stats.ByParameter[param]++
	}
	return stats, rows.Err()
}

// SoftDelete marks a single alert deleted (operator-initiated, not a
// device-cascade).
func (r *AlertRepository) SoftDelete(ctx context.Context, alertID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET is_deleted = 1, deleted_at = ? WHERE id = ? AND is_deleted = 0`,
		formatTime(now), alertID)
	if err != nil {
		return fmt.Errorf("soft-deleting alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("alert", alertID)
	}
	return nil
}

// CascadeSoftDelete marks every alert for deviceId deleted with the shared
// tombstone timestamp, as part of the device soft-delete saga.
func (r *AlertRepository) CascadeSoftDelete(ctx context.Context, deviceID string, deletedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET is_deleted = 1, deleted_at = ? WHERE device_id = ? AND is_deleted = 0`,
		formatTime(deletedAt), deviceID)
	if err != nil {
		return fmt.Errorf("cascading alert soft-delete: %w", err)
	}
	return nil
}

// CascadeRecover clears the tombstone on every alert cascaded from the
// device's own soft-delete.
func (r *AlertRepository) CascadeRecover(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET is_deleted = 0, deleted_at = NULL WHERE device_id = ? AND is_deleted = 1`, deviceID)
	if err != nil {
		return fmt.Errorf("cascading alert recovery: %w", err)
	}
	return nil
}

// SetEmailSent records the outcome of a best-effort notification attempt.
func (r *AlertRepository) SetEmailSent(ctx context.Context, alertID string, sent bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET email_sent = ? WHERE id = ?`, sent, alertID)
	return err
}
