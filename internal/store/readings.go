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

// ReadingRepository persists Reading rows.
type ReadingRepository struct {
	db *sql.DB
}

// ChannelRange is an optional [min,max] bound on one channel's value.
type ChannelRange struct {
	Min, Max *float64
}

// ReadingFilter narrows Query results.
type ReadingFilter struct {
	DeviceID   string
	Start, End *time.Time
	PH, Turbidity, TDS ChannelRange
}

const readingColumns = `id, device_id, timestamp, ph, ph_valid, turbidity, turbidity_valid, tds, tds_valid, created_at, is_deleted, deleted_at`

func scanReading(row interface{ Scan(...interface{}) error }) (*models.Reading, error) {
	var (
		rd                    models.Reading
		ph, turbidity, tds    sql.NullFloat64
		timestamp, createdAt  string
		deletedAt             sql.NullString
	)
	if err := row.Scan(
		&rd.ID, &rd.DeviceID, &timestamp, &ph, &rd.PHValid, &turbidity, &rd.TurbidValid, &tds, &rd.TDSValid,
		&createdAt, &rd.IsDeleted, &deletedAt,
	); err != nil {
		return nil, err
	}
	if ph.Valid {
		v := ph.Float64
		rd.PH = &v
	}
	if turbidity.Valid {
		v := turbidity.Float64
		rd.Turbidity = &v
	}
	if tds.Valid {
		v := tds.Float64
		rd.TDS = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		rd.Timestamp = t
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rd.CreatedAt = t
	}
	rd.DeletedAt = parseNullTime(deletedAt)
	return &rd, nil
}

// Insert persists a single reading, filling in id and createdAt when unset;
// validation is done by pkg/readings before this is called. No implicit device
// creation: the device must already exist, but that check is the caller's
// (pkg/readings') responsibility so this repository stays a pure CRUD layer.
func (r *ReadingRepository) Insert(ctx context.Context, rd *models.Reading) error {
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rd.ID, rd.DeviceID, formatTime(rd.Timestamp),
		nullableFloat(rd.PH), rd.PHValid, nullableFloat(rd.Turbidity), rd.TurbidValid, nullableFloat(rd.TDS), rd.TDSValid,
		formatTime(rd.CreatedAt), rd.IsDeleted, formatNullTime(rd.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// BulkInsert is best-effort: each row is attempted independently, and
// partial failures do not roll back already-accepted rows. Returns the
// count of accepted rows.
func (r *ReadingRepository) BulkInsert(ctx context.Context, readings []*models.Reading) (int, error) {
	accepted := 0
	for _, rd := range readings {
		if err := r.Insert(ctx, rd); err != nil {
			continue
		}
		accepted++
	}
	return accepted, nil
}

// Latest returns the most recent non-deleted reading for deviceId, or
// NotFoundError if there is none.
func (r *ReadingRepository) Latest(ctx context.Context, deviceID string) (*models.Reading, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+` FROM readings
		WHERE device_id = ? AND is_deleted = 0
		ORDER BY timestamp DESC LIMIT 1`, deviceID)
	rd, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("reading", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning latest reading: %w", err)
	}
	return rd, nil
}

func (f ReadingFilter) whereClause() (string, []interface{}) {
	where := "WHERE is_deleted = 0"
	var args []interface{}
	if f.DeviceID != "" {
		where += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.Start != nil {
		where += " AND timestamp >= ?"
		args = append(args, formatTime(*f.Start))
	}
	if f.End != nil {
		where += " AND timestamp <= ?"
		args = append(args, formatTime(*f.End))
	}
	for _, cr := range []struct {
		col string
		rng ChannelRange
	}{{"ph", f.PH}, {"turbidity", f.Turbidity}, {"tds", f.TDS}} {
		if cr.rng.Min != nil {
			where += fmt.Sprintf(" AND %s >= ?", cr.col)
			args = append(args, *cr.rng.Min)
		}
		if cr.rng.Max != nil {
			where += fmt.Sprintf(" AND %s <= ?", cr.col)
			args = append(args, *cr.rng.Max)
		}
	}
	return where, args
}

// Query returns a page of readings matching filter, newest-first.
func (r *ReadingRepository) Query(ctx context.Context, f ReadingFilter, page, limit int) ([]*models.Reading, int, error) {
	where, args := f.whereClause()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting readings: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings `+where+` ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var out []*models.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning reading row: %w", err)
		}
		out = append(out, rd)
	}
	return out, total, rows.Err()
}

// QueryRange returns every non-deleted reading in [start,end] for deviceId,
// ascending by timestamp — the raw material pkg/readings aggregates and
// summarizes in Go rather than pushing bucket math into SQL.
func (r *ReadingRepository) QueryRange(ctx context.Context, deviceID string, start, end time.Time) ([]*models.Reading, error) {
	q := `SELECT ` + readingColumns + ` FROM readings WHERE is_deleted = 0 AND timestamp >= ? AND timestamp <= ?`
	args := []interface{}{formatTime(start), formatTime(end)}
	if deviceID != "" {
		q += " AND device_id = ?"
		args = append(args, deviceID)
	}
	q += " ORDER BY timestamp ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reading range: %w", err)
	}
	defer rows.Close()

	var out []*models.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading row: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes readings whose createdAt predates the retention
// cutoff (§4.1: TTL sweep keyed on createdAt, not timestamp).
func (r *ReadingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging aged readings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CascadeSoftDelete marks every reading for deviceId deleted with the
// shared deletedAt, as part of the device soft-delete saga. Readings have no
// scheduled_permanent_deletion_at column, so scheduledPermanentDeletionAt is
// not stored; the purge date lives on the device row only.
func (r *ReadingRepository) CascadeSoftDelete(ctx context.Context, deviceID string, deletedAt, scheduledPermanentDeletionAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE readings SET is_deleted = 1, deleted_at = ?
		WHERE device_id = ? AND is_deleted = 0`,
		formatTime(deletedAt), deviceID)
	if err != nil {
		return fmt.Errorf("cascading reading soft-delete: %w", err)
	}
	return nil
}

// CascadeRecover clears the tombstone on every reading for deviceId that
// was cascaded from the device's own soft-delete.
func (r *ReadingRepository) CascadeRecover(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE readings SET is_deleted = 0, deleted_at = NULL
		WHERE device_id = ? AND is_deleted = 1`, deviceID)
	if err != nil {
		return fmt.Errorf("cascading reading recovery: %w", err)
	}
	return nil
}

// PermanentlyDeleteForDevices removes tombstoned readings whose permanent
// deletion date (tracked on the owning device) has passed. Callers pass the
// set of deviceIds whose window elapsed.
func (r *ReadingRepository) PermanentlyDeleteForDevices(ctx context.Context, deviceIDs []string) (int64, error) {
	var total int64
	for _, id := range deviceIDs {
		res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE device_id = ? AND is_deleted = 1`, id)
		if err != nil {
			return total, fmt.Errorf("purging cascaded readings for %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
