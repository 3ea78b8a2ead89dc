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

// DeviceRepository persists Device rows.
type DeviceRepository struct {
	db *sql.DB
}

// DeviceFilter narrows List/Count queries. Zero values mean "unfiltered".
type DeviceFilter struct {
	Status             models.DeviceStatus
	RegistrationStatus models.RegistrationStatus
	IsRegistered        *bool
	Search              string
	IncludeDeleted      bool
	OnlyDeleted         bool
}

func scanDevice(row interface{ Scan(...interface{}) error }) (*models.Device, error) {
	var (
		d                                                       models.Device
		sensorsJSON                                             string
		building, floor, notes                                  sql.NullString
		registeredAt, lastSeen, deletedAt, scheduledPermanentDel sql.NullString
	)
	if err := row.Scan(
		&d.ID, &d.DeviceID, &d.Name, &d.Type, &d.FirmwareVersion, &d.MACAddress, &d.IPAddress,
		&sensorsJSON, &building, &floor, &notes,
		&d.Status, &d.RegistrationStatus, &d.IsRegistered, &registeredAt, &lastSeen,
		&d.CreatedAt, &d.UpdatedAt, &d.IsDeleted, &deletedAt, &scheduledPermanentDel,
	); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(sensorsJSON), &d.Sensors)
	d.Location = models.Location{Building: building.String, Floor: floor.String, Notes: notes.String}
	d.RegisteredAt = parseNullTime(registeredAt)
	d.LastSeen = parseNullTime(lastSeen)
	d.DeletedAt = parseNullTime(deletedAt)
	d.ScheduledPermanentDeletionAt = parseNullTime(scheduledPermanentDel)
	return &d, nil
}

const deviceColumns = `id, device_id, name, type, firmware_version, mac_address, ip_address,
	sensors, location_building, location_floor, location_notes,
	status, registration_status, is_registered, registered_at, last_seen,
	created_at, updated_at, is_deleted, deleted_at, scheduled_permanent_deletion_at`

// Get returns a device by its internal id or external deviceId, excluding
// soft-deleted rows unless includeDeleted is set.
func (r *DeviceRepository) Get(ctx context.Context, idOrDeviceID string, includeDeleted bool) (*models.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE (id = ? OR device_id = ?)`
	if !includeDeleted {
		q += ` AND is_deleted = 0`
	}
	row := r.db.QueryRowContext(ctx, q, idOrDeviceID, idOrDeviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("device", idOrDeviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return d, nil
}

// GetByDeviceID is a convenience wrapper for the common exact-key lookup.
func (r *DeviceRepository) GetByDeviceID(ctx context.Context, deviceID string, includeDeleted bool) (*models.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = ?`
	if !includeDeleted {
		q += ` AND is_deleted = 0`
	}
	row := r.db.QueryRowContext(ctx, q, deviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, perr.NewNotFound("device", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return d, nil
}

// Insert creates a brand new device row.
func (r *DeviceRepository) Insert(ctx context.Context, d *models.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	sensorsJSON, _ := json.Marshal(d.Sensors)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?, ?,?,?,?,?, ?,?,?,?,?)`,
		d.ID, d.DeviceID, d.Name, d.Type, d.FirmwareVersion, d.MACAddress, d.IPAddress,
		string(sensorsJSON), nullIfEmpty(d.Location.Building), nullIfEmpty(d.Location.Floor), nullIfEmpty(d.Location.Notes),
		d.Status, d.RegistrationStatus, d.IsRegistered, formatNullTime(d.RegisteredAt), formatNullTime(d.LastSeen),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt), d.IsDeleted, formatNullTime(d.DeletedAt), formatNullTime(d.ScheduledPermanentDeletionAt),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update persists the full mutable state of an existing device row.
func (r *DeviceRepository) Update(ctx context.Context, d *models.Device) error {
	d.UpdatedAt = time.Now().UTC()
	sensorsJSON, _ := json.Marshal(d.Sensors)
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, firmware_version = ?, mac_address = ?, ip_address = ?,
			sensors = ?, location_building = ?, location_floor = ?, location_notes = ?,
			status = ?, registration_status = ?, is_registered = ?, registered_at = ?, last_seen = ?,
			updated_at = ?, is_deleted = ?, deleted_at = ?, scheduled_permanent_deletion_at = ?
		WHERE id = ?`,
		d.Name, d.Type, d.FirmwareVersion, d.MACAddress, d.IPAddress,
		string(sensorsJSON), nullIfEmpty(d.Location.Building), nullIfEmpty(d.Location.Floor), nullIfEmpty(d.Location.Notes),
		d.Status, d.RegistrationStatus, d.IsRegistered, formatNullTime(d.RegisteredAt), formatNullTime(d.LastSeen),
		formatTime(d.UpdatedAt), d.IsDeleted, formatNullTime(d.DeletedAt), formatNullTime(d.ScheduledPermanentDeletionAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", d.ID)
	}
	return nil
}

// UpdateHeartbeat atomically sets status=online, lastSeen=now.
func (r *DeviceRepository) UpdateHeartbeat(ctx context.Context, deviceID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, last_seen = ?, updated_at = ?
		WHERE device_id = ? AND is_deleted = 0`,
		models.DeviceOnline, formatTime(now), formatTime(now), deviceID)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", deviceID)
	}
	return nil
}

// UpdateLastSeenOnly touches lastSeen without flipping status — used for
// plain sensor-data traffic, which must not itself mark a device online.
func (r *DeviceRepository) UpdateLastSeenOnly(ctx context.Context, deviceID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen = ?, updated_at = ?
		WHERE device_id = ? AND is_deleted = 0`,
		formatTime(now), formatTime(now), deviceID)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", deviceID)
	}
	return nil
}

// UpdateStatus sets only the device's presence status.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, updated_at = ? WHERE device_id = ? AND is_deleted = 0`,
		status, formatTime(now), deviceID)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", deviceID)
	}
	return nil
}

// SweepOffline flips every online device whose lastSeen is older than
// threshold to offline, returning the deviceIds that transitioned.
func (r *DeviceRepository) SweepOffline(ctx context.Context, threshold time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-threshold)
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id FROM devices
		WHERE status = ? AND is_deleted = 0 AND last_seen IS NOT NULL AND last_seen < ?`,
		models.DeviceOnline, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying stale devices: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, updated_at = ?
		WHERE status = ? AND is_deleted = 0 AND last_seen IS NOT NULL AND last_seen < ?`,
		models.DeviceOffline, formatTime(now), models.DeviceOnline, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("sweeping offline devices: %w", err)
	}
	return ids, nil
}

// SoftDelete marks a device (and only the device row; cascading the
// tombstone to its readings/alerts is the caller's responsibility) deleted.
func (r *DeviceRepository) SoftDelete(ctx context.Context, deviceID string, deletedAt, scheduledPermanentDeletionAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_deleted = 1, deleted_at = ?, scheduled_permanent_deletion_at = ?, updated_at = ?
		WHERE device_id = ? AND is_deleted = 0`,
		formatTime(deletedAt), formatTime(scheduledPermanentDeletionAt), formatTime(deletedAt), deviceID)
	if err != nil {
		return fmt.Errorf("soft-deleting device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", deviceID)
	}
	return nil
}

// Recover clears a device's tombstone fields.
func (r *DeviceRepository) Recover(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_deleted = 0, deleted_at = NULL, scheduled_permanent_deletion_at = NULL, updated_at = ?
		WHERE device_id = ? AND is_deleted = 1`,
		formatTime(time.Now().UTC()), deviceID)
	if err != nil {
		return fmt.Errorf("recovering device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perr.NewNotFound("device", deviceID)
	}
	return nil
}

// PermanentlyDeleteExpired removes device rows (and only the device row)
// whose recovery window has passed.
func (r *DeviceRepository) PermanentlyDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM devices WHERE is_deleted = 1 AND scheduled_permanent_deletion_at IS NOT NULL AND scheduled_permanent_deletion_at < ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purging expired devices: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns a page of devices matching filter, newest-first by creation.
func (r *DeviceRepository) List(ctx context.Context, f DeviceFilter, page, limit int) ([]*models.Device, int, error) {
	where := "WHERE 1=1"
	var args []interface{}

	switch {
	case f.OnlyDeleted:
		where += " AND is_deleted = 1"
	case !f.IncludeDeleted:
		where += " AND is_deleted = 0"
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.RegistrationStatus != "" {
		where += " AND registration_status = ?"
		args = append(args, f.RegistrationStatus)
	}
	if f.IsRegistered != nil {
		where += " AND is_registered = ?"
		args = append(args, *f.IsRegistered)
	}
	if f.Search != "" {
		where += " AND (name LIKE ? OR device_id LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting devices: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning device row: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// DeviceStatistics summarizes registry counts for the /devices/stats
// endpoint, grouped the same way AlertRepository.Statistics groups alerts.
type DeviceStatistics struct {
	Total      int
	ByStatus   map[models.DeviceStatus]int
	ByRegistration map[models.RegistrationStatus]int
	Pending    int
	Deleted    int
}

// Statistics tallies non-deleted devices by presence/registration status,
// plus the pending-approval and soft-deleted counts.
func (r *DeviceRepository) Statistics(ctx context.Context) (*DeviceStatistics, error) {
	stats := &DeviceStatistics{
		ByStatus:       map[models.DeviceStatus]int{},
		ByRegistration: map[models.RegistrationStatus]int{},
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, registration_status FROM devices WHERE is_deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("querying device statistics: %w", err)
	}
	for rows.Next() {
		var status models.DeviceStatus
		var reg models.RegistrationStatus
		if err := rows.Scan(&status, &reg); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Total++
		stats.ByStatus[status]++
		stats.ByRegistration[reg]++
		if reg == models.RegistrationPending {
			stats.Pending++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE is_deleted = 1`).Scan(&stats.Deleted); err != nil {
		return nil, fmt.Errorf("counting deleted devices: %w", err)
	}
	return stats, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
