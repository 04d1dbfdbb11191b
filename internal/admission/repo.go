package admission

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists admission state in Postgres. It implements
// ScheduleSource, GeofenceSource and Ledger for the pipeline and carries the
// admin configuration operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveWindows returns the enabled attendance windows.
func (r *Repository) ActiveWindows(ctx context.Context) ([]Window, error) {
	return r.listWindows(ctx, true)
}

// ListWindows returns every configured window, active or not.
func (r *Repository) ListWindows(ctx context.Context) ([]Window, error) {
	return r.listWindows(ctx, false)
}

func (r *Repository) listWindows(ctx context.Context, activeOnly bool) ([]Window, error) {
	query := `
		SELECT id, session_name, start_time, end_time, days_active, active_status, created_at
		FROM attendance_windows`
	if activeOnly {
		query += ` WHERE active_status`
	}
	query += ` ORDER BY start_time`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Window
	for rows.Next() {
		var w Window
		var days string
		if err := rows.Scan(&w.ID, &w.SessionName, &w.StartTime, &w.EndTime, &days, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.DaysActive = splitDays(days)
		res = append(res, w)
	}
	return res, rows.Err()
}

// CreateWindow stores a new attendance window.
func (r *Repository) CreateWindow(ctx context.Context, w Window) (Window, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if _, err := parseClock(w.StartTime); err != nil {
		return Window{}, err
	}
	if _, err := parseClock(w.EndTime); err != nil {
		return Window{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_windows (id, session_name, start_time, end_time, days_active, active_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, w.ID, w.SessionName, w.StartTime, w.EndTime, joinDays(w.DaysActive), w.Active)
	if err := row.Scan(&w.CreatedAt); err != nil {
		return Window{}, err
	}
	return w, nil
}

// SetWindowActive toggles a window.
func (r *Repository) SetWindowActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance_windows SET active_status = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ActiveGeofences returns the enabled classroom locations.
func (r *Repository) ActiveGeofences(ctx context.Context) ([]Geofence, error) {
	return r.listGeofences(ctx, true)
}

// ListGeofences returns every configured location, active or not.
func (r *Repository) ListGeofences(ctx context.Context) ([]Geofence, error) {
	return r.listGeofences(ctx, false)
}

func (r *Repository) listGeofences(ctx context.Context, activeOnly bool) ([]Geofence, error) {
	query := `
		SELECT id, name, latitude, longitude, radius_m, active_status, created_at
		FROM locations`
	if activeOnly {
		query += ` WHERE active_status`
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Geofence
	for rows.Next() {
		var g Geofence
		if err := rows.Scan(&g.ID, &g.Name, &g.Latitude, &g.Longitude, &g.RadiusMeters, &g.Active, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// CreateGeofence stores a new classroom location.
func (r *Repository) CreateGeofence(ctx context.Context, g Geofence) (Geofence, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO locations (id, name, latitude, longitude, radius_m, active_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, g.ID, g.Name, g.Latitude, g.Longitude, g.RadiusMeters, g.Active)
	if err := row.Scan(&g.CreatedAt); err != nil {
		return Geofence{}, err
	}
	return g, nil
}

// SetGeofenceActive toggles a location.
func (r *Repository) SetGeofenceActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE locations SET active_status = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ExistsOn reports whether a record already exists for the key on the given day.
func (r *Repository) ExistsOn(ctx context.Context, studentID, sessionType string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = $1 AND session_type = $2 AND day = $3
		)
	`, studentID, sessionType, day.Format(time.DateOnly)).Scan(&exists)
	return exists, err
}

// InsertDaily writes one attendance record. The unique index on
// (student_id, session_type, day) makes the insert the serialization point:
// a losing concurrent insert surfaces as ErrDuplicateDay.
func (r *Repository) InsertDaily(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, session_type, day, marked_at, status, verification_method, location_lat, location_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, session_type, day) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.SessionType, rec.Day.Format(time.DateOnly), rec.MarkedAt,
		rec.Status, rec.VerificationMethod, rec.Latitude, rec.Longitude)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return Record{}, ErrDuplicateDay
		}
		return Record{}, err
	}
	return rec, nil
}

// History returns a student's records, newest first.
func (r *Repository) History(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, session_type, day, marked_at, status, verification_method, location_lat, location_lng, created_at
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY marked_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionType, &rec.Day, &rec.MarkedAt,
			&rec.Status, &rec.VerificationMethod, &rec.Latitude, &rec.Longitude, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// PresentDays returns the number of distinct days the student has any record
// and the earliest such day. firstDay is zero when no records exist.
func (r *Repository) PresentDays(ctx context.Context, studentID string) (int, time.Time, error) {
	var count int
	var first sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT day), MIN(day)
		FROM attendance_records
		WHERE student_id = $1
	`, studentID).Scan(&count, &first)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !first.Valid {
		return 0, time.Time{}, nil
	}
	return count, first.Time, nil
}

// AuditEntry is one row of the mutation trail.
type AuditEntry struct {
	ID          string    `json:"id"`
	TableName   string    `json:"table_name"`
	RecordID    string    `json:"record_id"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// AppendAudit writes one audit row.
func (r *Repository) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, table_name, record_id, action, performed_by, reason, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.TableName, e.RecordID, e.Action, e.PerformedBy, e.Reason, e.PerformedAt)
	return err
}

// ListAudit returns audit rows, newest first.
func (r *Repository) ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, action, COALESCE(performed_by, ''), COALESCE(reason, ''), performed_at
		FROM audit_logs
		ORDER BY performed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &e.PerformedBy, &e.Reason, &e.PerformedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// failure (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func splitDays(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func joinDays(days []string) string {
	return strings.Join(days, ",")
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
