package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Profile is a registered student (or admin) account.
type Profile struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	RollNumber           string    `json:"roll_number,omitempty"`
	PhotoURL             string    `json:"photo_url,omitempty"`
	AttendancePercentage *float64  `json:"attendance_percentage,omitempty"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Device is a registered device fingerprint for a student.
type Device struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Fingerprint  string    `json:"fingerprint"`
	DeviceName   string    `json:"device_name,omitempty"`
	Status       string    `json:"status"`
	SwitchCount  int       `json:"switch_count"`
	RegisteredAt time.Time `json:"registered_at"`
	LastUsed     time.Time `json:"last_used"`
}

// Repository persists account data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const profileCols = `id, user_id, name, email, COALESCE(roll_number, ''), photo_url, attendance_percentage, status, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.RollNumber, &p.PhotoURL,
		&p.AttendancePercentage, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProfile inserts a profile with its password hash.
func (r *Repository) CreateProfile(ctx context.Context, p Profile, passwordHash string) (Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, user_id, name, email, roll_number, password_hash, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.Name, p.Email, p.RollNumber, passwordHash, p.Status)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// GetByEmail returns a profile and its password hash, or nil when absent.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Profile, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+profileCols+`, password_hash FROM profiles WHERE email = $1
	`, email)
	var p Profile
	var hash string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.RollNumber, &p.PhotoURL,
		&p.AttendancePercentage, &p.Status, &p.CreatedAt, &p.UpdatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &p, hash, nil
}

// GetByUserID returns a profile, or nil when absent.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+profileCols+` FROM profiles WHERE user_id = $1
	`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles ordered by name.
func (r *Repository) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+profileCols+` FROM profiles ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetPhotoURL stores the uploaded profile photo location.
func (r *Repository) SetPhotoURL(ctx context.Context, userID, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET photo_url = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, url)
	return err
}

// SetAttendancePercentage refreshes the cached percentage on the profile.
func (r *Repository) SetAttendancePercentage(ctx context.Context, userID string, pct float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET attendance_percentage = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, pct)
	return err
}

// AddRole grants a role, idempotently.
func (r *Repository) AddRole(ctx context.Context, userID, role string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)
	return err
}

// RolesFor returns the roles granted to a user.
func (r *Repository) RolesFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// RecordDevice upserts a device fingerprint for a student. A fingerprint the
// student has not used before starts with switch_count equal to the number
// of other fingerprints on file, which flags account sharing for review.
func (r *Repository) RecordDevice(ctx context.Context, studentID, fingerprint, deviceName string) error {
	if fingerprint == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_registrations (id, student_id, fingerprint, device_name, switch_count)
		VALUES ($1, $2, $3, NULLIF($4, ''),
			(SELECT COUNT(*) FROM device_registrations WHERE student_id = $2 AND fingerprint <> $3))
		ON CONFLICT (student_id, fingerprint) DO UPDATE SET
			last_used = NOW(),
			device_name = COALESCE(EXCLUDED.device_name, device_registrations.device_name)
	`, uuid.NewString(), studentID, fingerprint, deviceName)
	return err
}

// DevicesFor lists a student's registered devices, most recently used first.
func (r *Repository) DevicesFor(ctx context.Context, studentID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, fingerprint, COALESCE(device_name, ''), status, switch_count, registered_at, last_used
		FROM device_registrations
		WHERE student_id = $1
		ORDER BY last_used DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.StudentID, &d.Fingerprint, &d.DeviceName, &d.Status,
			&d.SwitchCount, &d.RegisteredAt, &d.LastUsed); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// failure, used to detect duplicate email registration.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
