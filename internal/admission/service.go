package admission

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrDuplicateDay is returned by a Ledger when the daily uniqueness
// constraint rejects an insert. The constraint is the serialization point
// for concurrent admissions with the same (student, session, day) key.
var ErrDuplicateDay = errors.New("attendance already recorded for this session today")

// ScheduleSource supplies the currently configured attendance windows.
type ScheduleSource interface {
	ActiveWindows(ctx context.Context) ([]Window, error)
}

// GeofenceSource supplies the currently configured classroom geofences.
type GeofenceSource interface {
	ActiveGeofences(ctx context.Context) ([]Geofence, error)
}

// Ledger is the durable attendance record store. InsertDaily must enforce
// at-most-one record per (student, session, day) atomically and return
// ErrDuplicateDay when a concurrent or earlier insert won.
type Ledger interface {
	ExistsOn(ctx context.Context, studentID, sessionType string, day time.Time) (bool, error)
	InsertDaily(ctx context.Context, rec Record) (Record, error)
}

// Service runs the admission pipeline. It is stateless; every request reads
// current collaborator state at decision time.
type Service struct {
	schedule ScheduleSource
	fences   GeofenceSource
	ledger   Ledger
	loc      *time.Location
	timeout  time.Duration
	now      func() time.Time
}

// NewService creates an admission service. loc fixes the timezone for day
// boundaries and window checks; timeout bounds each collaborator call.
func NewService(schedule ScheduleSource, fences GeofenceSource, ledger Ledger, loc *time.Location, timeout time.Duration) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		schedule: schedule,
		fences:   fences,
		ledger:   ledger,
		loc:      loc,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Admit runs the gate chain for one request. callerID is the identity of the
// authenticated session, never taken from the request body. The first
// failing gate short-circuits; no write happens on any rejection path.
func (s *Service) Admit(ctx context.Context, callerID string, req Request) (Record, error) {
	rec, err := s.admit(ctx, callerID, req)
	countOutcome(err)
	return rec, err
}

func (s *Service) admit(ctx context.Context, callerID string, req Request) (Record, error) {
	if err := validate(req); err != nil {
		return Record{}, err
	}

	if req.StudentID != callerID {
		return Record{}, reject(KindIdentityMismatch, "student id does not match authenticated caller")
	}

	now := s.now().In(s.loc)

	windows, err := s.activeWindows(ctx)
	if err != nil {
		return Record{}, infra("attendance window check failed", err)
	}
	if !anyWindowMatches(windows, now) {
		return Record{}, reject(KindOutsideWindow, "current time is outside every active attendance window")
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	exists, err := s.existsOn(ctx, req.StudentID, req.SessionType, day)
	if err != nil {
		return Record{}, infra("duplicate check failed", err)
	}
	if exists {
		return Record{}, reject(KindDuplicate, "attendance already marked for this session today")
	}

	fences, err := s.activeGeofences(ctx)
	if err != nil {
		return Record{}, infra("location check failed", err)
	}
	// Zero configured fences fails closed.
	if !anyFenceContains(fences, req.Latitude, req.Longitude) {
		return Record{}, reject(KindLocationOutOfRange, "location is not within any classroom radius")
	}

	method := req.VerificationMethod
	if method == "" {
		method = "face_recognition"
	}
	rec, err := s.insertDaily(ctx, Record{
		StudentID:          req.StudentID,
		SessionType:        req.SessionType,
		Day:                day,
		MarkedAt:           now,
		Status:             "present",
		VerificationMethod: method,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateDay) {
			// A concurrent admission with the same key won the insert.
			return Record{}, reject(KindDuplicate, "attendance already marked for this session today")
		}
		return Record{}, infra("attendance commit failed", err)
	}
	return rec, nil
}

func validate(req Request) *Error {
	switch {
	case req.StudentID == "":
		return reject(KindInvalidRequest, "student_id is required")
	case req.SessionType == "":
		return reject(KindInvalidRequest, "session_type is required")
	case math.IsNaN(req.Latitude) || req.Latitude < -90 || req.Latitude > 90:
		return reject(KindInvalidRequest, "latitude must be within [-90, 90]")
	case math.IsNaN(req.Longitude) || req.Longitude < -180 || req.Longitude > 180:
		return reject(KindInvalidRequest, "longitude must be within [-180, 180]")
	}
	return nil
}

func anyWindowMatches(windows []Window, now time.Time) bool {
	for _, w := range windows {
		if w.Matches(now) {
			return true
		}
	}
	return false
}

func anyFenceContains(fences []Geofence, lat, lng float64) bool {
	for _, f := range fences {
		if f.Active && f.Contains(lat, lng) {
			return true
		}
	}
	return false
}

func (s *Service) activeWindows(ctx context.Context) ([]Window, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.schedule.ActiveWindows(ctx)
}

func (s *Service) existsOn(ctx context.Context, studentID, sessionType string, day time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ledger.ExistsOn(ctx, studentID, sessionType, day)
}

func (s *Service) activeGeofences(ctx context.Context) ([]Geofence, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.fences.ActiveGeofences(ctx)
}

func (s *Service) insertDaily(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ledger.InsertDaily(ctx, rec)
}
