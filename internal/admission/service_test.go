package admission

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchedule struct {
	windows []Window
	err     error
	calls   int
}

func (f *fakeSchedule) ActiveWindows(ctx context.Context) ([]Window, error) {
	f.calls++
	return f.windows, f.err
}

type fakeFences struct {
	fences []Geofence
	err    error
}

func (f *fakeFences) ActiveGeofences(ctx context.Context) ([]Geofence, error) {
	return f.fences, f.err
}

// fakeLedger emulates the daily uniqueness constraint with a mutex, the way
// the Postgres unique index serializes concurrent inserts.
type fakeLedger struct {
	mu        sync.Mutex
	records   map[string]Record
	existsErr error
	insertErr error
	inserts   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]Record)}
}

func ledgerKey(studentID, sessionType string, day time.Time) string {
	return studentID + "|" + sessionType + "|" + day.Format(time.DateOnly)
}

func (f *fakeLedger) ExistsOn(ctx context.Context, studentID, sessionType string, day time.Time) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[ledgerKey(studentID, sessionType, day)]
	return ok, nil
}

func (f *fakeLedger) InsertDaily(ctx context.Context, rec Record) (Record, error) {
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(rec.StudentID, rec.SessionType, rec.Day)
	if _, ok := f.records[key]; ok {
		return Record{}, ErrDuplicateDay
	}
	rec.ID = key
	rec.CreatedAt = rec.MarkedAt
	f.records[key] = rec
	f.inserts++
	return rec, nil
}

var morningWindow = Window{
	SessionName: "morning",
	StartTime:   "09:45",
	EndTime:     "10:45",
	Active:      true,
}

// classroom at the origin of the test grid, 50m radius
var classroom = Geofence{
	Name:         "lab-1",
	Latitude:     12.9716,
	Longitude:    77.5946,
	RadiusMeters: 50,
	Active:       true,
}

func validRequest() Request {
	return Request{
		StudentID:   "student-1",
		SessionType: "morning",
		Latitude:    classroom.Latitude,
		Longitude:   classroom.Longitude,
	}
}

func newTestService(schedule ScheduleSource, fences GeofenceSource, ledger Ledger, at time.Time) *Service {
	s := NewService(schedule, fences, ledger, time.UTC, time.Second)
	s.now = func() time.Time { return at }
	return s
}

// ten o'clock on a Wednesday
var tenAM = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func TestAdmitSuccess(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	rec, err := s.Admit(context.Background(), "student-1", validRequest())
	require.NoError(t, err)
	assert.Equal(t, "present", rec.Status)
	assert.Equal(t, "face_recognition", rec.VerificationMethod)
	assert.Equal(t, "morning", rec.SessionType)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), rec.Day)
	assert.Equal(t, 1, ledger.inserts)
}

func TestAdmitSecondCallIsDuplicate(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	require.NoError(t, err)

	_, err = s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindDuplicate)
	assert.Equal(t, 1, ledger.inserts)
}

func TestAdmitOutsideWindow(t *testing.T) {
	noon := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, noon)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindOutsideWindow)
	assert.Zero(t, ledger.inserts, "rejection must not write")
}

func TestAdmitLocationOutOfRange(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	req := validRequest()
	req.Latitude += 0.0045 // roughly 500m north
	_, err := s.Admit(context.Background(), "student-1", req)
	requireKind(t, err, KindLocationOutOfRange)
	assert.Zero(t, ledger.inserts)
}

func TestAdmitIdentityMismatchBeforeCollaborators(t *testing.T) {
	schedule := &fakeSchedule{windows: []Window{morningWindow}}
	ledger := newFakeLedger()
	s := newTestService(schedule, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	_, err := s.Admit(context.Background(), "someone-else", validRequest())
	requireKind(t, err, KindIdentityMismatch)
	assert.Zero(t, schedule.calls, "identity check must run before window lookup")
	assert.Zero(t, ledger.inserts)
}

func TestAdmitFieldCheckBeforeIdentity(t *testing.T) {
	s := newTestService(&fakeSchedule{}, &fakeFences{}, newFakeLedger(), tenAM)

	req := validRequest()
	req.Latitude = 123 // invalid, and caller does not match either
	_, err := s.Admit(context.Background(), "someone-else", req)
	requireKind(t, err, KindInvalidRequest)
}

func TestAdmitFailsClosedWithoutFences(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{}, ledger, tenAM)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindLocationOutOfRange)
	assert.Zero(t, ledger.inserts)
}

func TestAdmitIgnoresInactiveFences(t *testing.T) {
	off := classroom
	off.Active = false
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{off}}, newFakeLedger(), tenAM)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindLocationOutOfRange)
}

func TestAdmitAtMostOncePerDayUnderConcurrency(t *testing.T) {
	ledger := newFakeLedger()
	// ExistsOn is always false until an insert lands, so concurrent calls
	// race to the constraint exactly like two requests hitting Postgres.
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Admit(context.Background(), "student-1", validRequest())
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		requireKind(t, err, KindDuplicate)
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, ledger.inserts)
}

func TestAdmitInsertConflictMapsToDuplicate(t *testing.T) {
	ledger := newFakeLedger()
	ledger.insertErr = ErrDuplicateDay
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindDuplicate)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.False(t, aerr.Retryable())
}

func TestAdmitCollaboratorFailures(t *testing.T) {
	boom := errors.New("connection refused")

	cases := []struct {
		name     string
		schedule ScheduleSource
		fences   GeofenceSource
		ledger   Ledger
	}{
		{"schedule read fails", &fakeSchedule{err: boom}, &fakeFences{fences: []Geofence{classroom}}, newFakeLedger()},
		{"duplicate check fails", &fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, &fakeLedger{existsErr: boom}},
		{"fence read fails", &fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{err: boom}, newFakeLedger()},
		{"commit fails", &fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, &fakeLedger{records: map[string]Record{}, insertErr: boom}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(tc.schedule, tc.fences, tc.ledger, tenAM)
			_, err := s.Admit(context.Background(), "student-1", validRequest())
			requireKind(t, err, KindCommitFailed)
			var aerr *Error
			require.ErrorAs(t, err, &aerr)
			assert.True(t, aerr.Retryable())
			assert.ErrorIs(t, err, boom, "the collaborator error must not be swallowed")
		})
	}
}

// hungSchedule never answers; it waits out the per-call deadline.
type hungSchedule struct{}

func (hungSchedule) ActiveWindows(ctx context.Context) ([]Window, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAdmitHungCollaboratorTimesOut(t *testing.T) {
	ledger := newFakeLedger()
	s := NewService(hungSchedule{}, &fakeFences{fences: []Geofence{classroom}}, ledger, time.UTC, 50*time.Millisecond)
	s.now = func() time.Time { return tenAM }

	start := time.Now()
	_, err := s.Admit(context.Background(), "student-1", validRequest())
	elapsed := time.Since(start)

	requireKind(t, err, KindCommitFailed)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.True(t, aerr.Retryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second, "call must abort once the collaborator budget expires")
	assert.Zero(t, ledger.inserts, "no write after a timed-out collaborator")
}

func TestAdmitValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing student id", func(r *Request) { r.StudentID = "" }},
		{"missing session type", func(r *Request) { r.SessionType = "" }},
		{"latitude too low", func(r *Request) { r.Latitude = -90.1 }},
		{"latitude too high", func(r *Request) { r.Latitude = 90.1 }},
		{"longitude too low", func(r *Request) { r.Longitude = -180.1 }},
		{"longitude too high", func(r *Request) { r.Longitude = 180.1 }},
		{"latitude absent", func(r *Request) { r.Latitude = math.NaN() }},
		{"longitude absent", func(r *Request) { r.Longitude = math.NaN() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(&fakeSchedule{}, &fakeFences{}, newFakeLedger(), tenAM)
			req := validRequest()
			tc.mutate(&req)
			_, err := s.Admit(context.Background(), req.StudentID, req)
			requireKind(t, err, KindInvalidRequest)
		})
	}
}

func TestAdmitDayBoundaryUsesConfiguredZone(t *testing.T) {
	ist := time.FixedZone("IST", 19800) // UTC+05:30
	// 20:00 UTC on March 4 is 01:30 IST on March 5.
	at := time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC)
	night := Window{SessionName: "late", StartTime: "00:00", EndTime: "23:59", Active: true}

	ledger := newFakeLedger()
	s := NewService(&fakeSchedule{windows: []Window{night}}, &fakeFences{fences: []Geofence{classroom}}, ledger, ist, time.Second)
	s.now = func() time.Time { return at }

	rec, err := s.Admit(context.Background(), "student-1", validRequest())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, ist), rec.Day)
}

func TestAdmitWeekdayGating(t *testing.T) {
	mondayOnly := morningWindow
	mondayOnly.DaysActive = []string{"monday"}
	// tenAM is a Wednesday
	s := newTestService(&fakeSchedule{windows: []Window{mondayOnly}}, &fakeFences{fences: []Geofence{classroom}}, newFakeLedger(), tenAM)

	_, err := s.Admit(context.Background(), "student-1", validRequest())
	requireKind(t, err, KindOutsideWindow)
}

func TestAdmitHonorsDeclaredMethod(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestService(&fakeSchedule{windows: []Window{morningWindow}}, &fakeFences{fences: []Geofence{classroom}}, ledger, tenAM)

	req := validRequest()
	req.VerificationMethod = "manual_override"
	rec, err := s.Admit(context.Background(), "student-1", req)
	require.NoError(t, err)
	assert.Equal(t, "manual_override", rec.VerificationMethod)
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, kind, aerr.Kind)
}
