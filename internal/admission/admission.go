// Package admission decides whether a single attendance-marking request is
// accepted and, if so, records it exactly once. The decision runs a fixed
// chain of gates: field validity, identity binding, temporal window,
// duplicate suppression, geofence membership, then one atomic write.
package admission

import "time"

// Request is one attendance-marking attempt. It is transient and never
// persisted as-is.
type Request struct {
	StudentID          string  `json:"student_id"`
	SessionType        string  `json:"session_type"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	VerificationMethod string  `json:"verification_method"`
}

// Record is the durable artifact created by a successful admission.
type Record struct {
	ID                 string    `json:"id"`
	StudentID          string    `json:"student_id"`
	SessionType        string    `json:"session_type"`
	Day                time.Time `json:"day"`
	MarkedAt           time.Time `json:"marked_at"`
	Status             string    `json:"status"`
	VerificationMethod string    `json:"verification_method"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	CreatedAt          time.Time `json:"created_at"`
}

// AdmittedEvent is the queue payload published after a successful admission,
// consumed by the worker for audit and reporting.
type AdmittedEvent struct {
	RecordID    string `json:"record_id"`
	StudentID   string `json:"student_id"`
	SessionType string `json:"session_type"`
}

// Window is an admin-configured attendance window. A request is admissible
// when the current server time falls inside any active window whose days
// include today. Times are "HH:MM" strings in the service timezone, bounds
// inclusive.
type Window struct {
	ID          string    `json:"id"`
	SessionName string    `json:"session_name"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	DaysActive  []string  `json:"days_active"`
	Active      bool      `json:"active_status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Geofence is an admin-configured classroom location with an admission
// radius in meters.
type Geofence struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters float64   `json:"radius_m"`
	Active       bool      `json:"active_status"`
	CreatedAt    time.Time `json:"created_at"`
}
