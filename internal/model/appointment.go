// Package model defines shared types used across the queue repository,
// remote gateway, and sync engine.
package model

// AppointmentStatus is the domain status of an appointment as understood by
// the remote API.
type AppointmentStatus string

const (
	// StatusScheduled is the default status for new appointments.
	StatusScheduled AppointmentStatus = "scheduled"
	// StatusCompleted marks an appointment that already took place.
	StatusCompleted AppointmentStatus = "completed"
	// StatusCancelled marks a cancelled appointment.
	StatusCancelled AppointmentStatus = "cancelled"
)

// Valid reports whether s is one of the known appointment statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment is the payload exchanged with the remote appointment API.
// ID is set by the server and empty on drafts that were never synced.
type Appointment struct {
	ID           string            `json:"id,omitempty"`
	Patient      string            `json:"patient"`
	Doctor       string            `json:"doctor"`
	Date         string            `json:"date"`
	Time         string            `json:"time"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	Observations string            `json:"observations,omitempty"`
	Status       AppointmentStatus `json:"status"`
}

// Sanitized returns a copy with an unknown or missing status coerced to
// [StatusScheduled]. Applied to every payload received from the remote API,
// which is not trusted to enforce the status vocabulary.
func (a Appointment) Sanitized() Appointment {
	if !a.Status.Valid() {
		a.Status = StatusScheduled
	}
	return a
}
