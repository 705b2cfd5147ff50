package model

import "github.com/google/uuid"

type PersonRole string

const (
	RolePatient PersonRole = "patient"
	RoleDoctor  PersonRole = "doctor"
)

// Person is the subset of a patient or doctor record this service reads from
// the directory. The directory owns these records.
type Person struct {
	ID    uuid.UUID  `db:"id" json:"id"`
	Role  PersonRole `db:"-" json:"role"`
	Name  string     `db:"name" json:"name"`
	Email string     `db:"email" json:"email,omitempty"`
	Phone string     `db:"phone" json:"phone,omitempty"`
}

// Participants are the resolved people an appointment references.
type Participants struct {
	Patient *Person
	Doctor  *Person
}

// PatientName returns the patient's display name or the placeholder.
func (p Participants) PatientName() string {
	if p.Patient == nil || p.Patient.Name == "" {
		return UnknownPatientName
	}
	return p.Patient.Name
}

// DoctorName returns the doctor's display name or the placeholder.
func (p Participants) DoctorName() string {
	if p.Doctor == nil || p.Doctor.Name == "" {
		return UnknownDoctorName
	}
	return p.Doctor.Name
}
