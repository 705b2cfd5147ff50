package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

// PatientNotifier emails the patient when an appointment is confirmed or
// cancelled. Patients without an email address are skipped.
type PatientNotifier struct {
	directory repository.DirectoryRepository
	mailer    email.Service
}

func NewPatientNotifier(directory repository.DirectoryRepository, mailer email.Service) *PatientNotifier {
	return &PatientNotifier{directory: directory, mailer: mailer}
}

func (n *PatientNotifier) Handle(ctx context.Context, event *model.OutboxEvent) error {
	if event.EventType != model.EventAppointmentConfirmed && event.EventType != model.EventAppointmentCancelled {
		return nil
	}

	var payload model.AppointmentEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.EventType, err)
	}
	apt := payload.Appointment
	if apt == nil {
		return fmt.Errorf("%s payload has no appointment", event.EventType)
	}

	patient, err := n.directory.GetPatient(ctx, apt.PatientID)
	if err != nil {
		return fmt.Errorf("failed to look up patient %s: %w", apt.PatientID, err)
	}
	if patient.Email == "" {
		log.Debug().Str("appointment_id", apt.ID.String()).Msg("Patient has no email, skipping notification")
		return nil
	}

	subject, body := notification(event.EventType, patient.Name, apt)
	return n.mailer.SendCustom(ctx, patient.Email, subject, body)
}

func notification(eventType, name string, apt *model.Appointment) (string, string) {
	when := fmt.Sprintf("%s a las %s", apt.AppointmentDate, apt.AppointmentTime)
	if eventType == model.EventAppointmentCancelled {
		body := fmt.Sprintf("Hola %s,\n\nSu cita del %s con %s ha sido cancelada.", name, when, apt.DoctorName)
		if apt.CancelReason != nil {
			body += "\nMotivo: " + *apt.CancelReason
		}
		return "Cita cancelada", body
	}
	return "Cita confirmada", fmt.Sprintf("Hola %s,\n\nSu cita del %s con %s está confirmada.", name, when, apt.DoctorName)
}
