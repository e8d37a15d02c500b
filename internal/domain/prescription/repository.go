package prescription

import (
	"context"

	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
)

// Repository is the persistence contract the composer and dispatcher need.
// Lookups of missing records return an apperr NotFound error.
type Repository interface {
	GetDoctor(ctx context.Context, id string) (*doctor.Doctor, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)

	// CreatePrescription stores p, appends p.ID to the history of patient
	// p.PatientID and stores events as one atomic step. The history append
	// must be a server-side push, never a read-modify-write of the list.
	CreatePrescription(ctx context.Context, p *Prescription, events ...*Event) error
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
	// ListPrescriptionsByPatient returns newest first; prescriptions with
	// equal CreatedAt are ordered most recently stored first.
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*Prescription, error)

	AppendEvents(ctx context.Context, events ...*Event) error
	GetEvents(ctx context.Context, prescriptionID string) ([]*Event, error)
}
