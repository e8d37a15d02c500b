// Package memory provides an in-process store for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

// Store keeps every record in maps guarded by one mutex. Returned records are
// copies, so callers cannot mutate stored state.
type Store struct {
	mu            sync.RWMutex
	doctors       map[string]doctor.Doctor
	patients      map[string]*patient.Patient
	prescriptions map[string]*prescription.Prescription
	order         []string
	events        map[string][]*prescription.Event
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		doctors:       make(map[string]doctor.Doctor),
		patients:      make(map[string]*patient.Patient),
		prescriptions: make(map[string]*prescription.Prescription),
		events:        make(map[string][]*prescription.Event),
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// PutDoctor inserts or replaces a doctor
func (s *Store) PutDoctor(_ context.Context, d *doctor.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = *d
	return nil
}

// GetDoctor returns a doctor by doctorId
func (s *Store) GetDoctor(_ context.Context, id string) (*doctor.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	return &d, nil
}

// CreatePatient stores a new patient
func (s *Store) CreatePatient(_ context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = copyPatient(p)
	return nil
}

// GetPatient returns a patient by id
func (s *Store) GetPatient(_ context.Context, id string) (*patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	return copyPatient(p), nil
}

// CreatePrescription stores p and pushes its id onto the patient's history
// under the same lock.
func (s *Store) CreatePrescription(_ context.Context, p *prescription.Prescription, events ...*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pt, ok := s.patients[p.PatientID]
	if !ok {
		return apperr.NotFound("patient %s not found", p.PatientID)
	}
	if _, exists := s.prescriptions[p.ID]; exists {
		return apperr.Validation("prescription %s already exists", p.ID)
	}

	cp := *p
	s.prescriptions[p.ID] = &cp
	s.order = append(s.order, p.ID)
	pt.History = append(pt.History, p.ID)
	pt.UpdatedAt = p.CreatedAt
	s.appendEventsLocked(events)
	return nil
}

// GetPrescription returns a prescription by id
func (s *Store) GetPrescription(_ context.Context, id string) (*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	cp := *p
	return &cp, nil
}

// ListPrescriptionsByPatient returns the patient's prescriptions, most
// recently stored first
func (s *Store) ListPrescriptionsByPatient(_ context.Context, patientID string) ([]*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*prescription.Prescription, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		if p := s.prescriptions[s.order[i]]; p.PatientID == patientID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AppendEvents records audit events
func (s *Store) AppendEvents(_ context.Context, events ...*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventsLocked(events)
	return nil
}

// GetEvents returns a prescription's events oldest first
func (s *Store) GetEvents(_ context.Context, prescriptionID string) ([]*prescription.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[prescriptionID]
	out := make([]*prescription.Event, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) appendEventsLocked(events []*prescription.Event) {
	for _, e := range events {
		cp := *e
		s.events[e.AggregateID] = append(s.events[e.AggregateID], &cp)
	}
}

func copyPatient(p *patient.Patient) *patient.Patient {
	cp := *p
	cp.Symptoms = append([]string(nil), p.Symptoms...)
	cp.History = append(make([]string, 0, len(p.History)), p.History...)
	return &cp
}
