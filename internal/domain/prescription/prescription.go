// Package prescription implements the immutable prescription record and the
// composer that ties it into a patient's visit history.
package prescription

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
)

// Medicine is a prescribed medicine line
type Medicine struct {
	Name         string `json:"name" bson:"name"`
	Dosage       string `json:"dosage" bson:"dosage"`
	Frequency    string `json:"frequency" bson:"frequency"`
	Instructions string `json:"instructions,omitempty" bson:"instructions,omitempty"`
}

// HoldMedicine is a medicine the patient must pause
type HoldMedicine struct {
	Name   string `json:"name" bson:"name"`
	Dosage string `json:"dosage" bson:"dosage"`
	Reason string `json:"reason" bson:"reason"`
}

// FollowUp is either a dated follow-up or free text. It decodes from a JSON
// string or an object.
type FollowUp struct {
	Date  *time.Time `json:"date,omitempty" bson:"date,omitempty"`
	Notes string     `json:"notes,omitempty" bson:"notes,omitempty"`
}

// UnmarshalJSON accepts "in two weeks" as well as {"date": ..., "notes": ...}
func (f *FollowUp) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = FollowUp{Notes: text}
		return nil
	}
	type plain FollowUp
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = FollowUp(p)
	return nil
}

// IsZero reports whether no follow-up was given
func (f FollowUp) IsZero() bool {
	return f.Date == nil && f.Notes == ""
}

// Prescription is created once and never mutated. DoctorName and
// DoctorSpecialization are copies taken at creation time.
type Prescription struct {
	ID                    string         `json:"id" bson:"_id"`
	DoctorID              string         `json:"doctorId" bson:"doctorId"`
	DoctorName            string         `json:"doctorName" bson:"doctorName"`
	DoctorSpecialization  string         `json:"doctorSpecialization" bson:"doctorSpecialization"`
	PatientID             string         `json:"patientId" bson:"patientId"`
	Symptoms              []string       `json:"symptoms" bson:"symptoms"`
	Diagnosis             string         `json:"diagnosis" bson:"diagnosis"`
	Medicines             []Medicine     `json:"medicines" bson:"medicines"`
	HoldMedicines         []HoldMedicine `json:"holdMedicines" bson:"holdMedicines"`
	EmergencyInstructions string         `json:"emergencyInstructions" bson:"emergencyInstructions"`
	CriticalWarnings      []string       `json:"criticalWarnings" bson:"criticalWarnings"`
	SideEffectsNote       string         `json:"sideEffectsNote" bson:"sideEffectsNote"`
	FollowUp              FollowUp       `json:"followUp" bson:"followUp"`
	Rationale             string         `json:"rationale" bson:"rationale"`
	Notes                 string         `json:"notes" bson:"notes"`
	CreatedAt             time.Time      `json:"createdAt" bson:"createdAt"`
}

// Fields is the doctor-supplied part of a prescription
type Fields struct {
	Symptoms              []string       `json:"symptoms"`
	Diagnosis             string         `json:"diagnosis"`
	Medicines             []Medicine     `json:"medicines"`
	HoldMedicines         []HoldMedicine `json:"holdMedicines"`
	EmergencyInstructions string         `json:"emergencyInstructions"`
	CriticalWarnings      []string       `json:"criticalWarnings"`
	SideEffectsNote       string         `json:"sideEffectsNote"`
	FollowUp              FollowUp       `json:"followUp"`
	Rationale             string         `json:"rationale"`
	Notes                 string         `json:"notes"`
	// DeliverBySms asks the delivery service to text the PDF once stored
	DeliverBySms bool `json:"deliverBySms"`
	// CorrelationID is the id of the request that asked for the
	// prescription. It is stamped on the created event, never read from a body.
	CorrelationID string `json:"-"`
}

// Validate checks the medicine lines
func (f *Fields) Validate() error {
	for i, m := range f.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return apperr.Validation("medicines[%d].name is required", i)
		}
	}
	for i, m := range f.HoldMedicines {
		if strings.TrimSpace(m.Name) == "" {
			return apperr.Validation("holdMedicines[%d].name is required", i)
		}
	}
	return nil
}

// New builds a prescription for patientID, snapshotting the doctor's name and
// specialization by value.
func New(doc *doctor.Doctor, patientID string, f Fields, now time.Time) *Prescription {
	return &Prescription{
		ID:                    uuid.New().String(),
		DoctorID:              doc.ID,
		DoctorName:            doc.Name,
		DoctorSpecialization:  doc.Specialization,
		PatientID:             patientID,
		Symptoms:              cleanStrings(f.Symptoms),
		Diagnosis:             strings.TrimSpace(f.Diagnosis),
		Medicines:             append(make([]Medicine, 0, len(f.Medicines)), f.Medicines...),
		HoldMedicines:         append(make([]HoldMedicine, 0, len(f.HoldMedicines)), f.HoldMedicines...),
		EmergencyInstructions: f.EmergencyInstructions,
		CriticalWarnings:      cleanStrings(f.CriticalWarnings),
		SideEffectsNote:       f.SideEffectsNote,
		FollowUp:              f.FollowUp,
		Rationale:             f.Rationale,
		Notes:                 strings.TrimSpace(f.Notes),
		// millisecond precision survives every store round trip unchanged
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
