package r5

import (
	"fmt"
	"strings"

	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

const ageExtensionURL = "urn:medicare-plus:fhir:reported-age"

// ExportPrescription converts a prescription and its patient to a collection
// Bundle: the Patient, the prescribing Practitioner as snapshotted on the
// prescription, one active MedicationRequest per medicine and one on-hold
// MedicationRequest per held medicine.
func ExportPrescription(p *prescription.Prescription, pt *patient.Patient) *Bundle {
	patientRef := Reference{Reference: "Patient/" + pt.ID, Type: "Patient", Display: pt.Name}
	doctorRef := &Reference{Reference: "Practitioner/" + p.DoctorID, Type: "Practitioner", Display: "Dr. " + p.DoctorName}

	age := pt.Age
	fhirPatient := &Patient{
		ResourceType: "Patient",
		ID:           pt.ID,
		Identifier:   []Identifier{{Use: "usual", System: SystemPatientID, Value: pt.ID}},
		Active:       true,
		Name:         []HumanName{{Use: "official", Text: pt.Name}},
		Gender:       string(pt.Gender),
		Extension:    []Extension{{URL: ageExtensionURL, ValueInteger: &age}},
	}
	if pt.Phone != "" {
		fhirPatient.Telecom = []ContactPoint{{System: "phone", Value: pt.Phone, Use: "mobile"}}
	}

	practitioner := &Practitioner{
		ResourceType: "Practitioner",
		ID:           p.DoctorID,
		Identifier:   []Identifier{{Use: "official", System: SystemDoctorID, Value: p.DoctorID}},
		Name:         []HumanName{{Use: "official", Text: p.DoctorName, Prefix: []string{"Dr."}}},
	}
	if p.DoctorSpecialization != "" {
		practitioner.Qualification = []PractitionerQualification{{Code: CodeableConcept{Text: p.DoctorSpecialization}}}
	}

	var reasons []CodeableReference
	if p.Diagnosis != "" {
		reasons = append(reasons, CodeableReference{Concept: &CodeableConcept{Text: p.Diagnosis}})
	}
	for _, s := range p.Symptoms {
		reasons = append(reasons, CodeableReference{Concept: &CodeableConcept{Text: s}})
	}
	notes := prescriptionNotes(p)

	bundle := &Bundle{
		ResourceType: "Bundle",
		ID:           p.ID,
		Meta:         &Meta{LastUpdated: p.CreatedAt, Source: SystemPrescriptionID},
		Type:         "collection",
		Timestamp:    p.CreatedAt,
		Entry: []BundleEntry{
			{FullURL: "urn:uuid:" + pt.ID, Resource: fhirPatient},
			{FullURL: "urn:uuid:practitioner-" + p.DoctorID, Resource: practitioner},
		},
	}

	for i, m := range p.Medicines {
		req := &MedicationRequest{
			ResourceType: "MedicationRequest",
			ID:           fmt.Sprintf("%s-%d", p.ID, i+1),
			Identifier:   []Identifier{{System: SystemPrescriptionID, Value: p.ID}},
			Status:       StatusActive,
			Intent:       IntentOrder,
			Medication:   CodeableReference{Concept: &CodeableConcept{Text: m.Name}},
			Subject:      patientRef,
			AuthoredOn:   p.CreatedAt,
			Requester:    doctorRef,
			Reason:       reasons,
			Note:         notes,
			DosageInstruction: []Dosage{{
				Sequence:           1,
				Text:               dosageText(m.Dosage, m.Frequency),
				PatientInstruction: m.Instructions,
			}},
		}
		bundle.Entry = append(bundle.Entry, BundleEntry{FullURL: "urn:uuid:" + req.ID, Resource: req})
	}

	for i, m := range p.HoldMedicines {
		req := &MedicationRequest{
			ResourceType: "MedicationRequest",
			ID:           fmt.Sprintf("%s-hold-%d", p.ID, i+1),
			Identifier:   []Identifier{{System: SystemHoldMedication, Value: p.ID}},
			Status:       StatusOnHold,
			StatusReason: &CodeableConcept{Text: m.Reason},
			Intent:       IntentOrder,
			Medication:   CodeableReference{Concept: &CodeableConcept{Text: m.Name}},
			Subject:      patientRef,
			AuthoredOn:   p.CreatedAt,
			Requester:    doctorRef,
			DosageInstruction: []Dosage{{
				Sequence: 1,
				Text:     m.Dosage,
			}},
		}
		bundle.Entry = append(bundle.Entry, BundleEntry{FullURL: "urn:uuid:" + req.ID, Resource: req})
	}

	return bundle
}

func dosageText(dosage, frequency string) string {
	switch {
	case dosage == "":
		return frequency
	case frequency == "":
		return dosage
	}
	return dosage + " " + frequency
}

func prescriptionNotes(p *prescription.Prescription) []Annotation {
	var texts []string
	if p.Notes != "" {
		texts = append(texts, p.Notes)
	}
	if p.EmergencyInstructions != "" {
		texts = append(texts, "Emergency: "+p.EmergencyInstructions)
	}
	for _, w := range p.CriticalWarnings {
		texts = append(texts, "Warning: "+w)
	}
	if p.SideEffectsNote != "" {
		texts = append(texts, "Side effects: "+p.SideEffectsNote)
	}
	if fu := followUpText(p.FollowUp); fu != "" {
		texts = append(texts, "Follow-up: "+fu)
	}

	notes := make([]Annotation, 0, len(texts))
	for _, t := range texts {
		notes = append(notes, Annotation{Text: t})
	}
	return notes
}

func followUpText(f prescription.FollowUp) string {
	var parts []string
	if f.Date != nil {
		parts = append(parts, f.Date.Format("2006-01-02"))
	}
	if f.Notes != "" {
		parts = append(parts, f.Notes)
	}
	return strings.Join(parts, " ")
}
