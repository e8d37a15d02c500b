package r5

import "time"

// Patient represents a FHIR R5 Patient resource.
type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Active       bool           `json:"active,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Gender       string         `json:"gender,omitempty"` // male | female | other | unknown
	Extension    []Extension    `json:"extension,omitempty"`
}

// Extension carries data FHIR has no element for, such as a reported age
type Extension struct {
	URL          string `json:"url"`
	ValueInteger *int   `json:"valueInteger,omitempty"`
}

// Practitioner represents a FHIR R5 Practitioner resource.
type Practitioner struct {
	ResourceType  string                      `json:"resourceType"`
	ID            string                      `json:"id,omitempty"`
	Identifier    []Identifier                `json:"identifier,omitempty"`
	Name          []HumanName                 `json:"name,omitempty"`
	Qualification []PractitionerQualification `json:"qualification,omitempty"`
}

// PractitionerQualification represents a practitioner's qualifications.
type PractitionerQualification struct {
	Code CodeableConcept `json:"code"`
}

// MedicationRequest represents a FHIR R5 MedicationRequest resource, one per
// prescribed or held medicine.
type MedicationRequest struct {
	ResourceType      string              `json:"resourceType"`
	ID                string              `json:"id,omitempty"`
	Identifier        []Identifier        `json:"identifier,omitempty"`
	Status            string              `json:"status"`
	StatusReason      *CodeableConcept    `json:"statusReason,omitempty"`
	Intent            string              `json:"intent"`
	Medication        CodeableReference   `json:"medication"`
	Subject           Reference           `json:"subject"`
	AuthoredOn        time.Time           `json:"authoredOn"`
	Requester         *Reference          `json:"requester,omitempty"`
	Reason            []CodeableReference `json:"reason,omitempty"`
	Note              []Annotation        `json:"note,omitempty"`
	DosageInstruction []Dosage            `json:"dosageInstruction,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence           int    `json:"sequence,omitempty"`
	Text               string `json:"text,omitempty"`
	PatientInstruction string `json:"patientInstruction,omitempty"`
}

// Bundle groups the exported resources
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry holds one resource of a bundle
type BundleEntry struct {
	FullURL  string      `json:"fullUrl,omitempty"`
	Resource interface{} `json:"resource"`
}
