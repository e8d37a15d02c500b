package prescriptionpdf

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleDocument() Document {
	return Document{
		Prescription: &prescription.Prescription{
			ID:                   "rx-1",
			DoctorID:             "DOC-001",
			DoctorName:           "Asha Rao",
			DoctorSpecialization: "Cardiology",
			PatientID:            "pt-1",
			Symptoms:             []string{"chest pain", "fatigue"},
			Medicines: []prescription.Medicine{
				{Name: "Aspirin", Dosage: "75mg", Frequency: "once daily"},
			},
			CreatedAt: time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC),
		},
		Patient: &patient.Patient{ID: "pt-1", Name: "Jane Doe", Age: 32, Gender: patient.GenderFemale},
	}
}

func TestRenderIsDeterministicForFixedClock(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	r := NewRenderer(nil, WithClock(fixedClock(now)))

	first, err := r.Render(sampleDocument())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(sampleDocument())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("same input and clock produced different bytes")
	}
	if !bytes.HasPrefix(first, []byte("%PDF-")) {
		t.Errorf("output does not look like a PDF: %q", first[:8])
	}

	later := NewRenderer(nil, WithClock(fixedClock(now.Add(time.Hour))))
	third, err := later.Render(sampleDocument())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, third) {
		t.Error("footer timestamp did not change the output")
	}
}

func TestRenderConditionalSections(t *testing.T) {
	r := NewRenderer(nil, WithClock(fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))))
	r.compress = false

	plain, err := r.Render(sampleDocument())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Doctor Information:", "Name: Dr. Asha Rao", "Age: 32", "03/04/2026",
		"Aspirin - 75mg \\(once daily\\)", "Generated on: 03/05/2026, 10:00:00"} {
		if !bytes.Contains(plain, []byte(want)) {
			t.Errorf("missing %q", want)
		}
	}
	for _, absent := range []string{"Additional Notes:", "Hold Medicines:"} {
		if bytes.Contains(plain, []byte(absent)) {
			t.Errorf("unexpected section %q", absent)
		}
	}

	doc := sampleDocument()
	doc.Prescription.Notes = "Avoid exertion"
	doc.Prescription.HoldMedicines = []prescription.HoldMedicine{{Name: "Ibuprofen", Dosage: "400mg", Reason: "bleeding risk"}}
	full, err := r.Render(doc)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Additional Notes:", "Avoid exertion", "Hold Medicines:", "Ibuprofen - 400mg \\(Reason: bleeding risk\\)"} {
		if !bytes.Contains(full, []byte(want)) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRenderEmptyCollections(t *testing.T) {
	doc := sampleDocument()
	doc.Prescription.Symptoms = nil
	doc.Prescription.Medicines = nil
	if _, err := NewRenderer(nil).Render(doc); err != nil {
		t.Errorf("Render with empty lists: %v", err)
	}
}

func TestRenderRequiresPatient(t *testing.T) {
	doc := sampleDocument()
	doc.Patient = nil
	if _, err := NewRenderer(nil).Render(doc); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}
