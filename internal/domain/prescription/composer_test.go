package prescription_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/memory"
)

func seed(t *testing.T) (*memory.Store, *patient.Patient) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.PutDoctor(ctx, &doctor.Doctor{ID: "DOC-001", Name: "Asha Rao", Specialization: "Cardiology"}); err != nil {
		t.Fatal(err)
	}
	pt, err := patient.New(patient.Registration{Name: "Jane Doe", Age: 32, Gender: "female", DoctorID: "DOC-001", Phone: "9876543210"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreatePatient(ctx, pt); err != nil {
		t.Fatal(err)
	}
	return store, pt
}

func sampleFields() prescription.Fields {
	return prescription.Fields{
		Symptoms:  []string{"chest pain", "fatigue"},
		Diagnosis: "Stable angina",
		Medicines: []prescription.Medicine{
			{Name: "Aspirin", Dosage: "75mg", Frequency: "once daily"},
		},
		HoldMedicines: []prescription.HoldMedicine{
			{Name: "Ibuprofen", Dosage: "400mg", Reason: "bleeding risk"},
		},
		Notes: "Avoid exertion",
	}
}

func TestCreateLinksHistoryOnce(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)

	p, err := c.Create(ctx, "DOC-001", pt.ID, sampleFields())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and createdAt, got %+v", p)
	}
	if p.DoctorName != "Asha Rao" || p.DoctorSpecialization != "Cardiology" {
		t.Errorf("snapshot = %q/%q", p.DoctorName, p.DoctorSpecialization)
	}

	got, err := store.GetPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n := count(got.History, p.ID); n != 1 {
		t.Errorf("history contains prescription %d times, want 1", n)
	}

	events, err := c.Events(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != prescription.EventPrescriptionCreated {
		t.Fatalf("events = %+v", events)
	}
	var data prescription.PrescriptionCreatedData
	if err := json.Unmarshal(events[0].EventData, &data); err != nil {
		t.Fatal(err)
	}
	if data.PatientID != pt.ID || data.MedicineCount != 1 {
		t.Errorf("event data = %+v", data)
	}
}

func TestCreateConcurrentSamePatient(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)

	const n = 2
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Create(ctx, "DOC-001", pt.ID, sampleFields())
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	got, err := store.GetPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != n {
		t.Fatalf("history = %v, want %d entries", got.History, n)
	}
	for _, id := range ids {
		if count(got.History, id) != 1 {
			t.Errorf("prescription %s appears %d times", id, count(got.History, id))
		}
	}
}

func TestCreateNotFound(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)

	if _, err := c.Create(ctx, "DOC-404", pt.ID, sampleFields()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown doctor: err = %v", err)
	}
	if _, err := c.Create(ctx, "DOC-001", "missing", sampleFields()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown patient: err = %v", err)
	}
	list, _ := store.ListPrescriptionsByPatient(ctx, pt.ID)
	if len(list) != 0 {
		t.Errorf("failed creates must not store anything, got %d", len(list))
	}
}

func TestCreateRejectsUnnamedMedicine(t *testing.T) {
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)
	f := sampleFields()
	f.Medicines = append(f.Medicines, prescription.Medicine{Dosage: "5mg"})

	if _, err := c.Create(context.Background(), "DOC-001", pt.ID, f); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestHistoryNewestFirstWithSnapshot(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)

	first, err := c.Create(ctx, "DOC-001", pt.ID, sampleFields())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := c.Create(ctx, "DOC-001", pt.ID, sampleFields())
	if err != nil {
		t.Fatal(err)
	}

	// later edits to the doctor must not leak into stored prescriptions
	if err := store.PutDoctor(ctx, &doctor.Doctor{ID: "DOC-001", Name: "Asha Rao-Menon", Specialization: "Neurology"}); err != nil {
		t.Fatal(err)
	}

	gotPatient, list, err := c.History(ctx, pt.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if gotPatient.ID != pt.ID {
		t.Errorf("patient = %s", gotPatient.ID)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("order = %v", ids(list))
	}
	if list[0].DoctorName != "Asha Rao" || list[0].DoctorSpecialization != "Cardiology" {
		t.Errorf("snapshot changed: %q/%q", list[0].DoctorName, list[0].DoctorSpecialization)
	}

	if _, _, err := c.History(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing patient: err = %v", err)
	}
}

func TestFollowUpDecodesTextOrObject(t *testing.T) {
	var f prescription.Fields
	if err := json.Unmarshal([]byte(`{"followUp":"review in two weeks"}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.FollowUp.Notes != "review in two weeks" || f.FollowUp.Date != nil {
		t.Errorf("text follow-up = %+v", f.FollowUp)
	}

	if err := json.Unmarshal([]byte(`{"followUp":{"date":"2026-11-01T00:00:00Z","notes":"ECG"}}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.FollowUp.Date == nil || f.FollowUp.Notes != "ECG" {
		t.Errorf("object follow-up = %+v", f.FollowUp)
	}
}

func count(list []string, id string) int {
	n := 0
	for _, v := range list {
		if v == id {
			n++
		}
	}
	return n
}

func ids(list []*prescription.Prescription) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func TestListForPatientNewestFirstOnEqualTimestamps(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)
	doc, err := store.GetDoctor(ctx, "DOC-001")
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var created []string
	for i := 0; i < 3; i++ {
		p := prescription.New(doc, pt.ID, sampleFields(), at)
		if err := store.CreatePrescription(ctx, p); err != nil {
			t.Fatal(err)
		}
		created = append(created, p.ID)
	}

	list, err := c.ListForPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != created[2] || list[2].ID != created[0] {
		t.Errorf("order = %v, want reverse of %v", ids(list), created)
	}
}

func TestCreateCarriesCorrelationToEvent(t *testing.T) {
	ctx := context.Background()
	store, pt := seed(t)
	c := prescription.NewComposer(store, nil, nil)

	f := sampleFields()
	f.CorrelationID = "req-7"
	p, err := c.Create(ctx, "DOC-001", pt.ID, f)
	if err != nil {
		t.Fatal(err)
	}
	events, err := store.GetEvents(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].CorrelationID != "req-7" || events[0].DoctorID != "DOC-001" {
		t.Errorf("event = %+v", events)
	}
}
