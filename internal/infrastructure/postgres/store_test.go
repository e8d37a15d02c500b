package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

// These tests need a disposable database in TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// a second run must be a no-op
	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return pool
}

func seed(t *testing.T, s *Store) (*doctor.Doctor, *patient.Patient) {
	t.Helper()
	ctx := context.Background()
	d := &doctor.Doctor{ID: "DOC-" + uuid.NewString()[:8], Name: "Asha Rao", Specialization: "Cardiology", CreatedAt: time.Now().UTC()}
	if err := s.PutDoctor(ctx, d); err != nil {
		t.Fatal(err)
	}
	p, err := patient.New(patient.Registration{Name: "Jane Doe", Age: 32, Gender: "female", Phone: "9876543210", DoctorID: d.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePatient(ctx, p); err != nil {
		t.Fatal(err)
	}
	return d, p
}

func TestStoreConcurrentCreatesKeepEveryHistoryEntry(t *testing.T) {
	s := NewStore(testPool(t), "prescription.events", nil)
	d, pt := seed(t, s)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := prescription.New(d, pt.ID, prescription.Fields{
				Diagnosis: fmt.Sprintf("visit %d", i),
				Medicines: []prescription.Medicine{{Name: "Paracetamol", Dosage: "500mg", Frequency: "twice daily"}},
			}, time.Now())
			ev, _ := prescription.NewEvent(p.ID, prescription.EventPrescriptionCreated, map[string]int{"i": i})
			errs <- s.CreatePrescription(ctx, p, ev)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.GetPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, id := range got.History {
		if seen[id] {
			t.Errorf("duplicate history entry %s", id)
		}
		seen[id] = true
	}
	if len(got.History) != n {
		t.Errorf("history = %d entries, want %d", len(got.History), n)
	}

	list, err := s.ListPrescriptionsByPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != n {
		t.Fatalf("list = %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("list not newest first at %d", i)
		}
	}
}

func TestStoreRoundTripAndOutbox(t *testing.T) {
	pool := testPool(t)
	s := NewStore(pool, "prescription.events", nil)
	d, pt := seed(t, s)
	ctx := context.Background()

	follow := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := prescription.New(d, pt.ID, prescription.Fields{
		Symptoms:         []string{"chest pain"},
		Medicines:        []prescription.Medicine{{Name: "Aspirin", Dosage: "75mg", Frequency: "daily"}},
		HoldMedicines:    []prescription.HoldMedicine{{Name: "Ibuprofen", Dosage: "400mg", Reason: "bleeding"}},
		CriticalWarnings: []string{"call if worse"},
		FollowUp:         prescription.FollowUp{Date: &follow, Notes: "bring reports"},
	}, time.Now())
	ev, _ := prescription.NewEvent(p.ID, prescription.EventPrescriptionCreated, map[string]string{"id": p.ID})
	if err := s.CreatePrescription(ctx, p, ev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPrescription(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HoldMedicines[0].Reason != "bleeding" || got.FollowUp.Date == nil || !got.FollowUp.Date.Equal(follow) {
		t.Errorf("round trip = %+v", got)
	}

	events, err := s.GetEvents(ctx, p.ID)
	if err != nil || len(events) != 1 || events[0].EventType != prescription.EventPrescriptionCreated {
		t.Errorf("events = %v, %v", events, err)
	}

	var queued int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1", p.ID).Scan(&queued); err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Errorf("outbox entries = %d", queued)
	}

	if _, err := s.GetPrescription(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing prescription err = %v", err)
	}
	orphan := prescription.New(d, "no-such-patient", prescription.Fields{}, time.Now())
	if err := s.CreatePrescription(ctx, orphan); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("orphan err = %v", err)
	}
}

func TestStoreListBreaksEqualTimestampsByInsertOrder(t *testing.T) {
	s := NewStore(testPool(t), "prescription.events", nil)
	d, pt := seed(t, s)
	ctx := context.Background()

	at := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		p := prescription.New(d, pt.ID, prescription.Fields{Diagnosis: fmt.Sprintf("visit %d", i)}, at)
		if err := s.CreatePrescription(ctx, p); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}

	list, err := s.ListPrescriptionsByPatient(ctx, pt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[1].ID != ids[1] || list[2].ID != ids[0] {
		t.Errorf("order = %v, want reverse of %v", listIDs(list), ids)
	}
}

func listIDs(list []*prescription.Prescription) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}
