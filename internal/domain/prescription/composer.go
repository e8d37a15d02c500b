package prescription

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
)

// Composer creates prescriptions and serves a patient's prescription history
type Composer struct {
	repo    Repository
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewComposer creates a composer. m may be nil.
func NewComposer(repo Repository, m *metrics.Metrics, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		repo:    repo,
		logger:  logger,
		tracer:  otel.Tracer("prescription-composer"),
		metrics: m,
		now:     time.Now,
	}
}

// Create builds a prescription from the doctor's input, stores it and links it
// into the patient's history. Both doctor and patient must exist.
func (c *Composer) Create(ctx context.Context, doctorID, patientID string, f Fields) (*Prescription, error) {
	ctx, span := c.tracer.Start(ctx, "create_prescription",
		trace.WithAttributes(
			attribute.String("doctor_id", doctorID),
			attribute.String("patient_id", patientID),
		))
	defer span.End()

	if err := f.Validate(); err != nil {
		return nil, err
	}

	doc, err := c.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve doctor: %w", err)
	}
	if _, err := c.repo.GetPatient(ctx, patientID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	p := New(doc, patientID, f, c.now())
	span.SetAttributes(attribute.String("prescription_id", p.ID))

	event, err := NewEvent(p.ID, EventPrescriptionCreated, &PrescriptionCreatedData{
		PrescriptionID: p.ID,
		PatientID:      patientID,
		DoctorID:       doc.ID,
		MedicineCount:  len(p.Medicines),
		DeliverBySms:   f.DeliverBySms,
		CreatedAt:      p.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	event.WithParties(doc.ID, patientID).WithCorrelation(f.CorrelationID)

	if err := c.repo.CreatePrescription(ctx, p, event); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store prescription: %w", err)
	}

	c.metrics.PrescriptionCreated()
	c.logger.Info("prescription created",
		zap.String("prescription_id", p.ID),
		zap.String("patient_id", patientID),
		zap.String("doctor_id", doc.ID),
		zap.Int("medicines", len(p.Medicines)),
	)
	return p, nil
}

// Get returns one prescription
func (c *Composer) Get(ctx context.Context, id string) (*Prescription, error) {
	return c.repo.GetPrescription(ctx, id)
}

// Lookup returns a prescription together with its patient
func (c *Composer) Lookup(ctx context.Context, id string) (*Prescription, *patient.Patient, error) {
	p, err := c.repo.GetPrescription(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	pt, err := c.repo.GetPatient(ctx, p.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve patient: %w", err)
	}
	return p, pt, nil
}

// Events returns the audit trail of one prescription, oldest first
func (c *Composer) Events(ctx context.Context, id string) ([]*Event, error) {
	if _, err := c.repo.GetPrescription(ctx, id); err != nil {
		return nil, err
	}
	return c.repo.GetEvents(ctx, id)
}

// ListForPatient returns every prescription of a patient, newest first
func (c *Composer) ListForPatient(ctx context.Context, patientID string) ([]*Prescription, error) {
	ctx, span := c.tracer.Start(ctx, "list_prescriptions",
		trace.WithAttributes(attribute.String("patient_id", patientID)))
	defer span.End()

	list, err := c.repo.ListPrescriptionsByPatient(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	SortNewestFirst(list)
	return list, nil
}

// History returns the patient together with its prescriptions, newest first
func (c *Composer) History(ctx context.Context, patientID string) (*patient.Patient, []*Prescription, error) {
	pt, err := c.repo.GetPatient(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	list, err := c.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	return pt, list, nil
}

// SortNewestFirst orders by CreatedAt descending, keeping store order on ties
func SortNewestFirst(list []*Prescription) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
