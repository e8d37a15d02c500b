package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

// Store persists doctors, patients, prescriptions and their events. Every
// event is also written to the outbox in the same transaction.
type Store struct {
	pool        *pgxpool.Pool
	eventsTopic string
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewStore creates a store publishing events to eventsTopic through the outbox
func NewStore(pool *pgxpool.Pool, eventsTopic string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:        pool,
		eventsTopic: eventsTopic,
		logger:      logger,
		tracer:      otel.Tracer("postgres-store"),
	}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PutDoctor inserts or replaces a doctor
func (s *Store) PutDoctor(ctx context.Context, d *doctor.Doctor) error {
	query := `
		INSERT INTO doctors (id, name, phone, email, specialization, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
		    specialization = EXCLUDED.specialization, password_hash = EXCLUDED.password_hash
	`
	_, err := s.pool.Exec(ctx, query, d.ID, d.Name, d.Phone, d.Email, d.Specialization, d.PasswordHash, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert doctor: %w", err)
	}
	return nil
}

// GetDoctor returns a doctor by doctorId
func (s *Store) GetDoctor(ctx context.Context, id string) (*doctor.Doctor, error) {
	query := `
		SELECT id, name, phone, email, specialization, password_hash, created_at
		FROM doctors WHERE id = $1
	`
	d := &doctor.Doctor{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Phone, &d.Email, &d.Specialization, &d.PasswordHash, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

// CreatePatient stores a new patient
func (s *Store) CreatePatient(ctx context.Context, p *patient.Patient) error {
	query := `
		INSERT INTO patients (id, name, phone, age, gender, symptoms, doctor_id, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Phone, p.Age, string(p.Gender), nonNilSlice(p.Symptoms), p.DoctorID,
		nonNilSlice(p.History), p.CreatedAt, p.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.NotFound("doctor %s not found", p.DoctorID)
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// GetPatient returns a patient by id
func (s *Store) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	query := `
		SELECT id, name, phone, age, gender, symptoms, doctor_id, history, created_at, updated_at
		FROM patients WHERE id = $1
	`
	p := &patient.Patient{}
	var gender string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Phone, &p.Age, &gender, &p.Symptoms, &p.DoctorID,
		&p.History, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	p.Gender = patient.Gender(gender)
	return p, nil
}

// CreatePrescription inserts p, appends its id to the patient's history and
// records events in one transaction. The append is a single UPDATE, so
// concurrent creates for one patient never lose an entry.
func (s *Store) CreatePrescription(ctx context.Context, p *prescription.Prescription, events ...*prescription.Event) error {
	ctx, span := s.tracer.Start(ctx, "store_create_prescription",
		trace.WithAttributes(
			attribute.String("prescription_id", p.ID),
			attribute.String("patient_id", p.PatientID),
		))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPrescription(ctx, tx, p); err != nil {
		span.RecordError(err)
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE patients
		SET history = array_append(history, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(history))
	`, p.ID, p.CreatedAt, p.PatientID)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s not found", p.PatientID)
	}

	if err := s.insertEvents(ctx, tx, events); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertPrescription(ctx context.Context, tx pgx.Tx, p *prescription.Prescription) error {
	medicines, err := json.Marshal(nonNilSlice(p.Medicines))
	if err != nil {
		return fmt.Errorf("encode medicines: %w", err)
	}
	hold, err := json.Marshal(nonNilSlice(p.HoldMedicines))
	if err != nil {
		return fmt.Errorf("encode hold medicines: %w", err)
	}
	followUp, err := json.Marshal(p.FollowUp)
	if err != nil {
		return fmt.Errorf("encode follow-up: %w", err)
	}

	query := `
		INSERT INTO prescriptions
		(id, doctor_id, doctor_name, doctor_specialization, patient_id, symptoms, diagnosis,
		 medicines, hold_medicines, emergency_instructions, critical_warnings, side_effects_note,
		 follow_up, rationale, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.Exec(ctx, query,
		p.ID, p.DoctorID, p.DoctorName, p.DoctorSpecialization, p.PatientID,
		nonNilSlice(p.Symptoms), p.Diagnosis, medicines, hold, p.EmergencyInstructions,
		nonNilSlice(p.CriticalWarnings), p.SideEffectsNote, followUp, p.Rationale, p.Notes, p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return apperr.NotFound("patient %s not found", p.PatientID)
		case "23505":
			return apperr.Validation("prescription %s already exists", p.ID)
		}
	}
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

const prescriptionColumns = `
	id, doctor_id, doctor_name, doctor_specialization, patient_id, symptoms, diagnosis,
	medicines, hold_medicines, emergency_instructions, critical_warnings, side_effects_note,
	follow_up, rationale, notes, created_at
`

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	p := &prescription.Prescription{}
	var medicines, hold, followUp []byte
	err := row.Scan(
		&p.ID, &p.DoctorID, &p.DoctorName, &p.DoctorSpecialization, &p.PatientID,
		&p.Symptoms, &p.Diagnosis, &medicines, &hold, &p.EmergencyInstructions,
		&p.CriticalWarnings, &p.SideEffectsNote, &followUp, &p.Rationale, &p.Notes, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(medicines, &p.Medicines); err != nil {
		return nil, fmt.Errorf("decode medicines: %w", err)
	}
	if err := json.Unmarshal(hold, &p.HoldMedicines); err != nil {
		return nil, fmt.Errorf("decode hold medicines: %w", err)
	}
	if err := json.Unmarshal(followUp, &p.FollowUp); err != nil {
		return nil, fmt.Errorf("decode follow-up: %w", err)
	}
	return p, nil
}

// GetPrescription returns a prescription by id
func (s *Store) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	p, err := scanPrescription(s.pool.QueryRow(ctx,
		"SELECT "+prescriptionColumns+" FROM prescriptions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// ListPrescriptionsByPatient returns a patient's prescriptions, newest first.
// Rows sharing a created_at come back in reverse insertion order.
func (s *Store) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*prescription.Prescription, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+prescriptionColumns+" FROM prescriptions WHERE patient_id = $1 ORDER BY created_at DESC, seq DESC",
		patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	list := make([]*prescription.Prescription, 0)
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// AppendEvents records events outside prescription creation, such as
// delivery outcomes
func (s *Store) AppendEvents(ctx context.Context, events ...*prescription.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) insertEvents(ctx context.Context, tx pgx.Tx, events []*prescription.Event) error {
	query := `
		INSERT INTO prescription_events
		(id, aggregate_id, aggregate_type, event_type, event_data, doctor_id, patient_id, correlation_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, e := range events {
		if _, err := tx.Exec(ctx, query,
			e.ID, e.AggregateID, e.AggregateType, string(e.EventType), []byte(e.EventData),
			e.DoctorID, e.PatientID, e.CorrelationID, e.Timestamp,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		entry, err := EntryFromEvent(e, s.eventsTopic)
		if err != nil {
			return err
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// GetEvents returns the events of one prescription, oldest first
func (s *Store) GetEvents(ctx context.Context, prescriptionID string) ([]*prescription.Event, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data,
		       COALESCE(doctor_id, ''), COALESCE(patient_id, ''), COALESCE(correlation_id, ''), timestamp
		FROM prescription_events
		WHERE aggregate_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	events := make([]*prescription.Event, 0)
	for rows.Next() {
		e := &prescription.Event{}
		var eventType string
		var data []byte
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.AggregateType, &eventType, &data,
			&e.DoctorID, &e.PatientID, &e.CorrelationID, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = prescription.EventType(eventType)
		e.EventData = data
		events = append(events, e)
	}
	return events, rows.Err()
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
