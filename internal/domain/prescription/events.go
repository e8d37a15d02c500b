package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionCreated EventType = "PrescriptionCreated"
	EventSmsDispatched       EventType = "SmsDispatched"
	EventSmsDispatchFailed   EventType = "SmsDispatchFailed"
)

// Event is an audit record about a prescription. Events are stored next to
// the prescription and, on the Postgres store, copied to the outbox.
type Event struct {
	ID            string          `json:"id" bson:"_id"`
	AggregateID   string          `json:"aggregate_id" bson:"aggregateId"`
	AggregateType string          `json:"aggregate_type" bson:"aggregateType"`
	EventType     EventType       `json:"event_type" bson:"eventType"`
	EventData     json.RawMessage `json:"event_data" bson:"eventData"`
	Timestamp     time.Time       `json:"timestamp" bson:"timestamp"`
	DoctorID      string          `json:"doctor_id,omitempty" bson:"doctorId,omitempty"`
	PatientID     string          `json:"patient_id,omitempty" bson:"patientId,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty" bson:"correlationId,omitempty"`
}

// NewEvent creates a new event
func NewEvent(prescriptionID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   prescriptionID,
		AggregateType: "Prescription",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithParties sets the doctor and patient the event concerns
func (e *Event) WithParties(doctorID, patientID string) *Event {
	e.DoctorID = doctorID
	e.PatientID = patientID
	return e
}

// WithCorrelation sets the request id that caused the event
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

// PrescriptionCreatedData is published when a prescription is stored
type PrescriptionCreatedData struct {
	PrescriptionID string    `json:"prescription_id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	MedicineCount  int       `json:"medicine_count"`
	DeliverBySms   bool      `json:"deliver_by_sms"`
	CreatedAt      time.Time `json:"created_at"`
}

// SmsDispatchedData records a gateway receipt
type SmsDispatchedData struct {
	PrescriptionID string    `json:"prescription_id"`
	DeliveryID     string    `json:"delivery_id"`
	Phone          string    `json:"phone"`
	DispatchedAt   time.Time `json:"dispatched_at"`
}

// SmsDispatchFailedData records a failed gateway submission. Reason is the
// public message only.
type SmsDispatchFailedData struct {
	PrescriptionID string    `json:"prescription_id"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}
