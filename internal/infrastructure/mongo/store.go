// Package mongo provides the document-database store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

const (
	doctorsCollection       = "doctors"
	patientsCollection      = "patients"
	prescriptionsCollection = "prescriptions"
	eventsCollection        = "prescription_events"
)

// Connect opens a client and pings it with a 10 second timeout
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// Store keeps each record type in its own collection. Prescription creation
// runs in a multi-document transaction, so the server must be a replica set.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a store on database dbName
func NewStore(client *mongo.Client, dbName string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
		tracer: otel.Tracer("mongo-store"),
	}
}

// EnsureIndexes creates the lookup indexes
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(prescriptionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create prescription index: %w", err)
	}
	_, err = s.db.Collection(eventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "aggregateId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create event index: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// PutDoctor inserts or replaces a doctor
func (s *Store) PutDoctor(ctx context.Context, d *doctor.Doctor) error {
	_, err := s.db.Collection(doctorsCollection).ReplaceOne(ctx,
		bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert doctor: %w", err)
	}
	return nil
}

// GetDoctor returns a doctor by doctorId
func (s *Store) GetDoctor(ctx context.Context, id string) (*doctor.Doctor, error) {
	d := &doctor.Doctor{}
	err := s.db.Collection(doctorsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

// CreatePatient stores a new patient
func (s *Store) CreatePatient(ctx context.Context, p *patient.Patient) error {
	doc := *p
	if doc.History == nil {
		doc.History = []string{}
	}
	if doc.Symptoms == nil {
		doc.Symptoms = []string{}
	}
	if _, err := s.db.Collection(patientsCollection).InsertOne(ctx, &doc); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// GetPatient returns a patient by id
func (s *Store) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	p := &patient.Patient{}
	err := s.db.Collection(patientsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// CreatePrescription inserts p, adds its id to the patient's history and
// records events in one transaction. $addToSet is applied by the server, so
// concurrent creates for one patient never lose an entry.
func (s *Store) CreatePrescription(ctx context.Context, p *prescription.Prescription, events ...*prescription.Event) error {
	ctx, span := s.tracer.Start(ctx, "store_create_prescription",
		trace.WithAttributes(
			attribute.String("prescription_id", p.ID),
			attribute.String("patient_id", p.PatientID),
		))
	defer span.End()

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.db.Collection(prescriptionsCollection).InsertOne(sc, p); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, apperr.Validation("prescription %s already exists", p.ID)
			}
			return nil, fmt.Errorf("insert prescription: %w", err)
		}

		res, err := s.db.Collection(patientsCollection).UpdateOne(sc,
			bson.M{"_id": p.PatientID},
			bson.M{
				"$addToSet": bson.M{"history": p.ID},
				"$set":      bson.M{"updatedAt": p.CreatedAt},
			})
		if err != nil {
			return nil, fmt.Errorf("append history: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, apperr.NotFound("patient %s not found", p.PatientID)
		}

		if err := s.insertEvents(sc, events); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetPrescription returns a prescription by id
func (s *Store) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	p := &prescription.Prescription{}
	err := s.db.Collection(prescriptionsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// ListPrescriptionsByPatient returns a patient's prescriptions, newest first
func (s *Store) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*prescription.Prescription, error) {
	cur, err := s.db.Collection(prescriptionsCollection).Find(ctx,
		bson.M{"patientId": patientID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	list := make([]*prescription.Prescription, 0)
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("decode prescriptions: %w", err)
	}
	if len(list) < 2 {
		return list, nil
	}

	// createdAt has millisecond precision; the history array records the
	// commit order of the creates, so it breaks ties
	var pt struct {
		History []string `bson:"history"`
	}
	err = s.db.Collection(patientsCollection).FindOne(ctx,
		bson.M{"_id": patientID},
		options.FindOne().SetProjection(bson.M{"history": 1})).Decode(&pt)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("load history: %w", err)
	}
	sortByHistory(list, pt.History)
	return list, nil
}

// sortByHistory orders newest first, later history entries first on equal
// createdAt. Ids missing from history count as the newest.
func sortByHistory(list []*prescription.Prescription, history []string) {
	pos := make(map[string]int, len(history))
	for i, id := range history {
		pos[id] = i
	}
	rank := func(id string) int {
		if i, ok := pos[id]; ok {
			return i
		}
		return len(history)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return rank(a.ID) > rank(b.ID)
	})
}

// AppendEvents records events outside prescription creation
func (s *Store) AppendEvents(ctx context.Context, events ...*prescription.Event) error {
	return s.insertEvents(ctx, events)
}

func (s *Store) insertEvents(ctx context.Context, events []*prescription.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		docs = append(docs, e)
	}
	if _, err := s.db.Collection(eventsCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// GetEvents returns the events of one prescription, oldest first
func (s *Store) GetEvents(ctx context.Context, prescriptionID string) ([]*prescription.Event, error) {
	cur, err := s.db.Collection(eventsCollection).Find(ctx,
		bson.M{"aggregateId": prescriptionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	events := make([]*prescription.Event, 0)
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
