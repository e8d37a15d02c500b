package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/api/middleware"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/intake"
)

// PatientRegistry stores patients registered at the front desk
type PatientRegistry interface {
	GetDoctor(ctx context.Context, id string) (*doctor.Doctor, error)
	CreatePatient(ctx context.Context, p *patient.Patient) error
}

// IntakeHandler turns transcripts into draft registrations and registers
// the confirmed patient
type IntakeHandler struct {
	registry PatientRegistry
	matcher  *intake.Matcher
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewIntakeHandler creates a new handler. A nil matcher uses the default
// department table.
func NewIntakeHandler(registry PatientRegistry, matcher *intake.Matcher, logger *zap.Logger) *IntakeHandler {
	if matcher == nil {
		matcher = intake.DefaultMatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeHandler{
		registry: registry,
		matcher:  matcher,
		logger:   logger,
		tracer:   otel.Tracer("intake-handler"),
	}
}

// Routes returns the handler routes
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/extract", h.Extract)
	r.Post("/register", h.Register)
	r.Get("/departments", h.Departments)
	return r
}

// ExtractRequest carries a free-text transcript
type ExtractRequest struct {
	Transcript string `json:"transcript"`
}

// ExtractResponse is the draft registration plus the suggested department
type ExtractResponse struct {
	Extraction intake.Extraction `json:"extraction"`
	Department intake.Match      `json:"department"`
}

// Extract handles POST /intake/extract
func (h *IntakeHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ExtractResponse{
		Extraction: intake.Extract(req.Transcript),
		Department: h.matcher.Match(req.Transcript),
	})
}

// Register handles POST /intake/register with the registration as edited by
// the front desk. The patient is assigned to the session's doctor when the
// payload names none.
func (h *IntakeHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "register_patient")
	defer span.End()

	var reg patient.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if reg.DoctorID == "" {
		reg.DoctorID = middleware.GetSubjectID(ctx)
	}

	p, err := patient.New(reg)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.registry.GetDoctor(ctx, p.DoctorID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.registry.CreatePatient(ctx, p); err != nil {
		span.RecordError(err)
		writeError(w, r, h.logger, fmt.Errorf("store patient: %w", err))
		return
	}
	span.SetAttributes(attribute.String("patient_id", p.ID))

	h.logger.Info("patient registered",
		zap.String("patient_id", p.ID),
		zap.String("doctor_id", p.DoctorID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, p)
}

// Departments handles GET /intake/departments
func (h *IntakeHandler) Departments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.matcher.Departments())
}
