// Package handlers provides HTTP handlers for the front-desk API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/api/middleware"
	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/delivery/sms"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	fhir "github.com/medicare-plus/frontdesk/internal/fhir/r5"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
)

// Sender delivers a stored prescription to its patient's phone
type Sender interface {
	Send(ctx context.Context, prescriptionID string) (*sms.Receipt, error)
}

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	composer *prescription.Composer
	renderer *prescriptionpdf.Renderer
	sender   Sender
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPrescriptionHandler creates a new handler. sender may be nil when SMS
// delivery is not configured; send-sms then answers 503.
func NewPrescriptionHandler(composer *prescription.Composer, renderer *prescriptionpdf.Renderer, sender Sender, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		composer: composer,
		renderer: renderer,
		sender:   sender,
		logger:   logger,
		tracer:   otel.Tracer("prescription-handler"),
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/send-sms", h.SendSMS)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/pdf", h.PDF)
	r.Get("/{id}/events", h.GetEvents)
	r.Get("/{id}/fhir", h.FHIR)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	PatientID string `json:"patientId"`
	prescription.Fields
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_prescription")
	defer span.End()

	doctorID := middleware.GetSubjectID(ctx)
	if doctorID == "" {
		writeError(w, r, h.logger, apperr.Unauthorized("missing session"))
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		jsonError(w, "patientId is required", http.StatusBadRequest)
		return
	}

	req.CorrelationID = middleware.GetRequestID(ctx)

	p, err := h.composer.Create(ctx, doctorID, req.PatientID, req.Fields)
	if err != nil {
		span.RecordError(err)
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", p.ID))

	h.logger.Info("prescription stored",
		zap.String("id", p.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Bool("deliver_by_sms", req.DeliverBySms),
	)
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.composer.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PDF handles GET /prescriptions/{id}/pdf
func (h *PrescriptionHandler) PDF(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "download_prescription_pdf")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("prescription_id", id))

	p, pt, err := h.composer.Lookup(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pdf, err := h.renderer.Render(prescriptionpdf.Document{Prescription: p, Patient: pt})
	if err != nil {
		span.RecordError(err)
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", prescriptionpdf.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+prescriptionpdf.Filename(p.ID)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// GetEvents handles GET /prescriptions/{id}/events
func (h *PrescriptionHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.composer.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// FHIR handles GET /prescriptions/{id}/fhir. Errors are answered with an
// OperationOutcome, as FHIR clients expect.
func (h *PrescriptionHandler) FHIR(w http.ResponseWriter, r *http.Request) {
	p, pt, err := h.composer.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := apperr.HTTPStatus(err)
		code := "exception"
		if status == http.StatusNotFound {
			code = "not-found"
		} else {
			h.logger.Error("fhir export failed",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(fhir.NewErrorOutcome(code, apperr.PublicMessage(err)))
		return
	}

	w.Header().Set("Content-Type", "application/fhir+json")
	json.NewEncoder(w).Encode(fhir.ExportPrescription(p, pt))
}

// SendSMSRequest is the request body for sending a prescription
type SendSMSRequest struct {
	PrescriptionID string `json:"prescriptionId"`
}

// SendSMSResponse is returned once the gateway accepted the message
type SendSMSResponse struct {
	Success    bool   `json:"success"`
	DeliveryID string `json:"deliveryId"`
	Phone      string `json:"phone"`
}

// SendSMS handles POST /prescriptions/send-sms. The attempt is made once; the
// caller retries.
func (h *PrescriptionHandler) SendSMS(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "send_prescription_sms")
	defer span.End()

	if h.sender == nil {
		jsonError(w, "sms delivery is not configured", http.StatusServiceUnavailable)
		return
	}

	var req SendSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PrescriptionID == "" {
		jsonError(w, "prescriptionId is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", req.PrescriptionID))

	receipt, err := h.sender.Send(ctx, req.PrescriptionID)
	if err != nil {
		span.RecordError(err)
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, SendSMSResponse{
		Success:    true,
		DeliveryID: receipt.DeliveryID,
		Phone:      receipt.Phone,
	})
}
