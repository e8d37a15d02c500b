package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
)

// PatientHandler serves a patient's prescription history
type PatientHandler struct {
	composer *prescription.Composer
	logger   *zap.Logger
}

// NewPatientHandler creates a new handler
func NewPatientHandler(composer *prescription.Composer, logger *zap.Logger) *PatientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientHandler{composer: composer, logger: logger}
}

// Routes returns the handler routes
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/prescriptions", h.Prescriptions)
	r.Get("/{id}/history", h.History)
	return r
}

// Prescriptions handles GET /patients/{id}/prescriptions
func (h *PatientHandler) Prescriptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.composer.ListForPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HistoryResponse is a patient with its prescriptions, newest first
type HistoryResponse struct {
	Patient       *patient.Patient             `json:"patient"`
	Prescriptions []*prescription.Prescription `json:"prescriptions"`
}

// History handles GET /patients/{id}/history
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	pt, list, err := h.composer.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Patient: pt, Prescriptions: list})
}
