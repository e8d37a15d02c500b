package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/artifact"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
)

// MediaOpener opens a hosted artifact by name
type MediaOpener interface {
	Open(name string) (*os.File, error)
}

// MediaHandler serves artifacts of the local host so the gateway can fetch them
type MediaHandler struct {
	host   MediaOpener
	logger *zap.Logger
}

// NewMediaHandler creates a new handler
func NewMediaHandler(host MediaOpener, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{host: host, logger: logger}
}

// Routes returns the handler routes
func (h *MediaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{name}", h.Serve)
	return r
}

// Serve handles GET /media/{name}
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.host.Open(name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", prescriptionpdf.ContentType)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

var _ MediaOpener = (*artifact.LocalHost)(nil)
