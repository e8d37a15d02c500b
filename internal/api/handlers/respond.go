package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/api/middleware"
	"github.com/medicare-plus/frontdesk/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError answers with the status of the error's kind. Only the public
// message reaches the client; causes of server-side failures are logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
	}
	jsonError(w, apperr.PublicMessage(err), status)
}
