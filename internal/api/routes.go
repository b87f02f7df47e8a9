// Route registration for the prediction gateway.
package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// RegisterRoutes registers all gateway routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/predict", h.Predict)
	mux.HandleFunc("POST /v1/predict/batch", h.BatchPredict)
	mux.HandleFunc("POST /v1/enqueue", h.Enqueue)
	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /health", h.Health)
}
