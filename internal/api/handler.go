// Package api provides HTTP handlers for the prediction gateway.
// The handlers wrap matchkit.Engine so Gateway mode shares the exact code
// path Library mode uses.
package api //nolint:revive // package name is intentional

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	matchkit "github.com/matchkit/matchkit"
	"github.com/matchkit/matchkit/pkg/inferr"
	"github.com/matchkit/matchkit/pkg/types"
)

// DefaultMaxBodySize caps request bodies at 1 MiB.
const DefaultMaxBodySize = 1 << 20

// Handler serves prediction requests over HTTP using a matchkit.Engine.
type Handler struct {
	engine      *matchkit.Engine
	logger      *slog.Logger
	maxBodySize int64
}

// HandlerConfig contains configuration for Handler.
type HandlerConfig struct {
	MaxBodySize int64 // maximum request body size in bytes
}

// NewHandler creates a gateway handler around an engine.
func NewHandler(engine *matchkit.Engine, logger *slog.Logger, cfg *HandlerConfig) *Handler {
	maxBodySize := int64(DefaultMaxBodySize)
	if cfg != nil && cfg.MaxBodySize > 0 {
		maxBodySize = cfg.MaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:      engine,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Predict handles POST /v1/predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req types.InferenceRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	resp, err := h.engine.Predict(r.Context(), &req)
	if err != nil {
		h.logger.Error("prediction failed", "request_id", req.RequestID, "error", err)
		h.writeError(w, req.RequestID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// BatchPredictRequest is the request body for POST /v1/predict/batch.
type BatchPredictRequest struct {
	Requests []*types.InferenceRequest `json:"requests"`
}

// BatchPredictResponse is the response body for POST /v1/predict/batch.
type BatchPredictResponse struct {
	Responses []*types.InferenceResponse `json:"responses"`
}

// BatchPredict handles POST /v1/predict/batch requests.
func (h *Handler) BatchPredict(w http.ResponseWriter, r *http.Request) {
	var req BatchPredictRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if len(req.Requests) == 0 {
		h.writeError(w, "", inferr.NewValidationError("requests is required"))
		return
	}

	responses, err := h.engine.BatchPredict(r.Context(), req.Requests)
	if err != nil {
		h.logger.Error("batch prediction canceled", "size", len(req.Requests), "error", err)
		h.writeError(w, "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, BatchPredictResponse{Responses: responses})
}

// EnqueueResponse is the response body for POST /v1/enqueue.
type EnqueueResponse struct {
	RequestID string `json:"request_id"`
	Queued    bool   `json:"queued"`
}

// Enqueue handles POST /v1/enqueue requests.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req types.InferenceRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	if err := h.engine.Enqueue(&req); err != nil {
		h.writeError(w, req.RequestID, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{RequestID: req.RequestID, Queued: true})
}

// Health handles GET /health requests. A degraded engine answers 503 with
// the same payload so operators see why.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Health(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

// Stats handles GET /v1/stats requests.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, snap)
}

// readJSON decodes a size-limited JSON body into dst. On failure it writes
// the error response and returns false.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	limitedReader := io.LimitReader(r.Body, h.maxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		h.writeError(w, "", inferr.NewValidationError("failed to read request body"))
		return false
	}
	defer func() { _ = r.Body.Close() }()

	if int64(len(body)) > h.maxBodySize {
		h.writeError(w, "", inferr.NewValidationError("request body too large"))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.writeError(w, "", inferr.NewValidationError("invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, requestID string, err error) {
	engineErr := inferr.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(engineErr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Message:   engineErr.Message,
		Type:      engineErr.Type,
		RequestID: requestID,
	}})
}
