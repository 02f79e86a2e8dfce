package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

// ModelLister lists realtime-capable models.
type ModelLister interface {
	RealtimeModels(ctx context.Context) ([]string, error)
}

// ModelsHandler handles model discovery.
type ModelsHandler struct {
	catalog ModelLister
	logger  *logger.Logger
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(catalog ModelLister, log *logger.Logger) *ModelsHandler {
	return &ModelsHandler{catalog: catalog, logger: log}
}

// List handles GET /api/v1/models
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	models, err := h.catalog.RealtimeModels(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list models")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{
		"models": models,
	})
}
