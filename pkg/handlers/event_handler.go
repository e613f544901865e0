package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/services"
)

// TrackEventRequest for POST /api/persons/{pid}/events.
type TrackEventRequest struct {
	EventName  string          `json:"event_name"`
	Properties json.RawMessage `json:"properties,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// EventHandler handles behavioral event ingestion and feature recomputation.
type EventHandler struct {
	featureService services.FeatureService
	featureMaxAge  time.Duration
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler. featureMaxAge bounds how stale
// a feature snapshot may be before a read recomputes it first.
func NewEventHandler(featureService services.FeatureService, featureMaxAge time.Duration, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		featureService: featureService,
		featureMaxAge:  featureMaxAge,
		logger:         logger,
	}
}

// RegisterRoutes registers the event handler's routes on the given mux.
func (h *EventHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/persons/{pid}/events", h.Track)
	mux.HandleFunc("POST /api/persons/{pid}/features/recompute", h.Recompute)
	mux.HandleFunc("GET /api/persons/{pid}/features", h.Features)
}

// Track handles POST /api/persons/{pid}/events
func (h *EventHandler) Track(w http.ResponseWriter, r *http.Request) {
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	var req TrackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.EventName == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "event_name is required")
		return
	}

	occurredAt := time.Now()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	event, err := h.featureService.TrackEvent(r.Context(), personID, req.EventName, req.Properties, occurredAt)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "person not found")
			return
		}
		h.logger.Error("Event tracking failed",
			zap.String("person_id", personID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "track_failed", "event tracking failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, event); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Recompute handles POST /api/persons/{pid}/features/recompute
func (h *EventHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	features, err := h.featureService.ComputeAndStorePersonFeatures(r.Context(), personID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "person not found")
			return
		}
		h.logger.Error("Feature recomputation failed",
			zap.String("person_id", personID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "recompute_failed", "feature recomputation failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, features); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Features handles GET /api/persons/{pid}/features
func (h *EventHandler) Features(w http.ResponseWriter, r *http.Request) {
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	features, err := h.featureService.GetFeatures(r.Context(), personID, h.featureMaxAge)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "person not found")
			return
		}
		h.logger.Error("Feature lookup failed",
			zap.String("person_id", personID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "features_failed", "feature lookup failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, features); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EventHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
