package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/rules"
	"github.com/inkwell-hq/audience-engine/pkg/services"
)

// SegmentListResponse for GET /api/segments
type SegmentListResponse struct {
	Segments []*models.Segment `json:"segments"`
	Total    int               `json:"total"`
}

// UpsertSegmentRequest for POST /api/segments and PUT /api/segments/{sid}
type UpsertSegmentRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Rules        rules.Node      `json:"rules"`
	Enabled      bool            `json:"enabled"`
	ActionType   string          `json:"action_type,omitempty"`
	ActionConfig json.RawMessage `json:"action_config,omitempty"`
}

// SegmentMembersResponse for GET /api/segments/{sid}/members
type SegmentMembersResponse struct {
	Members []*models.SegmentMember `json:"members"`
	Total   int                     `json:"total"`
}

// EvaluateResponse for POST /api/segments/{sid}/persons/{pid}/evaluate
type EvaluateResponse struct {
	Matches    bool                       `json:"matches"`
	Membership *services.MembershipChange `json:"membership"`
	Automation *services.AutomationResult `json:"automation,omitempty"`
}

// SegmentHandler handles segment administration and evaluation requests.
type SegmentHandler struct {
	segmentService    services.SegmentService
	evaluationService services.EvaluationService
	logger            *zap.Logger
}

// NewSegmentHandler creates a new segment handler.
func NewSegmentHandler(
	segmentService services.SegmentService,
	evaluationService services.EvaluationService,
	logger *zap.Logger,
) *SegmentHandler {
	return &SegmentHandler{
		segmentService:    segmentService,
		evaluationService: evaluationService,
		logger:            logger,
	}
}

// RegisterRoutes registers the segment handler's routes on the given mux.
func (h *SegmentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/segments", h.List)
	mux.HandleFunc("POST /api/segments", h.Create)
	mux.HandleFunc("GET /api/segments/{sid}", h.Get)
	mux.HandleFunc("PUT /api/segments/{sid}", h.Update)
	mux.HandleFunc("DELETE /api/segments/{sid}", h.Delete)
	mux.HandleFunc("GET /api/segments/{sid}/members", h.Members)
	mux.HandleFunc("POST /api/segments/{sid}/evaluate", h.EvaluateAll)
	mux.HandleFunc("POST /api/segments/{sid}/persons/{pid}/evaluate", h.EvaluatePerson)
	mux.HandleFunc("GET /api/persons/{pid}/memberships", h.MembershipHistory)
}

// List handles GET /api/segments
func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	segments, err := h.segmentService.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list segments", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_segments_failed", "failed to list segments")
		return
	}

	response := SegmentListResponse{Segments: segments, Total: len(segments)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/segments
func (h *SegmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req UpsertSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	segment := &models.Segment{
		Name:         req.Name,
		Description:  req.Description,
		Rules:        req.Rules,
		Enabled:      req.Enabled,
		ActionType:   req.ActionType,
		ActionConfig: req.ActionConfig,
	}

	if err := h.segmentService.Create(r.Context(), segment); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrConflict):
			h.writeError(w, http.StatusConflict, "segment_exists", "a segment with that name already exists")
		case errors.Is(err, apperrors.ErrInvalidRules):
			h.writeError(w, http.StatusBadRequest, "invalid_rules", err.Error())
		default:
			h.logger.Error("Failed to create segment", zap.Error(err))
			h.writeError(w, http.StatusBadRequest, "create_segment_failed", err.Error())
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, segment); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/segments/{sid}
func (h *SegmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}

	segment, err := h.segmentService.Get(r.Context(), segmentID)
	if err != nil {
		h.logger.Error("Failed to get segment", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "get_segment_failed", "failed to get segment")
		return
	}
	if segment == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "segment not found")
		return
	}

	if err := WriteJSON(w, http.StatusOK, segment); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/segments/{sid}
func (h *SegmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}

	var req UpsertSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	segment := &models.Segment{
		ID:           segmentID,
		Name:         req.Name,
		Description:  req.Description,
		Rules:        req.Rules,
		Enabled:      req.Enabled,
		ActionType:   req.ActionType,
		ActionConfig: req.ActionConfig,
	}

	if err := h.segmentService.Update(r.Context(), segment); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "segment not found")
		case errors.Is(err, apperrors.ErrInvalidRules):
			h.writeError(w, http.StatusBadRequest, "invalid_rules", err.Error())
		default:
			h.logger.Error("Failed to update segment", zap.Error(err))
			h.writeError(w, http.StatusBadRequest, "update_segment_failed", err.Error())
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, segment); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/segments/{sid}
func (h *SegmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}

	if err := h.segmentService.Delete(r.Context(), segmentID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "segment not found")
			return
		}
		h.logger.Error("Failed to delete segment", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "delete_segment_failed", "failed to delete segment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Members handles GET /api/segments/{sid}/members
func (h *SegmentHandler) Members(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}

	members, err := h.segmentService.GetMembers(r.Context(), segmentID)
	if err != nil {
		h.logger.Error("Failed to list segment members", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_members_failed", "failed to list members")
		return
	}

	response := SegmentMembersResponse{Members: members, Total: len(members)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// EvaluateAll handles POST /api/segments/{sid}/evaluate
func (h *SegmentHandler) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}

	result, err := h.evaluationService.EvaluateSegmentForAllPersons(r.Context(), segmentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "segment not found")
			return
		}
		h.logger.Error("Segment sweep failed",
			zap.String("segment_id", segmentID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sweep_failed", "segment evaluation failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// EvaluatePerson handles POST /api/segments/{sid}/persons/{pid}/evaluate
// Reconciles one Person's membership and, when they just joined a segment
// with an automation configured, dispatches it.
func (h *SegmentHandler) EvaluatePerson(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := ParseUUIDPathValue(w, r, "sid", h.logger)
	if !ok {
		return
	}
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	change, err := h.evaluationService.UpdateSegmentMembership(r.Context(), personID, segmentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "person or segment not found")
			return
		}
		h.logger.Error("Membership update failed",
			zap.String("person_id", personID.String()),
			zap.String("segment_id", segmentID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "evaluate_failed", "membership evaluation failed")
		return
	}

	response := EvaluateResponse{Matches: change.IsMember, Membership: change}
	if change.Action == services.MembershipAdded {
		response.Automation = h.evaluationService.TriggerSegmentAutomation(r.Context(), personID, segmentID)
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// MembershipHistory handles GET /api/persons/{pid}/memberships
func (h *SegmentHandler) MembershipHistory(w http.ResponseWriter, r *http.Request) {
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	members, err := h.segmentService.GetMembershipHistory(r.Context(), personID)
	if err != nil {
		h.logger.Error("Failed to get membership history", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "history_failed", "failed to get membership history")
		return
	}

	response := SegmentMembersResponse{Members: members, Total: len(members)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SegmentHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
