package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/services"
)

// ResolveIdentityRequest for POST /api/identity/resolve.
// Either an email, an external identity (source + external_id), or both
// must be supplied.
type ResolveIdentityRequest struct {
	Email      string               `json:"email,omitempty"`
	Source     string               `json:"source,omitempty"`
	ExternalID string               `json:"external_id,omitempty"`
	Traits     *models.PersonTraits `json:"traits,omitempty"`
}

// LinkIdentityRequest for POST /api/persons/{pid}/identities.
type LinkIdentityRequest struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
}

// MergePersonsRequest for POST /api/identity/merge.
type MergePersonsRequest struct {
	SourcePersonID string `json:"source_person_id"`
	TargetPersonID string `json:"target_person_id"`
}

// IdentityHandler handles identity resolution HTTP requests.
type IdentityHandler struct {
	identityService services.IdentityService
	logger          *zap.Logger
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(identityService services.IdentityService, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		identityService: identityService,
		logger:          logger,
	}
}

// RegisterRoutes registers the identity handler's routes on the given mux.
func (h *IdentityHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/identity/resolve", h.Resolve)
	mux.HandleFunc("POST /api/identity/merge", h.Merge)
	mux.HandleFunc("GET /api/identity/{source}/{externalId}", h.Find)
	mux.HandleFunc("POST /api/persons/{pid}/identities", h.Link)
}

// Resolve handles POST /api/identity/resolve
func (h *IdentityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var person *models.Person
	var err error
	switch {
	case req.Source != "" && req.ExternalID != "":
		person, err = h.identityService.ResolveOrCreateFromExternalIdentity(r.Context(), req.Source, req.ExternalID, req.Email, req.Traits)
	case req.Email != "":
		person, err = h.identityService.ResolveOrCreateByEmail(r.Context(), req.Email)
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "email or external identity required")
		return
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidIdentity) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("Identity resolution failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "resolve_failed", "identity resolution failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, person); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Find handles GET /api/identity/{source}/{externalId}
func (h *IdentityHandler) Find(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	externalID := r.PathValue("externalId")

	person, err := h.identityService.FindPersonByIdentity(r.Context(), source, externalID)
	if err != nil {
		h.logger.Error("Identity lookup failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "lookup_failed", "identity lookup failed")
		return
	}
	if person == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "identity not linked")
		return
	}

	if err := WriteJSON(w, http.StatusOK, person); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Link handles POST /api/persons/{pid}/identities
func (h *IdentityHandler) Link(w http.ResponseWriter, r *http.Request) {
	personID, ok := ParseUUIDPathValue(w, r, "pid", h.logger)
	if !ok {
		return
	}

	var req LinkIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	link, err := h.identityService.LinkIdentity(r.Context(), personID, req.Source, req.ExternalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "person not found")
			return
		}
		h.logger.Error("Identity link failed",
			zap.String("person_id", personID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "link_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, link); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Merge handles POST /api/identity/merge
func (h *IdentityHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergePersonsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sourceID, err := uuid.Parse(req.SourcePersonID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid source_person_id")
		return
	}
	targetID, err := uuid.Parse(req.TargetPersonID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid target_person_id")
		return
	}

	if err := h.identityService.MergePersons(r.Context(), sourceID, targetID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrSelfMerge):
			h.writeError(w, http.StatusBadRequest, "self_merge", err.Error())
		case errors.Is(err, apperrors.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "person not found")
		default:
			h.logger.Error("Person merge failed",
				zap.String("source_id", sourceID.String()),
				zap.String("target_id", targetID.String()),
				zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "merge_failed", "merge failed")
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "merged"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *IdentityHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
