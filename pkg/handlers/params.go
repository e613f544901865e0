package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseUUIDPathValue parses the named path value as a UUID, writing a 400
// response and returning false when it is missing or malformed.
func ParseUUIDPathValue(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Debug("Invalid UUID path value",
			zap.String("name", name),
			zap.String("value", raw))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "invalid "+name); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
