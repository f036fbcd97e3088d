package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dtroode/identity-server/internal/logger"
	"github.com/dtroode/identity-server/internal/model"
)

// IdentityResolver is the service interface consumed by the HTTP layer.
type IdentityResolver interface {
	Resolve(ctx context.Context, sessionID, email, name string) (model.UserRecord, error)
}

// IdentityHandler is the thin HTTP adapter over the identity resolver.
// Callers mint the session token themselves and supply email/name only
// once they have authenticated the identity.
type IdentityHandler struct {
	resolver IdentityResolver
	logger   *logger.Logger
}

func NewIdentityHandler(resolver IdentityResolver, logger *logger.Logger) *IdentityHandler {
	return &IdentityHandler{
		resolver: resolver,
		logger:   logger,
	}
}

type resolveRequest struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Resolve handles POST /resolve.
func (h *IdentityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	record, err := h.resolver.Resolve(r.Context(), req.SessionID, req.Email, req.Name)
	if err != nil {
		h.logger.Error("Identity handler: resolve failed",
			"session_id", req.SessionID,
			"error", err.Error())
		http.Error(w, "identity could not be established", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		h.logger.Error("Identity handler: failed to encode response",
			"session_id", req.SessionID,
			"error", err.Error())
	}
}
