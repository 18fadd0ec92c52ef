package handler

import (
	"net/http"

	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/web/middleware"
	"github.com/lodgic/authd/internal/web/response"
)

type userInfoResponse struct {
	Subject   string          `json:"sub"`
	Email     string          `json:"email"`
	TenantID  string          `json:"tenant_id"`
	Federated bool            `json:"federated,omitempty"`
	Secrets   map[string]bool `json:"secrets_configured"`
}

// HandleUserInfo returns the authenticated identity together with
// has-a-value flags for its tenant's stored secrets. Values themselves
// never leave the vault through this endpoint.
func (h *Handler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		response.OAuthErrorResponse(w,
			apperrors.InvalidTokenError("no authenticated principal", nil), h.Logger)
		return
	}

	infos, err := h.Vault.List(ctx, principal.TenantID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to list tenant secrets", "error", err)
		response.OAuthErrorResponse(w,
			apperrors.InternalError("failed to load secret flags", err), h.Logger)
		return
	}

	secrets := make(map[string]bool, len(infos))
	for _, info := range infos {
		secrets[info.SecretName] = true
	}

	response.JSONResponse(w, http.StatusOK, userInfoResponse{
		Subject:   principal.IdentityID.String(),
		Email:     principal.Email,
		TenantID:  principal.TenantID.String(),
		Federated: principal.Federated,
		Secrets:   secrets,
	})
}
