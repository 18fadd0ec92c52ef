package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lodgic/authd/internal/account"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/web/middleware"
	"github.com/lodgic/authd/internal/web/response"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// UpstreamKey optionally seeds the tenant's vault at signup.
	UpstreamKey string `json:"upstream_key,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
}

// HandleAPIRegister creates an identity and its tenant, optionally
// storing an upstream API key in the vault, then returns a session
// token so the client can proceed without a second round trip.
func (h *Handler) HandleAPIRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorResponse(w,
			apperrors.ValidationError("failed to decode request body", err), h.Logger)
		return
	}

	identity, tenant, err := h.Accounts.Register(ctx, req.Email, req.Password)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	if req.UpstreamKey != "" {
		if err := h.Vault.Put(ctx, tenant.ID, "upstream_api_key", req.UpstreamKey); err != nil {
			h.Logger.ErrorContext(ctx, "failed to store upstream key during registration",
				"error", err, "tenant_id", tenant.ID)
			response.ErrorResponse(w,
				apperrors.InternalError("failed to store upstream key", err), h.Logger)
			return
		}
	}

	h.Logger.InfoContext(ctx, "tenant registered", "tenant_id", tenant.ID)
	h.writeSession(ctx, w, identity, tenant, http.StatusCreated)
}

// HandleAPILogin verifies credentials and returns a session token.
func (h *Handler) HandleAPILogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorResponse(w,
			apperrors.ValidationError("failed to decode request body", err), h.Logger)
		return
	}

	identity, err := h.Accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	tenant, err := h.Accounts.GetTenantByIdentityID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, account.ErrTenantNotFound) {
			response.ErrorResponse(w, account.ErrInvalidCredentials, h.Logger)
			return
		}
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	h.writeSession(ctx, w, identity, tenant, http.StatusOK)
}

func (h *Handler) writeSession(ctx context.Context, w http.ResponseWriter, identity account.Identity, tenant account.Tenant, status int) {
	accessToken, claims, err := h.Tokens.Mint(identity.ID, tenant.ID, identity.Email, "openid profile email lodgic:api")
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to mint session token", "error", err)
		response.ErrorResponse(w,
			apperrors.InternalError("failed to mint token", err), h.Logger)
		return
	}

	if h.TokenStore != nil {
		if err := h.TokenStore.Record(ctx, claims, ""); err != nil {
			h.Logger.ErrorContext(ctx, "failed to record token", "error", err, "jti", claims.ID)
		}
	}

	response.JSONResponse(w, status, sessionResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Tokens.TTL().Seconds()),
		TenantID:    tenant.ID.String(),
		Email:       identity.Email,
	})
}

// HandleProfile returns the caller's account and its secret flags.
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		response.ErrorResponse(w,
			apperrors.UnauthorizedError("no authenticated principal", nil), h.Logger)
		return
	}

	tenant, err := h.Accounts.GetTenantByIdentityID(ctx, principal.IdentityID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	infos, err := h.Vault.List(ctx, principal.TenantID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	secrets := make(map[string]bool, len(infos))
	for _, info := range infos {
		secrets[info.SecretName] = true
	}

	response.SuccessResponse(w, map[string]any{
		"identity_id":        principal.IdentityID.String(),
		"email":              principal.Email,
		"tenant_id":          tenant.ID.String(),
		"display_name":       tenant.DisplayName,
		"secrets_configured": secrets,
	})
}
