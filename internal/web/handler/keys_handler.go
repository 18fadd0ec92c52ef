package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/vault"
	"github.com/lodgic/authd/internal/web/middleware"
	"github.com/lodgic/authd/internal/web/response"
)

type storeKeyRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HandleKeys serves the vault collection: GET lists metadata, POST or
// PUT stores or replaces a secret.
func (h *Handler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		response.ErrorResponse(w,
			apperrors.UnauthorizedError("no authenticated principal", nil), h.Logger)
		return
	}

	switch r.Method {
	case http.MethodGet:
		infos, err := h.Vault.List(ctx, principal.TenantID)
		if err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}
		response.SuccessResponse(w, map[string]any{"keys": infos})

	case http.MethodPost, http.MethodPut:
		var req storeKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorResponse(w,
				apperrors.ValidationError("failed to decode request body", err), h.Logger)
			return
		}

		if err := h.Vault.Put(ctx, principal.TenantID, req.Name, req.Value); err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}

		h.Logger.InfoContext(ctx, "secret stored",
			"tenant_id", principal.TenantID, "name", req.Name)
		response.JSONResponse(w, http.StatusCreated, response.APIResponse{
			Code:    http.StatusCreated,
			Status:  "success",
			Message: "secret stored",
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleKeyByName serves one secret: GET returns the decrypted value to
// its own tenant, DELETE revokes it.
func (h *Handler) HandleKeyByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		response.ErrorResponse(w,
			apperrors.UnauthorizedError("no authenticated principal", nil), h.Logger)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/keys/")
	if name == "" || strings.Contains(name, "/") {
		response.ErrorResponse(w,
			apperrors.ValidationError("invalid secret name", nil), h.Logger)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := h.Vault.Get(ctx, principal.TenantID, name)
		if err != nil {
			if errors.Is(err, vault.ErrSecretNotFound) {
				response.ErrorResponse(w, vault.ErrSecretNotFound, h.Logger)
				return
			}
			response.ErrorResponse(w, err, h.Logger)
			return
		}
		response.SuccessResponse(w, map[string]string{"name": name, "value": value})

	case http.MethodDelete:
		revoked, err := h.Vault.Revoke(ctx, principal.TenantID, name)
		if err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}
		if !revoked {
			response.ErrorResponse(w, vault.ErrSecretNotFound, h.Logger)
			return
		}

		h.Logger.InfoContext(ctx, "secret revoked",
			"tenant_id", principal.TenantID, "name", name)
		response.SuccessResponse(w, map[string]string{"name": name, "status": "revoked"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
