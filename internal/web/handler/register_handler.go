package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/oauth"
	"github.com/lodgic/authd/internal/web/response"
)

type clientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// HandleRegisterClient serves dynamic client registration. The response
// carries a client_secret only for confidential clients; a public
// client never sees one because none exists.
func (h *Handler) HandleRegisterClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req oauth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.OAuthErrorResponse(w,
			apperrors.InvalidRequestError("failed to decode registration request", err), h.Logger)
		return
	}

	client, err := h.Registrar.Register(ctx, req)
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	h.Logger.InfoContext(ctx, "client registered",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"auth_method", client.TokenEndpointAuthMethod,
	)

	response.JSONResponse(w, http.StatusCreated, clientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            client.ClientSecret,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}
