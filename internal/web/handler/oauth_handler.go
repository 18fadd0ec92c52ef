package handler

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/account"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/oauth"
	"github.com/lodgic/authd/internal/web/response"
)

//go:embed templates/login.html
var templateFS embed.FS

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

type loginPageData struct {
	ClientName          string
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Error               string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// HandleAuthorize serves the authorization endpoint. GET validates the
// request and renders the credential form; POST processes the submitted
// credentials and redirects back to the client with a code.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleAuthorizeGet(w, r)
	case http.MethodPost:
		h.handleAuthorizePost(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type authorizeRequest struct {
	client              oauth.Client
	redirectURI         string
	responseType        string
	scope               string
	state               string
	codeChallenge       string
	codeChallengeMethod string
}

// validateAuthorizeRequest runs the hard checks shared by GET and POST.
// Failures that cannot safely redirect (unknown client, unregistered
// redirect URI) surface as a direct 400; the rest go back to the client
// via the redirect URI per the protocol.
func (h *Handler) validateAuthorizeRequest(r *http.Request, get func(string) string) (authorizeRequest, error) {
	ctx := r.Context()

	req := authorizeRequest{
		redirectURI:         get("redirect_uri"),
		responseType:        get("response_type"),
		scope:               get("scope"),
		state:               get("state"),
		codeChallenge:       get("code_challenge"),
		codeChallengeMethod: get("code_challenge_method"),
	}
	clientID := get("client_id")

	if clientID == "" || req.redirectURI == "" {
		return req, apperrors.InvalidRequestError("client_id and redirect_uri are required", nil)
	}

	client, err := h.Clients.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, oauth.ErrClientNotFound) {
			return req, apperrors.InvalidClientError("unknown client", nil)
		}
		return req, apperrors.InternalError("failed to resolve client", err)
	}
	req.client = client

	if !client.AllowsRedirectURI(req.redirectURI) {
		return req, apperrors.InvalidRequestError("redirect_uri is not registered for this client", nil)
	}

	return req, nil
}

func (h *Handler) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	req, err := h.validateAuthorizeRequest(r, query.Get)
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	if req.responseType != "code" {
		h.redirectError(w, req, "unsupported_response_type")
		return
	}

	// PKCE is mandatory; an authorization request without a challenge
	// is rejected before any credentials are collected.
	if err := oauth.ValidateCodeChallenge(req.codeChallenge, req.codeChallengeMethod); err != nil {
		h.Logger.WarnContext(ctx, "authorization request without valid PKCE challenge", "error", err)
		h.redirectError(w, req, "invalid_request")
		return
	}

	h.renderLogin(w, req, "")
}

func (h *Handler) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		response.OAuthErrorResponse(w,
			apperrors.InvalidRequestError("failed to parse form", err), h.Logger)
		return
	}

	req, err := h.validateAuthorizeRequest(r, r.PostFormValue)
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	if req.responseType != "code" {
		h.redirectError(w, req, "unsupported_response_type")
		return
	}
	if err := oauth.ValidateCodeChallenge(req.codeChallenge, req.codeChallengeMethod); err != nil {
		h.redirectError(w, req, "invalid_request")
		return
	}

	if r.PostFormValue("action") == "deny" {
		h.redirectError(w, req, "access_denied")
		return
	}

	var identityID uuid.UUID
	if assertion := r.PostFormValue("assertion"); assertion != "" && h.Dispatcher != nil {
		// Federated sign-in: the client forwards an upstream token
		// instead of credentials. Full verification happens inside
		// the dispatcher.
		principal, err := h.Dispatcher.Authenticate(ctx, assertion)
		if err != nil {
			h.renderLogin(w, req, "Sign-in assertion was rejected.")
			return
		}
		identityID = principal.IdentityID
	} else {
		email := r.PostFormValue("email")
		password := r.PostFormValue("password")

		identity, err := h.Accounts.Authenticate(ctx, email, password)
		if err != nil {
			if errors.Is(err, account.ErrInvalidCredentials) {
				h.renderLogin(w, req, "Invalid email or password.")
				return
			}
			h.Logger.ErrorContext(ctx, "authentication failed", "error", err)
			h.redirectError(w, req, "server_error")
			return
		}
		identityID = identity.ID
	}

	code, err := h.Codes.Issue(ctx, req.client.ClientID, identityID,
		req.redirectURI, req.scope, req.codeChallenge, req.codeChallengeMethod)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to issue authorization code", "error", err)
		h.redirectError(w, req, "server_error")
		return
	}

	redirect := req.redirectURI + "?code=" + url.QueryEscape(code)
	if req.state != "" {
		redirect += "&state=" + url.QueryEscape(req.state)
	}
	response.Redirect(w, http.StatusFound, redirect)
}

func (h *Handler) renderLogin(w http.ResponseWriter, req authorizeRequest, errorMessage string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if errorMessage != "" {
		w.WriteHeader(http.StatusUnauthorized)
	}
	err := loginTemplate.Execute(w, loginPageData{
		ClientName:          req.client.ClientName,
		ClientID:            req.client.ClientID,
		RedirectURI:         req.redirectURI,
		ResponseType:        req.responseType,
		Scope:               req.scope,
		State:               req.state,
		CodeChallenge:       req.codeChallenge,
		CodeChallengeMethod: req.codeChallengeMethod,
		Error:               errorMessage,
	})
	if err != nil {
		h.Logger.Error("failed to render login page", "error", err)
	}
}

func (h *Handler) redirectError(w http.ResponseWriter, req authorizeRequest, code string) {
	redirect := req.redirectURI + "?error=" + url.QueryEscape(code)
	if req.state != "" {
		redirect += "&state=" + url.QueryEscape(req.state)
	}
	response.Redirect(w, http.StatusFound, redirect)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
}

// HandleToken serves the token endpoint. Only the authorization_code
// grant is supported. The body may be form-encoded or JSON; client
// credentials may arrive as a Basic header or body fields.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.OAuthErrorResponse(w,
				apperrors.InvalidRequestError("failed to decode request body", err), h.Logger)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			response.OAuthErrorResponse(w,
				apperrors.InvalidRequestError("failed to parse form", err), h.Logger)
			return
		}
		req = tokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			CodeVerifier: r.PostFormValue("code_verifier"),
		}
	}

	clientID := req.ClientID
	clientSecret := req.ClientSecret

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if after, ok := strings.CutPrefix(authHeader, "Basic "); ok {
			credentials, err := base64.StdEncoding.DecodeString(after)
			if err != nil {
				response.OAuthErrorResponse(w,
					apperrors.InvalidRequestError("failed to decode authorization header", err), h.Logger)
				return
			}
			id, secret, found := strings.Cut(string(credentials), ":")
			if !found {
				response.OAuthErrorResponse(w,
					apperrors.InvalidClientError("client authentication failed", nil), h.Logger)
				return
			}
			// URL-decode per RFC 6749 section 2.3.1.
			if decoded, err := url.QueryUnescape(id); err == nil {
				id = decoded
			}
			if decoded, err := url.QueryUnescape(secret); err == nil {
				secret = decoded
			}
			clientID, clientSecret = id, secret
		}
	}

	if req.GrantType != "authorization_code" {
		response.OAuthErrorResponse(w,
			apperrors.UnsupportedGrantTypeError("only authorization_code is supported", nil), h.Logger)
		return
	}

	code := req.Code
	redirectURI := req.RedirectURI
	codeVerifier := req.CodeVerifier

	if clientID == "" || code == "" || redirectURI == "" || codeVerifier == "" {
		response.OAuthErrorResponse(w,
			apperrors.InvalidRequestError("code, redirect_uri, client_id and code_verifier are required", nil), h.Logger)
		return
	}

	client, err := h.Registrar.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	grant, err := h.Codes.Redeem(ctx, code, client.ClientID, redirectURI, codeVerifier)
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	identity, err := h.Accounts.GetIdentityByID(ctx, grant.IdentityID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to load identity for grant", "error", err)
		response.OAuthErrorResponse(w, apperrors.InternalError("failed to resolve identity", err), h.Logger)
		return
	}
	tenant, err := h.Accounts.GetTenantByIdentityID(ctx, identity.ID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to load tenant for grant", "error", err)
		response.OAuthErrorResponse(w, apperrors.InternalError("failed to resolve tenant", err), h.Logger)
		return
	}

	accessToken, claims, err := h.Tokens.Mint(identity.ID, tenant.ID, identity.Email, grant.Scope)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to mint access token", "error", err)
		response.OAuthErrorResponse(w, apperrors.InternalError("failed to mint token", err), h.Logger)
		return
	}

	if h.TokenStore != nil {
		if err := h.TokenStore.Record(ctx, claims, client.ClientID); err != nil {
			// Bookkeeping is best effort; the token is already signed.
			h.Logger.ErrorContext(ctx, "failed to record token", "error", err, "jti", claims.ID)
		}
	}

	response.JSONResponse(w, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Tokens.TTL().Seconds()),
		Scope:       grant.Scope,
	})
}
