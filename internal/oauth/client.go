package oauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lodgic/authd/internal/database"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/random"
)

const (
	AuthMethodNone       = "none"
	AuthMethodSecretPost = "client_secret_post"

	defaultScope = "openid profile email lodgic:api"
)

var ErrClientNotFound = apperrors.NotFoundError("client not found", nil)

// Client is a registered consumer of the authorization server. Public
// clients authenticate with PKCE alone and never hold a secret.
type Client struct {
	ClientID                string
	ClientSecret            string
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// AllowsRedirectURI checks the exact-match membership of a redirect URI
// in the client's registered set.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ClientService registers and resolves OAuth clients.
type ClientService struct {
	DB database.Querier
}

func NewClientService(db database.Querier) *ClientService {
	return &ClientService{DB: db}
}

// RegistrationRequest carries the subset of RFC 7591 metadata the server
// accepts at the registration endpoint.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// Register creates a client from registration metadata. Unspecified
// fields fall back to the authorization-code defaults. Only confidential
// clients receive a generated secret.
func (s *ClientService) Register(ctx context.Context, req RegistrationRequest) (Client, error) {
	name := strings.TrimSpace(req.ClientName)
	if name == "" {
		return Client{}, apperrors.InvalidClientMetadataError("client_name is required", nil)
	}

	redirectURIs := make([]string, 0, len(req.RedirectURIs))
	for _, uri := range req.RedirectURIs {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
			return Client{}, apperrors.InvalidRedirectURIError("redirect_uris must be http or https URLs", nil)
		}
		redirectURIs = append(redirectURIs, uri)
	}
	if len(redirectURIs) == 0 {
		return Client{}, apperrors.InvalidRedirectURIError("at least one redirect_uri is required", nil)
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodNone
	}
	if authMethod != AuthMethodNone && authMethod != AuthMethodSecretPost && authMethod != "client_secret_basic" {
		return Client{}, apperrors.InvalidClientMetadataError("unsupported token_endpoint_auth_method", nil)
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	scope := req.Scope
	if scope == "" {
		scope = defaultScope
	}

	clientID, err := random.URLSafeString(24)
	if err != nil {
		return Client{}, fmt.Errorf("failed to generate client ID: %w", err)
	}

	client := Client{
		ClientID:                clientID,
		ClientName:              name,
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   scope,
		TokenEndpointAuthMethod: authMethod,
	}

	if authMethod != AuthMethodNone {
		secret, err := random.URLSafeString(32)
		if err != nil {
			return Client{}, fmt.Errorf("failed to generate client secret: %w", err)
		}
		client.ClientSecret = secret
	}

	var storedSecret any
	if client.ClientSecret != "" {
		storedSecret = client.ClientSecret
	}

	err = s.DB.QueryRow(ctx,
		`INSERT INTO tbl_oauth_client
		   (client_id, client_secret, client_name, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		client.ClientID, storedSecret, client.ClientName, client.RedirectURIs,
		client.GrantTypes, client.ResponseTypes, client.Scope, client.TokenEndpointAuthMethod,
	).Scan(&client.CreatedAt)
	if err != nil {
		return Client{}, fmt.Errorf("failed to save client: %w", err)
	}

	return client, nil
}

// GetByClientID loads a client by its public identifier.
func (s *ClientService) GetByClientID(ctx context.Context, clientID string) (Client, error) {
	var client Client
	var secret *string

	err := s.DB.QueryRow(ctx,
		`SELECT client_id, client_secret, client_name, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, created_at
		 FROM tbl_oauth_client WHERE client_id = $1`,
		clientID,
	).Scan(
		&client.ClientID,
		&secret,
		&client.ClientName,
		&client.RedirectURIs,
		&client.GrantTypes,
		&client.ResponseTypes,
		&client.Scope,
		&client.TokenEndpointAuthMethod,
		&client.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, fmt.Errorf("failed to get client: %w", err)
	}

	if secret != nil {
		client.ClientSecret = *secret
	}
	return client, nil
}

// Authenticate checks client credentials at the token endpoint. Public
// clients pass with an empty secret; confidential clients must present
// their stored secret.
func (s *ClientService) Authenticate(ctx context.Context, clientID, clientSecret string) (Client, error) {
	client, err := s.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return Client{}, apperrors.InvalidClientError("client authentication failed", nil)
		}
		return Client{}, err
	}

	if client.IsPublic() {
		if clientSecret != "" {
			return Client{}, apperrors.InvalidClientError("client authentication failed", nil)
		}
		return client, nil
	}

	if clientSecret == "" || clientSecret != client.ClientSecret {
		return Client{}, apperrors.InvalidClientError("client authentication failed", nil)
	}
	return client, nil
}
