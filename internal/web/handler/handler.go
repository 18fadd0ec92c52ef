package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/account"
	"github.com/lodgic/authd/internal/config"
	"github.com/lodgic/authd/internal/federation"
	"github.com/lodgic/authd/internal/health"
	"github.com/lodgic/authd/internal/oauth"
	"github.com/lodgic/authd/internal/token"
	"github.com/lodgic/authd/internal/vault"
	"github.com/lodgic/authd/internal/web/middleware"
)

// ClientDirectory resolves and registers OAuth clients. Satisfied by
// the client service directly or by its cached wrapper.
type ClientDirectory interface {
	GetByClientID(ctx context.Context, clientID string) (oauth.Client, error)
}

// ClientRegistrar handles dynamic client registration.
type ClientRegistrar interface {
	Register(ctx context.Context, req oauth.RegistrationRequest) (oauth.Client, error)
	Authenticate(ctx context.Context, clientID, clientSecret string) (oauth.Client, error)
}

// CodeStore issues and redeems authorization codes.
type CodeStore interface {
	Issue(ctx context.Context, clientID string, identityID uuid.UUID, redirectURI, scope, codeChallenge, codeChallengeMethod string) (string, error)
	Redeem(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (oauth.Grant, error)
}

// AccountService covers the identity operations the handlers need.
type AccountService interface {
	Register(ctx context.Context, email, password string) (account.Identity, account.Tenant, error)
	Authenticate(ctx context.Context, email, password string) (account.Identity, error)
	GetIdentityByID(ctx context.Context, id uuid.UUID) (account.Identity, error)
	GetTenantByIdentityID(ctx context.Context, identityID uuid.UUID) (account.Tenant, error)
}

// TokenRecorder keeps the jti bookkeeping rows.
type TokenRecorder interface {
	Record(ctx context.Context, claims token.Claims, clientID string) error
}

// VaultService stores tenant credentials.
type VaultService interface {
	Put(ctx context.Context, tenantID uuid.UUID, name, plaintext string) error
	Get(ctx context.Context, tenantID uuid.UUID, name string) (string, error)
	Exists(ctx context.Context, tenantID uuid.UUID, name string) (bool, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]vault.SecretInfo, error)
	Revoke(ctx context.Context, tenantID uuid.UUID, name string) (bool, error)
}

// Handler wires every HTTP endpoint of the authorization server.
type Handler struct {
	Config     *config.Config
	Logger     *slog.Logger
	Clients    ClientDirectory
	Registrar  ClientRegistrar
	Codes      CodeStore
	Accounts   AccountService
	Tokens     *token.Service
	TokenStore TokenRecorder
	Vault      VaultService
	Dispatcher *federation.Dispatcher
	Checker    *health.Checker

	// Limiter backs the per-route rate limits. Left nil, an in-memory
	// limiter is used; deployments with a shared cache inject a
	// Redis-backed one so limits hold across replicas.
	Limiter middleware.RateLimiter
}

// RegisterRoutes installs all endpoints on the mux, with rate limits
// per route group when enabled.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	secure := middleware.Chain(
		middleware.RequestLogging(h.Logger),
		middleware.SecurityHeaders(),
	)
	public := secure
	protected := middleware.Chain(secure, middleware.BearerAuth(h.Dispatcher, h.Logger))

	if h.Config.RateLimit.Enabled {
		limiter := h.Limiter
		if limiter == nil {
			limiter = middleware.NewInMemoryRateLimiter()
		}

		oauthLimit := middleware.RateLimit{
			Requests: h.Config.RateLimit.OAuthRequests,
			Window:   h.Config.RateLimit.WindowDuration,
			KeyFunc:  middleware.KeyByIP,
		}
		apiLimit := middleware.RateLimit{
			Requests: h.Config.RateLimit.APIRequests,
			Window:   h.Config.RateLimit.WindowDuration,
			KeyFunc:  middleware.KeyByIP,
		}
		publicLimit := middleware.RateLimit{
			Requests: h.Config.RateLimit.PublicRequests,
			Window:   h.Config.RateLimit.WindowDuration,
			KeyFunc:  middleware.KeyByIP,
		}

		secure = middleware.Chain(secure, middleware.RateLimitMiddleware(limiter, oauthLimit))
		public = middleware.Chain(public, middleware.RateLimitMiddleware(limiter, publicLimit))
		protected = middleware.Chain(
			middleware.RequestLogging(h.Logger),
			middleware.SecurityHeaders(),
			middleware.RateLimitMiddleware(limiter, apiLimit),
			middleware.BearerAuth(h.Dispatcher, h.Logger),
		)
	}

	// OAuth protocol surface
	mux.Handle("/oauth/authorize", secure(http.HandlerFunc(h.HandleAuthorize)))
	mux.Handle("/oauth/token", secure(http.HandlerFunc(h.HandleToken)))
	mux.Handle("/oauth/register", secure(http.HandlerFunc(h.HandleRegisterClient)))
	mux.Handle("/oauth/userinfo", protected(http.HandlerFunc(h.HandleUserInfo)))

	// Discovery
	mux.Handle("/.well-known/oauth-authorization-server", public(http.HandlerFunc(h.HandleMetadata)))
	mux.Handle("/.well-known/openid-configuration", public(http.HandlerFunc(h.HandleMetadata)))
	mux.Handle("/.well-known/jwks.json", public(http.HandlerFunc(h.HandleJWKS)))

	// Tenant management API
	mux.Handle("/api/register", secure(http.HandlerFunc(h.HandleAPIRegister)))
	mux.Handle("/api/login", secure(http.HandlerFunc(h.HandleAPILogin)))
	mux.Handle("/api/profile", protected(http.HandlerFunc(h.HandleProfile)))
	mux.Handle("/api/keys", protected(http.HandlerFunc(h.HandleKeys)))
	mux.Handle("/api/keys/", protected(http.HandlerFunc(h.HandleKeyByName)))

	// Operations
	mux.Handle("/health", public(http.HandlerFunc(h.HandleHealth)))
}
