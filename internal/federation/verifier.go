package federation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lodgic/authd/internal/config"
	apperrors "github.com/lodgic/authd/internal/errors"
)

// Claims is the subset of a federated identity token the server cares
// about. The subject becomes the federation binding for JIT
// provisioning.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier validates tokens minted by an external identity provider
// against that provider's published JWKS. Keys refresh in the
// background; a token with an unknown kid is rejected, never trusted.
type Verifier struct {
	issuer   string
	audience string
	jwks     *keyfunc.JWKS
	logger   *slog.Logger
}

// NewVerifier fetches the provider's JWKS and starts the refresh loop.
// Returns nil when federation is not configured; callers treat a nil
// verifier as "no federated issuer trusted".
func NewVerifier(ctx context.Context, cfg config.Federation, logger *slog.Logger) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, nil
	}
	if cfg.Issuer == "" {
		return nil, apperrors.ConfigurationError("federation JWKS URL set without an issuer", nil)
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		Ctx:             ctx,
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
		RefreshErrorHandler: func(err error) {
			logger.Error("federated JWKS refresh failed", "url", cfg.JWKSURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch federated JWKS: %w", err)
	}

	return &Verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		jwks:     jwks,
		logger:   logger,
	}, nil
}

// Issuer reports the trusted external issuer.
func (v *Verifier) Issuer() string {
	return v.issuer
}

// Verify fully validates a federated token: signature against the
// provider's current keys, issuer, audience and time claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...)
	if err != nil || !parsed.Valid {
		return nil, apperrors.InvalidTokenError("federated token verification failed", err)
	}
	if claims.Subject == "" {
		return nil, apperrors.InvalidTokenError("federated token has no subject", nil)
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}
