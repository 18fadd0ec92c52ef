package federation

import (
	"context"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/account"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/token"
)

// Principal is the resolved caller of a bearer-authenticated request.
type Principal struct {
	IdentityID uuid.UUID
	TenantID   uuid.UUID
	Email      string
	Scope      string
	// Federated marks principals resolved through an external issuer.
	Federated bool
}

// Dispatcher routes a bearer token to the right verification strategy.
// The issuer claim is read without verifying the signature, used only
// to pick a strategy, and then the token is fully verified under that
// strategy. Nothing else from the unverified parse is ever trusted.
type Dispatcher struct {
	Tokens   *token.Service
	Federate *Verifier
	Accounts *account.Service
	Logger   *slog.Logger
}

func NewDispatcher(tokens *token.Service, federate *Verifier, accounts *account.Service, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{Tokens: tokens, Federate: federate, Accounts: accounts, Logger: logger}
}

var errInvalidBearer = apperrors.InvalidTokenError("token verification failed", nil)

// Authenticate resolves a bearer token to a principal. Local tokens
// carry the tenant in their claims; federated tokens are verified
// against the external issuer and provisioned on first contact.
func (d *Dispatcher) Authenticate(ctx context.Context, tokenString string) (Principal, error) {
	issuer := unverifiedIssuer(tokenString)
	if issuer == "" {
		return Principal{}, errInvalidBearer
	}

	if d.Federate != nil && issuer == d.Federate.Issuer() {
		return d.authenticateFederated(ctx, tokenString)
	}
	return d.authenticateLocal(tokenString)
}

func (d *Dispatcher) authenticateLocal(tokenString string) (Principal, error) {
	claims := d.Tokens.Verify(tokenString)
	if claims == nil {
		return Principal{}, errInvalidBearer
	}

	identityID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, errInvalidBearer
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Principal{}, errInvalidBearer
	}

	return Principal{
		IdentityID: identityID,
		TenantID:   tenantID,
		Email:      claims.Email,
		Scope:      claims.Scope,
	}, nil
}

func (d *Dispatcher) authenticateFederated(ctx context.Context, tokenString string) (Principal, error) {
	claims, err := d.Federate.Verify(tokenString)
	if err != nil {
		d.Logger.DebugContext(ctx, "federated token rejected", "error", err)
		return Principal{}, errInvalidBearer
	}

	identity, tenant, err := d.Accounts.ProvisionFederated(ctx, claims.Subject, claims.Email)
	if err != nil {
		d.Logger.ErrorContext(ctx, "federated provisioning failed", "error", err)
		return Principal{}, apperrors.InternalError("failed to resolve federated identity", err)
	}

	return Principal{
		IdentityID: identity.ID,
		TenantID:   tenant.ID,
		Email:      identity.Email,
		Federated:  true,
	}, nil
}

// unverifiedIssuer extracts the iss claim without validating anything.
// The result selects a strategy and nothing more.
func unverifiedIssuer(tokenString string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	issuer, _ := claims["iss"].(string)
	return issuer
}
