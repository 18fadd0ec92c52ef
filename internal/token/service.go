package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/config"
	apperrors "github.com/lodgic/authd/internal/errors"
)

// Claims is the access-token claim set. Tenant ID and email ride along
// with the registered claims so resource servers can resolve the tenant
// without a second lookup.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JSONWebKey is one entry of the published JWKS document.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSDocument is the body served at the JWKS endpoint.
type JWKSDocument struct {
	Keys []JSONWebKey `json:"keys"`
}

// Service mints and verifies RS256 access tokens. Verification needs
// only the public key, which is also what the JWKS endpoint publishes,
// so resource servers never see signing material.
type Service struct {
	privateKey *rsa.PrivateKey
	keyID      string
	issuer     string
	ttl        time.Duration
	logger     *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewService loads the signing key from configuration. A missing key is
// fatal in production; in development a throwaway key pair is generated
// and its PEM logged so local clients can pin it.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	s := &Service{
		keyID:  cfg.OAuth.SigningKeyID,
		issuer: cfg.GetBaseURL(),
		ttl:    cfg.OAuth.TokenTTL,
		logger: logger,
		now:    time.Now,
	}

	if cfg.OAuth.SigningKeyPEM != "" {
		key, err := parsePrivateKeyPEM([]byte(cfg.OAuth.SigningKeyPEM))
		if err != nil {
			return nil, apperrors.ConfigurationError("failed to parse signing key", err)
		}
		s.privateKey = key
		return s, nil
	}

	if cfg.Server.Environment != config.EnvDevelopment {
		return nil, apperrors.ConfigurationError("no signing key configured", nil)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	s.privateKey = key

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	logger.Warn("generated ephemeral signing key, tokens will not survive a restart",
		"key_id", s.keyID,
		"private_key_pem", string(keyPEM),
	)

	return s, nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing key is not an RSA key")
		}
		return rsaKey, nil
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// Mint signs a fresh access token for the identity. The returned jti
// identifies the token for revocation bookkeeping.
func (s *Service) Mint(identityID, tenantID uuid.UUID, email, scope string) (string, Claims, error) {
	if s.privateKey == nil {
		return "", Claims{}, apperrors.ConfigurationError("no signing key configured", nil)
	}

	now := s.now()
	claims := Claims{
		TenantID: tenantID.String(),
		Email:    email,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jwtToken.Header["kid"] = s.keyID

	signed, err := jwtToken.SignedString(s.privateKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a token against the public key. It
// returns nil for any failure: bad signature, expiry, wrong algorithm
// or a malformed token. Callers never learn which check tripped.
func (s *Service) Verify(tokenString string) *Claims {
	if s.privateKey == nil {
		return nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return &s.privateKey.PublicKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	return claims
}

// TTL reports the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// PublicKey exposes the verification key for federated setups that pin
// keys directly instead of fetching the JWKS document.
func (s *Service) PublicKey() *rsa.PublicKey {
	if s.privateKey == nil {
		return nil
	}
	return &s.privateKey.PublicKey
}

// JWKS renders the public key as a JWKS document. The modulus and
// exponent are base64url encoded without padding, tagged with the
// stable key id clients use to select the key.
func (s *Service) JWKS() JWKSDocument {
	if s.privateKey == nil {
		return JWKSDocument{Keys: []JSONWebKey{}}
	}

	publicKey := &s.privateKey.PublicKey

	eBytes := []byte{
		byte(publicKey.E >> 24),
		byte(publicKey.E >> 16),
		byte(publicKey.E >> 8),
		byte(publicKey.E),
	}
	for len(eBytes) > 1 && eBytes[0] == 0 {
		eBytes = eBytes[1:]
	}

	return JWKSDocument{
		Keys: []JSONWebKey{{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: s.keyID,
			N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(eBytes),
		}},
	}
}
