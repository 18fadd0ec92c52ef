package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/database"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/random"
)

// codeByteLength yields 256 bits of entropy per authorization code.
const codeByteLength = 32

// AuthorizationCode is the ephemeral grant binding a client, an
// identity, a redirect URI and a PKCE challenge.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	IdentityID          uuid.UUID
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Used                bool
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Grant is what a successful redemption yields.
type Grant struct {
	IdentityID uuid.UUID
	Scope      string
}

// CodeStore issues and redeems single-use authorization codes. The
// redeem-once guarantee rests on a conditional UPDATE of the used flag,
// so it holds across processes sharing the database.
type CodeStore struct {
	DB  database.Querier
	TTL time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

func NewCodeStore(db database.Querier, ttl time.Duration) *CodeStore {
	return &CodeStore{DB: db, TTL: ttl, now: time.Now}
}

// Issue persists a fresh unused code for the given grant parameters.
func (s *CodeStore) Issue(ctx context.Context, clientID string, identityID uuid.UUID, redirectURI, scope, codeChallenge, codeChallengeMethod string) (string, error) {
	code, err := random.URLSafeString(codeByteLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := s.now()
	_, err = s.DB.Exec(ctx,
		`INSERT INTO tbl_auth_code
		   (code, client_id, identity_id, redirect_uri, scope, code_challenge, code_challenge_method, used, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)`,
		code, clientID, identityID, redirectURI, scope, codeChallenge, codeChallengeMethod, now, now.Add(s.TTL),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}
	return code, nil
}

// Redeem validates and consumes an authorization code. Checks run in a
// fixed order: existence, used flag, expiry, client match, redirect URI
// match, PKCE verification. Every rejection maps to invalid_grant on
// the wire; the cause stays in server logs only. The used flag is
// flipped with a conditional UPDATE before success is reported, so two
// concurrent redemptions of the same code cannot both win.
func (s *CodeStore) Redeem(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (Grant, error) {
	var ac AuthorizationCode
	err := s.DB.QueryRow(ctx,
		`SELECT code, client_id, identity_id, redirect_uri, scope, code_challenge, code_challenge_method, used, created_at, expires_at
		 FROM tbl_auth_code WHERE code = $1`,
		code,
	).Scan(
		&ac.Code, &ac.ClientID, &ac.IdentityID, &ac.RedirectURI, &ac.Scope,
		&ac.CodeChallenge, &ac.CodeChallengeMethod, &ac.Used, &ac.CreatedAt, &ac.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
		}
		return Grant{}, fmt.Errorf("failed to look up authorization code: %w", err)
	}

	if ac.Used {
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
	}

	if s.now().After(ac.ExpiresAt) {
		// Expired codes are purged on sight.
		if _, err := s.DB.Exec(ctx, `DELETE FROM tbl_auth_code WHERE code = $1`, code); err != nil {
			return Grant{}, fmt.Errorf("failed to purge expired authorization code: %w", err)
		}
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
	}

	if ac.ClientID != clientID {
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
	}

	if ac.RedirectURI != redirectURI {
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
	}

	if err := VerifyCodeChallenge(codeVerifier, ac.CodeChallenge, ac.CodeChallengeMethod); err != nil {
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", err)
	}

	tag, err := s.DB.Exec(ctx,
		`UPDATE tbl_auth_code SET used = TRUE WHERE code = $1 AND NOT used`,
		code,
	)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race against a concurrent redemption.
		return Grant{}, apperrors.InvalidGrantError("authorization code is invalid", nil)
	}

	return Grant{IdentityID: ac.IdentityID, Scope: ac.Scope}, nil
}

// Cleanup deletes codes past their expiry. Run periodically; redemption
// does not depend on it.
func (s *CodeStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM tbl_auth_code WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up authorization codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
