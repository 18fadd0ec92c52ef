package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/database"
)

// Store keeps per-token bookkeeping rows keyed by jti. Verification is
// stateless and never consults this table; the records exist for audit
// and for an operator-driven revocation sweep.
type Store struct {
	DB database.Querier
}

func NewStore(db database.Querier) *Store {
	return &Store{DB: db}
}

// Record writes the bookkeeping row for a freshly minted token.
func (s *Store) Record(ctx context.Context, claims Claims, clientID string) error {
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return fmt.Errorf("failed to parse token ID: %w", err)
	}
	identityID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to parse token subject: %w", err)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return fmt.Errorf("failed to parse token tenant: %w", err)
	}

	var storedClientID any
	if clientID != "" {
		storedClientID = clientID
	}

	_, err = s.DB.Exec(ctx,
		`INSERT INTO tbl_access_token (jti, client_id, identity_id, tenant_id, scope, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		jti, storedClientID, identityID, tenantID, claims.Scope,
		claims.IssuedAt.Time, claims.ExpiresAt.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to record token: %w", err)
	}
	return nil
}

// Revoke stamps the bookkeeping row. It reports whether a live row was
// hit so operators can tell a repeat revocation from a typo.
func (s *Store) Revoke(ctx context.Context, jti uuid.UUID) (bool, error) {
	tag, err := s.DB.Exec(ctx,
		`UPDATE tbl_access_token SET revoked_at = now() WHERE jti = $1 AND revoked_at IS NULL`,
		jti,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeExpired drops bookkeeping rows whose tokens can no longer verify.
func (s *Store) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM tbl_access_token WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
