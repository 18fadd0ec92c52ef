package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/database"
	apperrors "github.com/lodgic/authd/internal/errors"
)

var ErrSecretNotFound = apperrors.NotFoundError("secret not found", nil)

// Secret is one stored credential. Ciphertext is never exposed through
// List; callers that need the plaintext go through Get.
type Secret struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	SecretName string
	Ciphertext string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SecretInfo is the metadata view of a secret used by listings.
type SecretInfo struct {
	SecretName string    `json:"secret_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Service stores tenant credentials encrypted at rest. All lookups are
// scoped by tenant ID so one tenant can never read another's entries.
type Service struct {
	DB     database.Querier
	Cipher *Cipher
}

func NewService(db database.Querier, cipher *Cipher) *Service {
	return &Service{DB: db, Cipher: cipher}
}

// Put encrypts and stores a secret. Writing a name that already has an
// active entry replaces that entry's ciphertext in place.
func (s *Service) Put(ctx context.Context, tenantID uuid.UUID, name, plaintext string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.ValidationError("secret name cannot be empty", nil)
	}
	if plaintext == "" {
		return apperrors.ValidationError("secret value cannot be empty", nil)
	}

	ciphertext, err := s.Cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	_, err = s.DB.Exec(ctx,
		`INSERT INTO tbl_secret (tenant_id, secret_name, ciphertext, is_active)
		 VALUES ($1, $2, $3, TRUE)
		 ON CONFLICT (tenant_id, secret_name) WHERE is_active
		 DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = now()`,
		tenantID, name, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// Get returns the decrypted value of the active secret with the given
// name. A stored entry that no longer decrypts reports a decryption
// error rather than pretending the secret is absent.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, name string) (string, error) {
	var ciphertext string
	err := s.DB.QueryRow(ctx,
		`SELECT ciphertext FROM tbl_secret
		 WHERE tenant_id = $1 AND secret_name = $2 AND is_active`,
		tenantID, name,
	).Scan(&ciphertext)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to get secret: %w", err)
	}

	return s.Cipher.Decrypt(ciphertext)
}

// Exists reports whether an active secret with the given name is stored,
// without touching the ciphertext.
func (s *Service) Exists(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM tbl_secret
		   WHERE tenant_id = $1 AND secret_name = $2 AND is_active
		 )`,
		tenantID, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check secret: %w", err)
	}
	return exists, nil
}

// List returns metadata for all active secrets of a tenant, newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]SecretInfo, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT secret_name, created_at, updated_at FROM tbl_secret
		 WHERE tenant_id = $1 AND is_active
		 ORDER BY updated_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	infos := make([]SecretInfo, 0)
	for rows.Next() {
		var info SecretInfo
		if err := rows.Scan(&info.SecretName, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	return infos, nil
}

// Revoke deactivates the active secret with the given name. The row is
// kept for audit; it reports whether anything was revoked.
func (s *Service) Revoke(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	tag, err := s.DB.Exec(ctx,
		`UPDATE tbl_secret SET is_active = FALSE, updated_at = now()
		 WHERE tenant_id = $1 AND secret_name = $2 AND is_active`,
		tenantID, name,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke secret: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
